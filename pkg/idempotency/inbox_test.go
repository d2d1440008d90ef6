package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryColumns = []string{
	"idempotency_key", "handler_name", "status", "payload", "result", "created_at", "updated_at", "expires_at",
}

func TestProcessNewMessage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	payload := json.RawMessage(`{"event_id":"e1"}`)
	result := json.RawMessage(`{"sent":1}`)

	mock.ExpectQuery("FROM inbox").WithArgs("k1").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO inbox").
		WithArgs("k1", "notify", "STARTED", payload, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"idempotency_key"}).AddRow("k1"))
	mock.ExpectExec("UPDATE inbox").
		WithArgs("FINISHED", result, "k1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	inbox := NewInbox(mock, DefaultInboxConfig(), nil)

	calls := 0
	res, err := inbox.Process(context.Background(), "k1", "notify", payload, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		calls++
		return result, nil
	})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessSkipsFinished(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery("FROM inbox").WithArgs("k2").
		WillReturnRows(pgxmock.NewRows(entryColumns).
			AddRow("k2", "notify", "FINISHED", []byte(`{}`), []byte(`{"sent":1}`), now, now, (*time.Time)(nil)))

	inbox := NewInbox(mock, DefaultInboxConfig(), nil)

	res, err := inbox.Process(context.Background(), "k2", "notify", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		t.Fatal("handler must not run for a finished message")
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, res.IsNew)
	assert.JSONEq(t, `{"sent":1}`, string(res.Result))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessInProgress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery("FROM inbox").WithArgs("k3").
		WillReturnRows(pgxmock.NewRows(entryColumns).
			AddRow("k3", "notify", "STARTED", []byte(`{}`), []byte(nil), now, now, (*time.Time)(nil)))

	inbox := NewInbox(mock, DefaultInboxConfig(), nil)
	inbox.now = func() time.Time { return now.Add(time.Minute) }

	_, err = inbox.Process(context.Background(), "k3", "notify", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrMessageInProgress)
}

func TestPermanentFailureMarksFailed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM inbox").WithArgs("k4").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO inbox").
		WithArgs("k4", "notify", "STARTED", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"idempotency_key"}).AddRow("k4"))
	mock.ExpectExec("UPDATE inbox").
		WithArgs("FAILED", pgxmock.AnyArg(), "k4").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	inbox := NewInbox(mock, DefaultInboxConfig(), nil)

	_, err = inbox.Process(context.Background(), "k4", "notify", json.RawMessage(`{}`), func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, Permanent(errors.New("malformed event"))
	})
	assert.ErrorIs(t, err, ErrPermanent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateKeyIsDeterministic(t *testing.T) {
	a := GenerateKey("notify", "e1")
	assert.Equal(t, a, GenerateKey("notify", "e1"))
	assert.NotEqual(t, a, GenerateKey("notify", "e2"))
	assert.Len(t, a, 64)
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
