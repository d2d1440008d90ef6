package user

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/medibook/go-appointments/internal/domain"
)

const clockLayout = "15:04"

// Timeslot is a daily availability window in "HH:MM" form.
type Timeslot struct {
	Start string
	End   string
}

// Timeslots is a doctor's availability list.
type Timeslots []Timeslot

// ParseTimeslots parses the comma-separated "HH:MM-HH:MM" form.
func ParseTimeslots(s string) (Timeslots, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, domain.Errorf(domain.ErrValidation, "available_timeslots must not be empty")
	}

	var out Timeslots
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		start, end, ok := strings.Cut(part, "-")
		if !ok {
			return nil, domain.Errorf(domain.ErrValidation, "invalid timeslot %q: expected HH:MM-HH:MM", part)
		}
		start, end = strings.TrimSpace(start), strings.TrimSpace(end)

		from, err := time.Parse(clockLayout, start)
		if err != nil || len(start) != len(clockLayout) {
			return nil, domain.Errorf(domain.ErrValidation, "invalid timeslot start %q", start)
		}
		to, err := time.Parse(clockLayout, end)
		if err != nil || len(end) != len(clockLayout) {
			return nil, domain.Errorf(domain.ErrValidation, "invalid timeslot end %q", end)
		}
		if !to.After(from) {
			return nil, domain.Errorf(domain.ErrValidation, "timeslot %q ends before it starts", part)
		}

		out = append(out, Timeslot{Start: start, End: end})
	}
	return out, nil
}

// String returns the stored comma-separated form.
func (ts Timeslots) String() string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.Start + "-" + t.End
	}
	return strings.Join(parts, ",")
}

// Offers reports whether the wall-clock time of t, in t's own location,
// starts exactly at one of the slots. Only the time of day is compared.
func (ts Timeslots) Offers(t time.Time) bool {
	hhmm := t.Format(clockLayout)
	for _, slot := range ts {
		if slot.Start == hhmm {
			return true
		}
	}
	return false
}

func (ts Timeslots) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}

func (ts *Timeslots) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("available_timeslots: %w", err)
	}
	parsed, err := ParseTimeslots(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}
