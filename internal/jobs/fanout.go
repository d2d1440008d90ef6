package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/medibook/go-appointments/pkg/workerpool"
)

// RunSummary counts the outcomes of one batch run.
type RunSummary struct {
	Total   int
	Sent    int
	Skipped int
	Failed  int
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeSkipped
)

func sent(t *workerpool.Task) *workerpool.Result {
	return &workerpool.Result{TaskID: t.ID, Success: true, Data: outcomeSent}
}

func skipped(t *workerpool.Task) *workerpool.Result {
	return &workerpool.Result{TaskID: t.ID, Success: true, Data: outcomeSkipped}
}

func failed(t *workerpool.Task, err error) *workerpool.Result {
	return &workerpool.Result{TaskID: t.ID, Error: err}
}

// fanOut runs every task on a temporary pool. Failed tasks are logged and
// counted.
func fanOut(ctx context.Context, cfg workerpool.Config, tasks []*workerpool.Task, fn workerpool.WorkerFunc, logger *zap.Logger) (RunSummary, error) {
	summary := RunSummary{Total: len(tasks)}
	results, err := workerpool.Run(ctx, cfg, fn, tasks, logger)
	for _, res := range results {
		switch {
		case !res.Success:
			summary.Failed++
			logger.Warn("task failed", zap.String("task_id", res.TaskID), zap.Error(res.Error))
		case res.Data == outcomeSkipped:
			summary.Skipped++
		default:
			summary.Sent++
		}
	}
	return summary, err
}
