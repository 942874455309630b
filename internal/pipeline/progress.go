package pipeline

import (
	"context"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/platform/logger"
	"github.com/pagelift/pagelift-api/internal/provider"
)

// progressWriter tracks one task's progress through a run. Values are
// clamped monotonically non-decreasing, and a write only reaches the store
// when the value or message actually changed, so notification fanout is not
// flooded by repeated provider callbacks.
type progressWriter struct {
	exec        *Executor
	task        *domain.Task
	lastValue   int
	lastMessage string
}

func newProgressWriter(e *Executor, task *domain.Task) *progressWriter {
	return &progressWriter{exec: e, task: task, lastValue: task.Progress}
}

// set records progress. Persistence failures are logged and swallowed;
// losing one intermediate progress write must not abort the workflow.
func (w *progressWriter) set(ctx context.Context, value int, message string) {
	if value < w.lastValue {
		value = w.lastValue
	}
	if value > 100 {
		value = 100
	}
	if value == w.lastValue && (message == "" || message == w.lastMessage) {
		return
	}
	w.lastValue = value
	if message != "" {
		w.lastMessage = message
	}

	w.task.Progress = value
	w.task.ProgressMessage = w.lastMessage
	if err := w.exec.update(ctx, w.task); err != nil {
		logger.FromContext(ctx).Warn("progress write failed",
			"task_id", w.task.ID, "progress", value, "error", err)
	}
}

// mapped returns a provider callback that scales the provider's 0-100
// progress into the [low, high] band of the task's absolute range and
// records the vendor job id when one appears.
func (w *progressWriter) mapped(ctx context.Context, low, high int) provider.ProgressFunc {
	return func(p provider.Progress) {
		if p.JobID != "" && w.task.ExtractJobID == "" {
			w.task.ExtractJobID = p.JobID
		}
		fraction := p.Overall / 100
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		value := low + int(fraction*float64(high-low))
		w.set(ctx, value, stageMessage(p.Stage))
	}
}

// stageMessage turns a provider stage label into the task's progress
// message, leaving the previous message in place when the label is empty.
func stageMessage(stage string) string {
	switch stage {
	case "":
		return ""
	case "submitted":
		return "Extraction job submitted"
	case "extracting":
		return "Extracting content"
	case "extracted":
		return "Extraction finished"
	case "translating":
		return "Translating"
	default:
		return stage
	}
}
