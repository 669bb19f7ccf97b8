package turn

import (
	"context"
	"time"
)

// Recorder receives per-session measurements. Implementations must be safe
// for concurrent use because many sessions share one recorder.
type Recorder interface {
	RecordUtterance(ctx context.Context, verdict string)
	RecordBargeInDecision(ctx context.Context, decision string)
	RecordPlayback(ctx context.Context, event string, d time.Duration)
	RecordPlaybackFailure(ctx context.Context)
	RecordReplySentence(ctx context.Context, via string)
}

type nopRecorder struct{}

func (nopRecorder) RecordUtterance(context.Context, string) {}

func (nopRecorder) RecordBargeInDecision(context.Context, string) {}

func (nopRecorder) RecordPlayback(context.Context, string, time.Duration) {}

func (nopRecorder) RecordPlaybackFailure(context.Context) {}

func (nopRecorder) RecordReplySentence(context.Context, string) {}
