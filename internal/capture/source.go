package capture

import (
	"context"
	"errors"
)

// ErrSourceExhausted is returned by finite sources (e.g. a replay
// bucket with looping disabled) when no further frames exist. The loop
// treats it as a normal stop, not a capture failure.
var ErrSourceExhausted = errors.New("capture source exhausted")

// Frame is one raw captured frame. Data is an encoded pixel buffer;
// the loop never inspects it, only hands it to inference and encoding.
type Frame struct {
	Data []byte
}

// Source produces a lazy, effectively infinite frame sequence for one
// camera. Next may block up to the source's own bounded timeout;
// transient failures surface as errors so the loop can retry with
// backoff. Restarting a dead source is the external CRUD layer's job.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Opener builds a Source from a camera's video source locator.
type Opener interface {
	Open(ctx context.Context, cameraID, videoSource string) (Source, error)
}
