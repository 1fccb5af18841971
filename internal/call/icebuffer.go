package call

import (
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// candidateBuffer queues remote ICE candidates that arrive before the
// remote description is set. Applying a candidate earlier would fail, so
// candidates are held in arrival order and replayed once, immediately
// after SetRemoteDescription succeeds.
type candidateBuffer struct {
	ready  func() bool
	apply  func(webrtc.ICECandidateInit) error
	queued []webrtc.ICECandidateInit
}

func newCandidateBuffer(ready func() bool, apply func(webrtc.ICECandidateInit) error) *candidateBuffer {
	return &candidateBuffer{ready: ready, apply: apply}
}

// Add applies the candidate directly when the connection is ready for it,
// and queues it otherwise. An individual apply failure is logged and
// dropped; one malformed candidate must not abort negotiation.
func (b *candidateBuffer) Add(c webrtc.ICECandidateInit) {
	if !b.ready() {
		b.queued = append(b.queued, c)
		slog.Debug("ice candidate queued", "pending", len(b.queued))
		return
	}

	if err := b.apply(c); err != nil {
		slog.Warn("ice candidate rejected", "error", err)
	}
}

// Flush replays the queued candidates in arrival order and empties the
// queue. Candidates that fail to apply are logged and skipped so the rest
// of the queue still lands.
func (b *candidateBuffer) Flush() {
	if len(b.queued) == 0 {
		return
	}

	slog.Debug("flushing ice candidates", "count", len(b.queued))
	for _, c := range b.queued {
		if err := b.apply(c); err != nil {
			slog.Warn("buffered ice candidate rejected", "error", err)
		}
	}
	b.queued = nil
}

// Len reports how many candidates are waiting.
func (b *candidateBuffer) Len() int {
	return len(b.queued)
}
