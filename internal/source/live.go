package source

import (
	"context"
	"sync"
	"time"

	"panosphere/internal/motion"
)

// LiveSource is the push half of the websocket device link: the server pushes
// frames and sensor samples in as they arrive, the engine pulls the freshest
// frame out when a capture fires.
type LiveSource struct {
	mu      sync.Mutex
	frame   []byte
	frameAt time.Time
	maxAge  time.Duration
	samples chan motion.Sample
	closed  bool
}

// NewLiveSource creates a live source. maxAge bounds frame staleness; buffer
// sizes the sample channel.
func NewLiveSource(maxAge time.Duration, buffer int) *LiveSource {
	if buffer < 1 {
		buffer = 1
	}
	return &LiveSource{
		maxAge:  maxAge,
		samples: make(chan motion.Sample, buffer),
	}
}

// PushFrame replaces the current frame. The engine only ever wants the latest.
func (s *LiveSource) PushFrame(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frame = data
	s.frameAt = time.Now()
}

// PushSample forwards one sensor sample, dropping when the consumer lags.
func (s *LiveSource) PushSample(sample motion.Sample) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if sample.At.IsZero() {
		sample.At = time.Now()
	}
	select {
	case s.samples <- sample:
	default:
	}
}

// AcquireFrame returns the most recent frame if it is fresh enough.
func (s *LiveSource) AcquireFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, ErrNoFrame
	}
	if s.maxAge > 0 && time.Since(s.frameAt) > s.maxAge {
		return nil, ErrNoFrame
	}
	return s.frame, nil
}

// Samples returns the motion sample stream.
func (s *LiveSource) Samples() <-chan motion.Sample { return s.samples }

// Close shuts the sample stream; later pushes are ignored.
func (s *LiveSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.samples)
	return nil
}
