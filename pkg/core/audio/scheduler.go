package audio

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Source is a handle to one chunk that has been handed to the output.
// Stop must be safe to call after the chunk has already finished.
type Source interface {
	Stop()
}

// Output is the playback device the scheduler drives. Now is the device's
// playback clock, starting at zero when the output was opened. Play enqueues
// a buffer to begin at startAt on that clock and invokes onEnded exactly once
// when the chunk finishes naturally (not when force-stopped).
type Output interface {
	Now() time.Duration
	Play(buf *Buffer, startAt time.Duration, onEnded func()) (Source, error)
}

// Scheduler keeps received chunks playing back-to-back regardless of
// arrival jitter. It owns the "next start" cursor and the set of in-flight
// sources; Flush is the interruption path and is a hard cut.
type Scheduler struct {
	out    Output
	logger zerolog.Logger

	mu     sync.Mutex
	next   time.Duration
	epoch  uint64
	active map[*scheduled]struct{}
}

type scheduled struct {
	src   Source
	ended bool
}

// NewScheduler creates a scheduler over the given output.
func NewScheduler(out Output, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		out:    out,
		logger: logger.With().Str("component", "playback").Logger(),
		active: make(map[*scheduled]struct{}),
	}
}

// Schedule enqueues a decoded chunk at max(cursor, clock), advances the
// cursor by the chunk's duration and registers the source until it ends.
// If arrivals lag behind playback the cursor simply catches up to the clock
// and a gap is accepted. The returned duration is the chosen start time.
func (s *Scheduler) Schedule(buf *Buffer) (time.Duration, error) {
	if buf == nil || buf.FrameCount() == 0 {
		return 0, nil
	}

	s.mu.Lock()
	startAt := s.next
	if now := s.out.Now(); now > startAt {
		startAt = now
	}
	s.next = startAt + buf.Duration()
	epoch := s.epoch
	s.mu.Unlock()

	h := &scheduled{}
	src, err := s.out.Play(buf, startAt, func() { s.finished(h) })
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// A flush raced this chunk: it must not play against the old cursor.
		s.mu.Unlock()
		src.Stop()
		return startAt, nil
	}
	if h.ended {
		// The chunk finished before registration; nothing left to track.
		s.mu.Unlock()
		return startAt, nil
	}
	h.src = src
	s.active[h] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug().
		Dur("start_at", startAt).
		Dur("duration", buf.Duration()).
		Msg("chunk scheduled")
	return startAt, nil
}

// Flush force-stops every in-flight source, empties the registry and resets
// the cursor to zero so the next chunk starts at the then-current clock
// rather than a stale future offset.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	stopped := make([]*scheduled, 0, len(s.active))
	for h := range s.active {
		stopped = append(stopped, h)
	}
	s.active = make(map[*scheduled]struct{})
	s.next = 0
	s.epoch++
	s.mu.Unlock()

	for _, h := range stopped {
		if h.src != nil {
			h.src.Stop()
		}
	}
	s.logger.Debug().Int("stopped", len(stopped)).Msg("playback flushed")
}

// ActiveCount returns the number of in-flight sources.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the current cursor value.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *Scheduler) finished(h *scheduled) {
	s.mu.Lock()
	h.ended = true
	delete(s.active, h)
	s.mu.Unlock()
}
