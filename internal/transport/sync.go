package transport

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leorm1110/music-mixer-ai/internal/mixer"
)

const (
	// DefaultInterval is the correction step period, roughly one display refresh.
	DefaultInterval = 20 * time.Millisecond
	// DefaultTolerance is the allowed drift, in seconds, before a hard snap.
	DefaultTolerance = 0.05
)

// ReadoutFunc receives the authoritative transport position in seconds.
type ReadoutFunc func(position float64)

// Synchronizer keeps every non-master track within a drift tolerance of the
// master track by running a periodic correction step.
type Synchronizer struct {
	session   *mixer.Session
	interval  time.Duration
	tolerance float64
	readout   ReadoutFunc

	snaps atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSynchronizer creates a stopped synchronizer. Zero interval or tolerance
// selects the defaults; readout may be nil.
func NewSynchronizer(session *mixer.Session, interval time.Duration, tolerance float64, readout ReadoutFunc) *Synchronizer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Synchronizer{
		session:   session,
		interval:  interval,
		tolerance: tolerance,
		readout:   readout,
	}
}

// Start launches the correction loop. A running loop is stopped first, so at
// most one loop instance exists.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.run(ctx, done)
}

// Stop halts the loop and waits for it to exit. Safe when not running.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Synchronizer) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

// Running reports whether the correction loop is active.
func (s *Synchronizer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Snaps returns the number of corrective seeks performed so far.
func (s *Synchronizer) Snaps() uint64 {
	return s.snaps.Load()
}

func (s *Synchronizer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Step()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step performs one correction pass: publish the master position and snap
// every track that drifted beyond the tolerance. No-op without a master.
func (s *Synchronizer) Step() {
	master, ok := s.session.Master()
	if !ok || master.Handle == nil {
		return
	}

	pos := master.Handle.Position()
	if s.readout != nil {
		s.readout(pos)
	}

	for _, t := range s.session.Tracks() {
		if t.Name == master.Name || t.Handle == nil {
			continue
		}
		// A track shorter than the master parks at its own end.
		target := math.Min(pos, t.Handle.Duration())
		if math.Abs(target-t.Handle.Position()) > s.tolerance {
			t.Handle.Seek(target)
			s.snaps.Add(1)
		}
	}
}
