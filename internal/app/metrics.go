package app

import (
	"sync/atomic"
	"time"
)

// Metrics tracks simulation performance.
type Metrics struct {
	frameCount   atomic.Uint64
	frameTotalNs atomic.Int64
	frameMinNs   atomic.Int64
	frameMaxNs   atomic.Int64
	lastFrameNs  atomic.Int64
	lateFrames   atomic.Uint64

	failures atomic.Uint64
	reloads  atomic.Uint64
	spawned  atomic.Uint64
	detached atomic.Uint64
	removed  atomic.Uint64

	startTime time.Time
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
	}
	// Initialize min to max int64 so first frame will be smaller
	m.frameMinNs.Store(1<<63 - 1)
	return m
}

// RecordFrame records how long one frame took.
func (m *Metrics) RecordFrame(duration time.Duration) {
	ns := duration.Nanoseconds()

	m.frameCount.Add(1)
	m.frameTotalNs.Add(ns)
	m.lastFrameNs.Store(ns)

	for {
		old := m.frameMinNs.Load()
		if ns >= old || m.frameMinNs.CompareAndSwap(old, ns) {
			break
		}
	}
	for {
		old := m.frameMaxNs.Load()
		if ns <= old || m.frameMaxNs.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordLateFrame records a frame that overran the frame interval.
func (m *Metrics) RecordLateFrame() {
	m.lateFrames.Add(1)
}

// RecordFailure records an isolated listener failure.
func (m *Metrics) RecordFailure() {
	m.failures.Add(1)
}

// RecordReload records a script (re)load or removal.
func (m *Metrics) RecordReload() {
	m.reloads.Add(1)
}

// RecordSpawn records a created addon.
func (m *Metrics) RecordSpawn() {
	m.spawned.Add(1)
}

// RecordDetach records an addon whose interception was removed.
func (m *Metrics) RecordDetach() {
	m.detached.Add(1)
}

// RecordDestroy records a destroyed addon.
func (m *Metrics) RecordDestroy() {
	m.removed.Add(1)
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	frameCount := m.frameCount.Load()

	var avgFrameNs int64
	if frameCount > 0 {
		avgFrameNs = m.frameTotalNs.Load() / int64(frameCount)
	}

	minFrameNs := m.frameMinNs.Load()
	if minFrameNs == 1<<63-1 {
		minFrameNs = 0
	}

	return MetricsSnapshot{
		Uptime:         time.Since(m.startTime),
		FrameCount:     frameCount,
		AvgFrameTimeNs: avgFrameNs,
		MinFrameTimeNs: minFrameNs,
		MaxFrameTimeNs: m.frameMaxNs.Load(),
		LastFrameNs:    m.lastFrameNs.Load(),
		LateFrames:     m.lateFrames.Load(),
		Failures:       m.failures.Load(),
		Reloads:        m.reloads.Load(),
		Spawned:        m.spawned.Load(),
		Detached:       m.detached.Load(),
		Destroyed:      m.removed.Load(),
	}
}

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	Uptime         time.Duration
	FrameCount     uint64
	AvgFrameTimeNs int64
	MinFrameTimeNs int64
	MaxFrameTimeNs int64
	LastFrameNs    int64
	LateFrames     uint64
	Failures       uint64
	Reloads        uint64
	Spawned        uint64
	Detached       uint64
	Destroyed      uint64
}

// AvgFPS returns the average frames per second.
func (s MetricsSnapshot) AvgFPS() float64 {
	if s.AvgFrameTimeNs == 0 {
		return 0
	}
	return 1e9 / float64(s.AvgFrameTimeNs)
}

// LateRate returns the percentage of frames that overran.
func (s MetricsSnapshot) LateRate() float64 {
	if s.FrameCount == 0 {
		return 0
	}
	return float64(s.LateFrames) / float64(s.FrameCount) * 100
}
