package diskspace

import (
	"sync"
	"time"

	"github.com/Zhang142857/wenyanwengongju-sub001/internal/logging"
)

var log = logging.L("diskspace")

// Monitor polls free space on a volume and fires callbacks when it crosses
// a low-water mark. It runs on its own timer and never takes the update
// lock; it only signals, the orchestrator decides what to do.
type Monitor struct {
	path      string
	threshold uint64
	interval  time.Duration
	onLow     func(free uint64)
	onOK      func(free uint64)

	mu      sync.Mutex
	running bool
	low     bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor watches path and calls onLow once when free space drops below
// threshold, then onOK once when it recovers. Either callback may be nil.
func NewMonitor(path string, threshold uint64, interval time.Duration, onLow, onOK func(free uint64)) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		path:      path,
		threshold: threshold,
		interval:  interval,
		onLow:     onLow,
		onOK:      onOK,
	}
}

// Start begins polling. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	go m.loop(stopCh, doneCh)
}

// Stop halts polling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh, doneCh := m.stopCh, m.doneCh
	m.stopCh = nil
	m.doneCh = nil
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (m *Monitor) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	free, err := Available(m.path)
	if err != nil {
		log.Warn("free space query failed", "path", m.path, "error", err)
		return
	}

	m.mu.Lock()
	wasLow := m.low
	m.low = free < m.threshold
	isLow := m.low
	m.mu.Unlock()

	switch {
	case isLow && !wasLow:
		log.Warn("free space below threshold", "path", m.path, "free", free, "threshold", m.threshold)
		if m.onLow != nil {
			m.onLow(free)
		}
	case !isLow && wasLow:
		log.Info("free space recovered", "path", m.path, "free", free)
		if m.onOK != nil {
			m.onOK(free)
		}
	}
}
