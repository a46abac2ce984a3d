// Package race tracks a single local lap: when it started, whether the vehicle
// has left the start zone, and when it came back.
package race

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/racesync/go/internal/geom"
	"github.com/rs/zerolog/log"
)

const (
	NotifySuccess = "success"

	bestTimeMessage  = "New Best Time!"
	bestTimeDuration = 3 * time.Second
)

// Phase of the local race
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseRacing
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseRacing:
		return "racing"
	case PhaseFinished:
		return "finished"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Notifier shows a transient message to the player
type Notifier interface {
	Notify(kind, message string, duration time.Duration)
}

// Progress is a copy of the race state
type Progress struct {
	Phase               Phase
	StartTime           time.Time
	FinishTime          time.Time
	StartPosition       geom.Vec3
	HasPassedCheckpoint bool
	LapCount            int
	// BestLapTime and HasBestLap are kept across resets
	BestLapTime time.Duration
	HasBestLap  bool
}

// Machine is the Waiting -> Racing -> Finished state machine for one vehicle
type Machine struct {
	clock    clockwork.Clock
	track    Track
	notifier Notifier

	mu       sync.Mutex
	progress Progress
	// inside latches whether the last sample was within the start zone
	inside bool
}

// NewMachine creates a machine in the Waiting phase. notifier may be nil.
func NewMachine(track Track, clock clockwork.Clock, notifier Notifier) *Machine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Machine{
		clock:    clock,
		track:    track,
		notifier: notifier,
		progress: Progress{StartPosition: track.StartPoint},
	}
}

// Start begins a lap. It only has an effect while Waiting.
func (m *Machine) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.progress.Phase != PhaseWaiting {
		return false
	}
	m.progress.Phase = PhaseRacing
	m.progress.StartTime = m.clock.Now()
	m.progress.FinishTime = time.Time{}
	m.progress.StartPosition = m.track.StartPoint
	m.progress.HasPassedCheckpoint = false
	m.progress.LapCount = 0
	m.inside = false

	log.Debug().Str("track", m.track.Name).Msg("race started")
	return true
}

// Sample feeds the vehicle position. It reports whether this sample finished
// the lap.
func (m *Machine) Sample(position geom.Vec3) bool {
	m.mu.Lock()

	if m.progress.Phase != PhaseRacing || !position.IsFinite() {
		m.mu.Unlock()
		return false
	}

	distance := position.PlanarDistance(m.progress.StartPosition)
	entered := !m.inside && distance < m.track.Radius
	exited := m.inside && distance >= m.track.Radius+m.track.Hysteresis
	if entered {
		m.inside = true
	} else if exited {
		m.inside = false
	}

	switch {
	case entered && m.progress.HasPassedCheckpoint:
		lap := m.finishLocked()
		best := !m.progress.HasBestLap || lap <= m.progress.BestLapTime
		if best {
			m.progress.BestLapTime = lap
			m.progress.HasBestLap = true
		}
		m.mu.Unlock()

		log.Info().Dur("lap_time", lap).Bool("best", best).Msg("lap finished")
		if best && m.notifier != nil {
			m.notifier.Notify(NotifySuccess, bestTimeMessage, bestTimeDuration)
		}
		return true
	case exited && !m.progress.HasPassedCheckpoint:
		m.progress.HasPassedCheckpoint = true
		log.Debug().Float64("distance", distance).Msg("left start zone, lap armed")
	}
	m.mu.Unlock()
	return false
}

func (m *Machine) finishLocked() time.Duration {
	m.progress.FinishTime = m.clock.Now()
	m.progress.LapCount = 1
	m.progress.Phase = PhaseFinished
	return m.progress.FinishTime.Sub(m.progress.StartTime)
}

// Reset returns to Waiting. The best lap time survives.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.progress = Progress{
		Phase:         PhaseWaiting,
		StartPosition: m.track.StartPoint,
		BestLapTime:   m.progress.BestLapTime,
		HasBestLap:    m.progress.HasBestLap,
	}
	m.inside = false
}

func (m *Machine) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// LapTime returns the finished lap duration
func (m *Machine) LapTime() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.progress.Phase != PhaseFinished {
		return 0, false
	}
	return m.progress.FinishTime.Sub(m.progress.StartTime), true
}

// Elapsed is the running time for a HUD: live while racing, frozen once
// finished, zero while waiting.
func (m *Machine) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.progress.Phase {
	case PhaseRacing:
		return m.clock.Since(m.progress.StartTime)
	case PhaseFinished:
		return m.progress.FinishTime.Sub(m.progress.StartTime)
	default:
		return 0
	}
}
