// Package status holds the process-wide run state and broadcasts state
// transitions to subscribers. The Cell is the single owner of the RunStatus
// value; the Broker fans events out to listeners with best-effort delivery.
package status

import (
	"fmt"
	"sync"
	"time"
)

// RunStatus is the current collector run state shown to the dashboard.
type RunStatus struct {
	Active    bool       `json:"active"`
	Message   string     `json:"message"`
	Checked   bool       `json:"checked"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DataUpdate is published on the data-updates topic after every accepted
// ingest batch.
type DataUpdate struct {
	Indexed   int       `json:"indexed"`
	Errors    int       `json:"errors"`
	Timestamp time.Time `json:"timestamp"`
}

// Cell owns the RunStatus value. All mutation goes through the transition
// methods, which publish the new snapshot on the status-updates topic.
// Transitions are unguarded: any state may follow any other (see DESIGN.md).
type Cell struct {
	mu     sync.RWMutex
	cur    RunStatus
	broker *Broker
	now    func() time.Time
}

// NewCell creates a Cell in the idle state.
func NewCell(broker *Broker) *Cell {
	c := &Cell{broker: broker, now: time.Now}
	c.cur = RunStatus{
		Active:    false,
		Message:   "idle",
		UpdatedAt: c.now().UTC(),
	}
	return c
}

// Current returns a snapshot of the run status.
func (c *Cell) Current() RunStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

// Start marks a run as active and records its start time.
func (c *Cell) Start() RunStatus {
	return c.transition(func(s *RunStatus, now time.Time) {
		s.Active = true
		s.Message = "run started"
		s.LastRun = &now
	})
}

// Stop marks the run as stopped, preserving the prior last_run.
func (c *Cell) Stop() RunStatus {
	return c.transition(func(s *RunStatus, now time.Time) {
		s.Active = false
		s.Message = "stopped"
	})
}

// Cooldown pauses the run for the given number of minutes, preserving the
// prior last_run.
func (c *Cell) Cooldown(minutes int) RunStatus {
	return c.transition(func(s *RunStatus, now time.Time) {
		s.Active = false
		s.Message = fmt.Sprintf("%d minutes cooldown", minutes)
	})
}

// Check records a human acknowledgment of the current state. It is a
// side-channel: the state itself and updated_at are untouched, but the new
// snapshot is still published so dashboards refresh.
func (c *Cell) Check() RunStatus {
	c.mu.Lock()
	c.cur.Checked = true
	snapshot := c.cur
	c.mu.Unlock()
	c.publish(snapshot)
	return snapshot
}

// transition applies fn under the lock, clears the checked flag, stamps
// updated_at, and publishes the resulting snapshot.
func (c *Cell) transition(fn func(s *RunStatus, now time.Time)) RunStatus {
	now := c.now().UTC()
	c.mu.Lock()
	fn(&c.cur, now)
	c.cur.Checked = false
	c.cur.UpdatedAt = now
	snapshot := c.cur
	c.mu.Unlock()
	c.publish(snapshot)
	return snapshot
}

func (c *Cell) publish(snapshot RunStatus) {
	if c.broker != nil {
		c.broker.Publish(TopicStatusUpdates, snapshot)
	}
}
