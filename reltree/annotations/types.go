// Package annotations provides a low-overhead event system for tracking
// tree induction: node decisions, candidate counts, memo efficiency and
// ensemble progress.
package annotations

import (
	"sync"
	"time"
)

// Event name constants following hierarchical naming pattern
const (
	// Tree lifecycle
	TreeBuildBegin     = "tree/build.begin"
	TreeBuildCompleted = "tree/build.completed"

	// Node decisions
	NodeBegin = "node/begin"
	NodeLeaf  = "node/leaf"
	NodeSplit = "node/split"

	// Candidate search
	CandidatesCounted   = "candidates/counted"
	CandidatesEvaluated = "candidates/evaluated"
	MemoStats           = "memo/stats"

	// Data
	RelationIndexed = "relation/indexed"
	FactsLoaded     = "facts/loaded"

	// Ensembles
	ForestTreeBuilt = "forest/tree.built"
	BoostingStage   = "boosting/stage"

	// Errors
	ErrorSettings = "error/settings"
	ErrorFacts    = "error/facts"
	ErrorInternal = "error/internal"
)

// Event represents a single annotation event.
type Event struct {
	Name    string                 // Event name using hierarchical constants above
	Start   time.Time              // Start timestamp
	End     time.Time              // End timestamp
	Latency time.Duration          // Duration (End - Start)
	Data    map[string]interface{} // Additional event-specific data
}

// Handler processes annotation events as they occur.
type Handler func(event Event)

// Collector accumulates events. A nil *Collector or one created without a
// handler records nothing.
type Collector struct {
	enabled bool
	handler Handler
	events  []Event
	mu      sync.Mutex
}

// NewCollector creates a new annotation collector.
func NewCollector(handler Handler) *Collector {
	return &Collector{
		enabled: handler != nil,
		handler: handler,
		events:  make([]Event, 0, 128),
	}
}

// Enabled reports whether events are recorded.
func (c *Collector) Enabled() bool { return c != nil && c.enabled }

// Add records a new event.
// Thread-safe for concurrent access.
func (c *Collector) Add(event Event) {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()

	// Call handler outside the lock to avoid deadlocks
	c.handler(event)
}

// AddTiming records an event that started at start and ends now.
func (c *Collector) AddTiming(name string, start time.Time, data map[string]interface{}) {
	if !c.Enabled() {
		return
	}
	end := time.Now()
	c.Add(Event{
		Name:    name,
		Start:   start,
		End:     end,
		Latency: end.Sub(start),
		Data:    data,
	})
}

// Events returns all collected events.
func (c *Collector) Events() []Event {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Reset clears the collected events.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = c.events[:0]
}
