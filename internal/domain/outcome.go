package domain

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
)

// NewRunID generates a ULID identifying one run.
func NewRunID() string {
	return ulid.Make().String()
}

// Counts summarises an outcome by status.
type Counts struct {
	Total     int `json:"total"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
	Abandoned int `json:"abandoned"`
}

// AggregateOutcome collects one ExecutionResult per dispatched device,
// keyed by serial. Record is safe for concurrent use until Seal is called;
// afterwards the outcome is read-only.
type AggregateOutcome struct {
	RunID string

	mu      sync.RWMutex
	results map[string]ExecutionResult
	sealed  bool
}

// NewAggregateOutcome returns an empty, unsealed outcome.
func NewAggregateOutcome(runID string) *AggregateOutcome {
	return &AggregateOutcome{
		RunID:   runID,
		results: make(map[string]ExecutionResult),
	}
}

// Record stores res under its device serial. A repeated serial overwrites
// the previous entry.
func (o *AggregateOutcome) Record(res ExecutionResult) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sealed {
		return ErrOutcomeSealed
	}
	o.results[res.Device.Key()] = res
	return nil
}

// Seal makes the outcome read-only. Sealing twice is harmless.
func (o *AggregateOutcome) Seal() {
	o.mu.Lock()
	o.sealed = true
	o.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (o *AggregateOutcome) Sealed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sealed
}

// Len returns the number of recorded devices.
func (o *AggregateOutcome) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.results)
}

// Empty reports whether nothing was executed.
func (o *AggregateOutcome) Empty() bool { return o.Len() == 0 }

// Get returns the result recorded for serial.
func (o *AggregateOutcome) Get(serial string) (ExecutionResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	res, ok := o.results[serial]
	return res, ok
}

// Results returns every result ordered by serial.
func (o *AggregateOutcome) Results() []ExecutionResult {
	o.mu.RLock()
	out := make([]ExecutionResult, 0, len(o.results))
	for _, res := range o.results {
		out = append(out, res)
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Device.Serial < out[j].Device.Serial
	})
	return out
}

// Counts tallies the recorded results by status.
func (o *AggregateOutcome) Counts() Counts {
	o.mu.RLock()
	defer o.mu.RUnlock()

	c := Counts{Total: len(o.results)}
	for _, res := range o.results {
		switch res.Status {
		case StatusPassed:
			c.Passed++
		case StatusTimedOut:
			c.TimedOut++
		case StatusAbandoned:
			c.Abandoned++
		default:
			c.Failed++
		}
	}
	return c
}

// AllPassed reports whether every recorded device passed. An empty outcome
// has nothing failing and reports true.
func (o *AggregateOutcome) AllPassed() bool {
	c := o.Counts()
	return c.Passed == c.Total
}

func (o *AggregateOutcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RunID   string            `json:"run_id"`
		Sealed  bool              `json:"sealed"`
		Counts  Counts            `json:"counts"`
		Results []ExecutionResult `json:"results"`
	}{
		RunID:   o.RunID,
		Sealed:  o.Sealed(),
		Counts:  o.Counts(),
		Results: o.Results(),
	})
}
