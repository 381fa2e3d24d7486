// Package aggregate keeps streaming distributions of operational values
// such as ingestion latency and log body size.
package aggregate

import (
	"math"
	"sort"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
)

// DefaultAccuracy is the relative accuracy of quantile estimates.
const DefaultAccuracy = 0.01

// Distribution maintains running statistics for one observed value.
// Quantiles come from a DDSketch.
type Distribution struct {
	mu sync.Mutex

	name     string
	accuracy float64

	count int64
	sum   float64
	min   float64
	max   float64

	// nil if the sketch could not be created
	sketch *ddsketch.DDSketch
}

// Summary is a point-in-time view of a distribution.
type Summary struct {
	Name  string
	Count int64
	Sum   float64
	Avg   float64
	Min   float64
	Max   float64
	P50   float64
	P90   float64
	P95   float64
	P99   float64
}

// New creates a distribution with the default accuracy.
func New(name string) *Distribution {
	return NewWithAccuracy(name, DefaultAccuracy)
}

// NewWithAccuracy creates a distribution with a custom quantile accuracy.
func NewWithAccuracy(name string, accuracy float64) *Distribution {
	d := &Distribution{
		name:     name,
		accuracy: accuracy,
		min:      math.MaxFloat64,
		max:      -math.MaxFloat64,
	}

	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err == nil {
		d.sketch = sketch
	}

	return d
}

// Add records one observation. DDSketch only accepts non-negative values
// here; negative values still count toward the running statistics.
func (d *Distribution) Add(value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.count++
	d.sum += value

	if value < d.min {
		d.min = value
	}
	if value > d.max {
		d.max = value
	}

	if d.sketch != nil && value >= 0 {
		d.sketch.Add(value)
	}
}

// Count returns the number of observations.
func (d *Distribution) Count() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Summary returns the current statistics.
func (d *Distribution) Summary() Summary {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Summary{
		Name:  d.name,
		Count: d.count,
		Sum:   d.sum,
	}

	if d.count > 0 {
		s.Avg = d.sum / float64(d.count)
		s.Min = d.min
		s.Max = d.max
	}

	if d.sketch != nil && !d.sketch.IsEmpty() {
		s.P50, _ = d.sketch.GetValueAtQuantile(0.50)
		s.P90, _ = d.sketch.GetValueAtQuantile(0.90)
		s.P95, _ = d.sketch.GetValueAtQuantile(0.95)
		s.P99, _ = d.sketch.GetValueAtQuantile(0.99)
	}

	return s
}

// Reset clears all observations.
func (d *Distribution) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.count = 0
	d.sum = 0
	d.min = math.MaxFloat64
	d.max = -math.MaxFloat64

	if d.sketch != nil {
		d.sketch.Clear()
	}
}

// Merge combines other into d.
func (d *Distribution) Merge(other *Distribution) {
	if other == nil || other == d {
		return
	}

	other.mu.Lock()
	defer other.mu.Unlock()
	if other.count == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.count += other.count
	d.sum += other.sum

	if other.min < d.min {
		d.min = other.min
	}
	if other.max > d.max {
		d.max = other.max
	}

	if d.sketch != nil && other.sketch != nil {
		d.sketch.MergeWith(other.sketch)
	}
}

// Name returns the distribution name.
func (d *Distribution) Name() string {
	return d.name
}

// Set is a named collection of distributions created on first use.
type Set struct {
	mu    sync.RWMutex
	dists map[string]*Distribution
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{dists: make(map[string]*Distribution)}
}

// Observe adds value to the distribution called name.
func (s *Set) Observe(name string, value float64) {
	s.get(name).Add(value)
}

func (s *Set) get(name string) *Distribution {
	s.mu.RLock()
	d, ok := s.dists[name]
	s.mu.RUnlock()
	if ok {
		return d
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.dists[name]; ok {
		return d
	}
	d = New(name)
	s.dists[name] = d
	return d
}

// Summaries returns the summaries of all distributions ordered by name.
func (s *Set) Summaries() []Summary {
	s.mu.RLock()
	dists := make([]*Distribution, 0, len(s.dists))
	for _, d := range s.dists {
		dists = append(dists, d)
	}
	s.mu.RUnlock()

	out := make([]Summary, 0, len(dists))
	for _, d := range dists {
		out = append(out, d.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Summary returns the summary of one distribution; ok is false if nothing
// was observed under name.
func (s *Set) Summary(name string) (Summary, bool) {
	s.mu.RLock()
	d, ok := s.dists[name]
	s.mu.RUnlock()
	if !ok {
		return Summary{Name: name}, false
	}
	return d.Summary(), true
}
