// Package loadstats collects client-side latencies and server-side metrics
// during a load run and prints a summary with percentile distributions.
package loadstats

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates measurements from many publisher goroutines. All
// methods are goroutine-safe.
type Collector struct {
	mu        sync.Mutex
	latencies map[string][]time.Duration
	sent      int
	errors    int
	startTime time.Time
	scraper   *Scraper
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		latencies: make(map[string][]time.Duration),
		startTime: time.Now(),
	}
}

// SetScraper attaches a metrics scraper whose report is appended to ours.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddSent records one published request.
func (c *Collector) AddSent() {
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
}

// AddLatency records a round-trip latency under the given series, such as
// an event kind.
func (c *Collector) AddLatency(series string, d time.Duration) {
	c.mu.Lock()
	c.latencies[series] = append(c.latencies[series], d)
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

func (c *Collector) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Count returns the number of latencies recorded under series.
func (c *Collector) Count(series string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.latencies[series])
}

// Report writes the summary to w.
func (c *Collector) Report(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Fprintln(w, "\n=== Load Results ===")
	fmt.Fprintf(w, "Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Fprintf(w, "Sent:         %d\n", c.sent)
	fmt.Fprintf(w, "Errors:       %d\n", c.errors)
	if c.sent > 0 {
		fmt.Fprintf(w, "Error rate:   %.2f%%\n", float64(c.errors)/float64(c.sent)*100)
	}

	series := make([]string, 0, len(c.latencies))
	for s := range c.latencies {
		series = append(series, s)
	}
	sort.Strings(series)
	for _, s := range series {
		fmt.Fprintf(w, "\n--- %s latency ---\n", s)
		fmt.Fprintln(w, "  "+Percentiles(c.latencies[s]).String())
	}

	if c.scraper != nil {
		c.scraper.Report(w)
	}
	fmt.Fprintln(w)
}

// Summary is a latency distribution.
type Summary struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

func (s Summary) String() string {
	if s.N == 0 {
		return "no samples"
	}
	return fmt.Sprintf("avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		s.Avg.Round(time.Microsecond),
		s.P50.Round(time.Microsecond),
		s.P95.Round(time.Microsecond),
		s.P99.Round(time.Microsecond),
		s.Max.Round(time.Microsecond),
		s.N,
	)
}

// Percentiles sorts durations in place and summarises them.
func Percentiles(durations []time.Duration) Summary {
	n := len(durations)
	if n == 0 {
		return Summary{}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return Summary{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: durations[n/2],
		P95: durations[int(math.Ceil(float64(n)*0.95))-1],
		P99: durations[int(math.Ceil(float64(n)*0.99))-1],
		Max: durations[n-1],
	}
}
