package loadstats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// snapshot holds the tracked server metrics at a point in time.
type snapshot struct {
	timestamp   time.Time
	messages    float64
	blocked     float64
	modEvents   float64
	reports     float64
	connections float64
	failures    float64
	// histogram _sum and _count for averages
	latencySum   float64
	latencyCount float64
}

// Scraper periodically fetches the server's /metrics endpoint and keeps
// snapshots for the final report.
type Scraper struct {
	metricsURL string
	interval   time.Duration

	mu        sync.Mutex
	snapshots []snapshot

	cancel context.CancelFunc
	done   chan struct{}
	client *http.Client
}

func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client:     &http.Client{Timeout: 5 * time.Second},
		done:       make(chan struct{}),
	}
}

// Start takes a snapshot immediately and then one per interval until the
// context is cancelled or Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrapeOnce()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce()
				return
			case <-ticker.C:
				s.scrapeOnce()
			}
		}
	}()
}

// Stop stops the background scraper and waits for its final snapshot.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scraper) scrapeOnce() {
	snap, err := s.fetch()
	if err != nil {
		// server may not be up yet
		return
	}
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *Scraper) fetch() (snapshot, error) {
	resp, err := s.client.Get(s.metricsURL)
	if err != nil {
		return snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snapshot{}, fmt.Errorf("loadstats: scrape: status %d", resp.StatusCode)
	}
	return parseSnapshot(resp.Body, time.Now())
}

func parseSnapshot(r io.Reader, at time.Time) (snapshot, error) {
	snap := snapshot{timestamp: at}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		name, labels, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}

		// Labelled counters appear once per series; sum them.
		switch name {
		case "modguard_messages_total":
			snap.messages += value
			if strings.Contains(labels, `result="flagged"`) || strings.Contains(labels, `result="universal"`) {
				snap.blocked += value
			}
		case "modguard_modevents_total":
			snap.modEvents += value
		case "modguard_reports_total":
			snap.reports += value
		case "modguard_console_connections":
			snap.connections = value
		case "modguard_delivery_failures_total":
			snap.failures += value
		case "modguard_moderation_latency_seconds_sum":
			snap.latencySum = value
		case "modguard_moderation_latency_seconds_count":
			snap.latencyCount = value
		}
	}
	return snap, scanner.Err()
}

// parseMetricLine splits a text exposition line into the metric name, its
// raw label block and its value.
//
//	metric_name 1.23
//	metric_name{label="value"} 1.23
func parseMetricLine(line string) (name, labels string, value float64, ok bool) {
	raw := line
	if idx := strings.IndexByte(raw, '{'); idx != -1 {
		closing := strings.IndexByte(raw[idx:], '}')
		if closing == -1 {
			return "", "", 0, false
		}
		name = raw[:idx]
		labels = raw[idx+1 : idx+closing]
		raw = name + raw[idx+closing+1:]
	}

	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return "", "", 0, false
	}
	if name == "" {
		name = fields[0]
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return "", "", 0, false
	}
	return name, labels, v, true
}

// Report writes initial, final, delta and peak values for each tracked
// metric to w.
func (s *Scraper) Report(w io.Writer) {
	s.mu.Lock()
	snaps := make([]snapshot, len(s.snapshots))
	copy(snaps, s.snapshots)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Fprintln(w, "\n--- Server Metrics (no data collected) ---")
		return
	}

	first, last := snaps[0], snaps[len(snaps)-1]

	fmt.Fprintln(w, "\n--- Server Metrics (Prometheus) ---")
	fmt.Fprintf(w, "  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.timestamp.Sub(first.timestamp).Round(time.Second))

	rows := []struct {
		label   string
		extract func(snapshot) float64
	}{
		{"Messages", func(s snapshot) float64 { return s.messages }},
		{"Blocked", func(s snapshot) float64 { return s.blocked }},
		{"Mod Events", func(s snapshot) float64 { return s.modEvents }},
		{"Reports", func(s snapshot) float64 { return s.reports }},
		{"Console Conns", func(s snapshot) float64 { return s.connections }},
		{"Delivery Fails", func(s snapshot) float64 { return s.failures }},
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	fmt.Fprintf(w, "  %-16s %10s %10s %10s %10s\n", "------", "-------", "-----", "-----", "----")
	for _, r := range rows {
		initial, final := r.extract(first), r.extract(last)
		fmt.Fprintf(w, "  %-16s %10.0f %10.0f %10.0f %10.0f\n",
			r.label, initial, final, final-initial, peakValue(snaps, r.extract))
	}

	fmt.Fprintln(w)
	deltaSum := last.latencySum - first.latencySum
	deltaCount := last.latencyCount - first.latencyCount
	if deltaCount > 0 {
		fmt.Fprintf(w, "  %-16s avg: %.6fs  (%.0f observations)\n", "Moderation", deltaSum/deltaCount, deltaCount)
	} else {
		fmt.Fprintf(w, "  %-16s avg: N/A  (no observations)\n", "Moderation")
	}
}

func peakValue(snaps []snapshot, extract func(snapshot) float64) float64 {
	peak := math.Inf(-1)
	for _, s := range snaps {
		if v := extract(s); v > peak {
			peak = v
		}
	}
	return peak
}
