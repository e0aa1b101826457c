package loadstats

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exposition = `# HELP modguard_messages_total Messages reviewed by the antispam pipeline.
# TYPE modguard_messages_total counter
modguard_messages_total{result="clean"} 90
modguard_messages_total{result="flagged"} 7
modguard_messages_total{result="universal"} 3
modguard_modevents_total{kind="DELETE",source="antispam"} 6
modguard_modevents_total{kind="MUTE",source="antispam"} 1
modguard_console_connections 2
modguard_moderation_latency_seconds_sum 0.5
modguard_moderation_latency_seconds_count 100
`

func TestParseMetricLine(t *testing.T) {
	name, labels, v, ok := parseMetricLine(`modguard_modevents_total{kind="MUTE",source="antispam"} 4`)
	require.True(t, ok)
	assert.Equal(t, "modguard_modevents_total", name)
	assert.Equal(t, `kind="MUTE",source="antispam"`, labels)
	assert.Equal(t, 4.0, v)

	name, labels, v, ok = parseMetricLine("modguard_console_connections 3 1700000000000")
	require.True(t, ok)
	assert.Equal(t, "modguard_console_connections", name)
	assert.Empty(t, labels)
	assert.Equal(t, 3.0, v)

	for _, bad := range []string{"", "lonely", `broken{label="x" 1`, "metric notanumber"} {
		_, _, _, ok := parseMetricLine(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseSnapshot(t *testing.T) {
	snap, err := parseSnapshot(strings.NewReader(exposition), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.messages)
	assert.Equal(t, 10.0, snap.blocked)
	assert.Equal(t, 7.0, snap.modEvents)
	assert.Equal(t, 2.0, snap.connections)
	assert.Equal(t, 100.0, snap.latencyCount)
}

func TestScraperReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(exposition))
	}))
	defer srv.Close()

	s := NewScraper(srv.URL, time.Hour)
	s.Start(context.Background())
	s.Stop()

	var buf bytes.Buffer
	s.Report(&buf)
	out := buf.String()
	assert.Contains(t, out, "2 snapshots")
	assert.Contains(t, out, "Mod Events")
	assert.Contains(t, out, "observations")
}

func TestPercentiles(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}
	s := Percentiles(ds)
	assert.Equal(t, 100, s.N)
	assert.Equal(t, 51*time.Millisecond, s.P50)
	assert.Equal(t, 95*time.Millisecond, s.P95)
	assert.Equal(t, 99*time.Millisecond, s.P99)
	assert.Equal(t, 100*time.Millisecond, s.Max)
	assert.Equal(t, "no samples", Percentiles(nil).String())
}

func TestCollectorReport(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 4; i++ {
		c.AddSent()
	}
	c.AddError()
	c.AddLatency("DELETE", 2*time.Millisecond)
	c.AddLatency("MUTE", 3*time.Millisecond)

	assert.Equal(t, 4, c.SentCount())
	assert.Equal(t, 1, c.ErrorCount())
	assert.Equal(t, 1, c.Count("DELETE"))

	var buf bytes.Buffer
	c.Report(&buf)
	out := buf.String()
	assert.Contains(t, out, "Error rate:   25.00%")
	assert.Less(t, strings.Index(out, "DELETE latency"), strings.Index(out, "MUTE latency"))
}
