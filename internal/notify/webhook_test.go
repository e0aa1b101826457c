package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/whisper/modguard/internal/modlog"
	"github.com/whisper/modguard/internal/tagbag"
)

type hookRecorder struct {
	mu     sync.Mutex
	bodies map[string][]WebhookBody
	status int
}

func (h *hookRecorder) handler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body WebhookBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		h.mu.Lock()
		h.bodies[name] = append(h.bodies[name], body)
		status := h.status
		h.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (h *hookRecorder) get(name string) []WebhookBody {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]WebhookBody(nil), h.bodies[name]...)
}

func (h *hookRecorder) count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bodies[name])
}

func setupHooks(t *testing.T, status int) (*hookRecorder, *httptest.Server, tagbag.Store) {
	rec := &hookRecorder{bodies: make(map[string][]WebhookBody), status: status}
	mux := http.NewServeMux()
	mux.HandleFunc("/default", rec.handler("default"))
	mux.HandleFunc("/delete", rec.handler("delete"))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return rec, srv, tagbag.NewMemStore()
}

func testEvent(kind modlog.Kind) modlog.Event {
	return modlog.Build(modlog.Target{GuildID: "g1", ChannelID: "c1", MessageID: "m1", UserID: "u1", Content: "discord.gg/x"}, kind, "invite")
}

func TestModlogWebhook_Routing(t *testing.T) {
	rec, srv, tags := setupHooks(t, http.StatusNoContent)
	ctx := context.Background()
	require.NoError(t, tagbag.NewTag[string](tags, tagbag.WebhookTag(tagbag.WebhookDefault)).Set(ctx, "g1", srv.URL+"/default"))
	require.NoError(t, tagbag.NewTag[string](tags, tagbag.WebhookTag(tagbag.WebhookDelete)).Set(ctx, "g1", srv.URL+"/delete"))

	hook := NewModlogWebhook(tags, NewHTTPClient(zap.NewNop(), 0, 5*time.Second), nil)
	require.NoError(t, hook.Send(ctx, testEvent(modlog.KindDelete)))
	require.NoError(t, hook.Send(ctx, testEvent(modlog.KindMute)))

	assert.Equal(t, 1, rec.count("delete"))
	assert.Equal(t, 1, rec.count("default"))
	assert.Equal(t, "DELETE", rec.get("delete")[0].Embeds[0].Title)
	assert.Equal(t, "invite", rec.get("delete")[0].Embeds[0].Description)
}

func TestModlogWebhook_DeleteFallsBackToDefault(t *testing.T) {
	rec, srv, tags := setupHooks(t, http.StatusOK)
	ctx := context.Background()
	require.NoError(t, tagbag.NewTag[string](tags, tagbag.WebhookTag(tagbag.WebhookDefault)).Set(ctx, "g1", srv.URL+"/default"))

	hook := NewModlogWebhook(tags, NewHTTPClient(zap.NewNop(), 0, 5*time.Second), nil)
	require.NoError(t, hook.Send(ctx, testEvent(modlog.KindDelete)))
	assert.Equal(t, 1, rec.count("default"))
}

func TestModlogWebhook_Unconfigured(t *testing.T) {
	hook := NewModlogWebhook(tagbag.NewMemStore(), http.DefaultClient, nil)
	assert.NoError(t, hook.Send(context.Background(), testEvent(modlog.KindBan)))
}

func TestModlogWebhook_ErrorStatus(t *testing.T) {
	_, srv, tags := setupHooks(t, http.StatusBadRequest)
	ctx := context.Background()
	require.NoError(t, tagbag.NewTag[string](tags, tagbag.WebhookTag(tagbag.WebhookDefault)).Set(ctx, "g1", srv.URL+"/default"))

	hook := NewModlogWebhook(tags, NewHTTPClient(zap.NewNop(), 0, 5*time.Second), nil)
	assert.Error(t, hook.Send(ctx, testEvent(modlog.KindKick)))
}

func TestEventBody(t *testing.T) {
	ev := modlog.Build(modlog.Target{GuildID: "g", ChannelID: "c", MessageID: "m", UserID: "u"},
		modlog.KindWarn, "tos", modlog.WithDuration(time.Hour), modlog.WithReporter("mod"), modlog.WithSource(modlog.SourceReport))
	body := EventBody(ev)

	require.Len(t, body.Embeds, 1)
	names := map[string]string{}
	for _, f := range body.Embeds[0].Fields {
		names[f.Name] = f.Value
	}
	assert.Equal(t, "1h0m0s", names["Duration"])
	assert.Equal(t, "<@mod>", names["Moderator"])
	assert.Equal(t, "report", names["Source"])
	_, hasMessage := names["Message"]
	assert.False(t, hasMessage)
}

type fakePublisher struct {
	guild string
	data  []byte
}

func (p *fakePublisher) PublishNotice(guildID string, data []byte) error {
	p.guild = guildID
	p.data = data
	return nil
}

func TestBusNoticeSender(t *testing.T) {
	pub := &fakePublisher{}
	s := NewBusNoticeSender(pub)
	n := Notice{Title: "t", Description: "d", Severity: SeverityError, GuildID: "g1", TargetUserID: "u1"}
	require.NoError(t, s.SendNotice(context.Background(), n))

	assert.Equal(t, "g1", pub.guild)
	var decoded Notice
	require.NoError(t, json.Unmarshal(pub.data, &decoded))
	assert.Equal(t, n, decoded)
}
