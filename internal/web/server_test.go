package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrated/hydrated/internal/model"
	"github.com/hydrated/hydrated/internal/push"
	"github.com/hydrated/hydrated/internal/storage"
	"github.com/hydrated/hydrated/internal/worker"
)

type fakeKeys struct {
	pub string
}

func (f fakeKeys) VAPIDPublicKey() string { return f.pub }
func (f fakeKeys) Configured() bool       { return f.pub != "" }

type fakeScheduler struct {
	got       *push.Payload
	results   []worker.BroadcastResult
	refreshes int
}

func (f *fakeScheduler) Broadcast(_ context.Context, p push.Payload) []worker.BroadcastResult {
	f.got = &p
	return f.results
}

func (f *fakeScheduler) Refresh() { f.refreshes++ }

func newTestServer(t *testing.T, keys KeySource) (*Server, *storage.Store, *fakeScheduler) {
	t.Helper()
	store := storage.NewStore(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, store.Load())
	b := &fakeScheduler{}
	return NewServer(store, keys, b), store, b
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestVAPIDPublicKey(t *testing.T) {
	s, _, _ := newTestServer(t, fakeKeys{pub: "BPubKey123"})
	rec := doJSON(t, s, http.MethodGet, "/vapidPublicKey", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BPubKey123", rec.Body.String())

	s, _, _ = newTestServer(t, fakeKeys{})
	rec = doJSON(t, s, http.MethodGet, "/vapidPublicKey", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubscribe(t *testing.T) {
	s, store, _ := newTestServer(t, fakeKeys{pub: "k"})

	rec := doJSON(t, s, http.MethodPost, "/subscribe",
		`{"endpoint":"https://push.example/ep1","keys":{"p256dh":"p","auth":"a"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	userID := out["userId"].(string)
	require.NotEmpty(t, userID)

	// Re-subscribing the same endpoint keeps the same user id.
	rec = doJSON(t, s, http.MethodPost, "/subscribe",
		`{"endpoint":"https://push.example/ep1","keys":{"p256dh":"p2","auth":"a2"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, decode(t, rec)["userId"])
	assert.Len(t, store.ListSummary(), 1)
}

func TestSubscribeMissingEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, fakeKeys{pub: "k"})
	rec := doJSON(t, s, http.MethodPost, "/subscribe", `{"keys":{"p256dh":"p","auth":"a"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "endpoint")
}

func TestAddReminder(t *testing.T) {
	s, _, b := newTestServer(t, fakeKeys{pub: "k"})

	rec := doJSON(t, s, http.MethodPost, "/addReminder", `{
		"subscription":{"endpoint":"ep","keys":{"p256dh":"p","auth":"a"}},
		"time":"09:00","timezoneOffsetMinutes":-120,"repeatEveryMinutes":30,"repeatUntil":"17:00"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	reminders := out["reminders"].([]any)
	require.Len(t, reminders, 1)
	assert.Equal(t, "09:00", reminders[0].(map[string]any)["time"])
	assert.Equal(t, 1, b.refreshes, "scheduler nudged after mutation")
}

func TestAddReminderValidation(t *testing.T) {
	s, _, _ := newTestServer(t, fakeKeys{pub: "k"})

	tests := []struct {
		name string
		body string
	}{
		{"missing subscription", `{"time":"09:00"}`},
		{"missing time", `{"subscription":{"endpoint":"ep"}}`},
		{"bad time", `{"subscription":{"endpoint":"ep"},"time":"9am"}`},
		{"unpadded time", `{"subscription":{"endpoint":"ep"},"time":"8:30"}`},
		{"bad repeatUntil", `{"subscription":{"endpoint":"ep"},"time":"09:00","repeatUntil":"late"}`},
		{"negative repeat", `{"subscription":{"endpoint":"ep"},"time":"09:00","repeatEveryMinutes":-5}`},
		{"not json", `{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/addReminder", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestDeleteReminder(t *testing.T) {
	s, store, _ := newTestServer(t, fakeKeys{pub: "k"})
	_, r, err := store.AddReminder(subFixture("ep"), storage.ReminderSpec{Time: "08:00"})
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodPost, "/deleteReminder", `{"id":"`+r.ID+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/deleteReminder", `{"id":"`+r.ID+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserReminders(t *testing.T) {
	s, store, _ := newTestServer(t, fakeKeys{pub: "k"})
	u, _, err := store.AddReminder(subFixture("ep"), storage.ReminderSpec{Time: "08:00"})
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodGet, "/user/"+u.ID+"/reminders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["reminders"], 1)

	rec = doJSON(t, s, http.MethodGet, "/user/nope/reminders", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendNotification(t *testing.T) {
	s, _, b := newTestServer(t, fakeKeys{pub: "k"})
	b.results = []worker.BroadcastResult{{UserID: "u1", Outcome: "delivered"}}

	rec := doJSON(t, s, http.MethodPost, "/sendNotification", `{"payload":{"title":"Heads up","body":"drink"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, b.got)
	assert.Equal(t, "Heads up", b.got.Title)
	assert.Len(t, decode(t, rec)["results"], 1)

	// Empty body broadcasts the default payload.
	rec = doJSON(t, s, http.MethodPost, "/sendNotification", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", b.got.Title)
}

func TestSendNotificationUnconfigured(t *testing.T) {
	s, _, _ := newTestServer(t, fakeKeys{})
	rec := doJSON(t, s, http.MethodPost, "/sendNotification", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubs(t *testing.T) {
	s, store, _ := newTestServer(t, fakeKeys{pub: "k"})
	_, _, err := store.AddReminder(subFixture("ep"), storage.ReminderSpec{Time: "08:00"})
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodGet, "/subs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, float64(1), out["count"])
	users := out["users"].([]any)
	assert.Equal(t, float64(1), users[0].(map[string]any)["reminders"])
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, fakeKeys{pub: "k"})
	rec := doJSON(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["ok"])
	assert.NotEmpty(t, out["time"])
}

func TestIndex(t *testing.T) {
	s, _, _ := newTestServer(t, fakeKeys{pub: "k"})
	rec := doJSON(t, s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "Hydrated"))
}

func subFixture(endpoint string) model.Subscription {
	return model.Subscription{Endpoint: endpoint, Keys: model.Keys{P256dh: "p", Auth: "a"}}
}
