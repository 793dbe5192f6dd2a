package routes

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/relay"
)

type startArgs struct {
	contactID string
	contact   relay.Party
	media     relay.Media
}

type fakeCaller struct {
	mu      sync.Mutex
	snap    call.Snapshot
	intents []string
	started []startArgs
	err     error
	stats   *media.Stats
	subs    chan call.Snapshot
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		snap: call.Snapshot{Status: call.StatusIdle, StatusText: "", MediaSupported: true},
		subs: make(chan call.Snapshot, 8),
	}
}

func (f *fakeCaller) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, name)
	return f.err
}

func (f *fakeCaller) Snapshot() call.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeCaller) Subscribe() (<-chan call.Snapshot, func()) {
	f.subs <- f.Snapshot()
	return f.subs, func() {}
}

func (f *fakeCaller) StartCall(_ context.Context, contactID string, contact relay.Party, md relay.Media) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.started = append(f.started, startArgs{contactID, contact, md})
	f.snap.Status = call.StatusInitiating
	f.snap.CallID = "call-1"
	return "call-1", nil
}

func (f *fakeCaller) AcceptCall() error    { return f.record("accept") }
func (f *fakeCaller) DeclineCall() error   { return f.record("decline") }
func (f *fakeCaller) EndCall() error       { return f.record("end") }
func (f *fakeCaller) HoldCall() error      { return f.record("hold") }
func (f *fakeCaller) ResumeCall() error    { return f.record("resume") }
func (f *fakeCaller) ReconnectCall() error { return f.record("reconnect") }
func (f *fakeCaller) Reset() error         { return f.record("reset") }

func (f *fakeCaller) ToggleMute() (bool, error)     { return true, f.record("toggle-mute") }
func (f *fakeCaller) ToggleVideo() (bool, error)    { return true, f.record("toggle-video") }
func (f *fakeCaller) ToggleSpeaker() (bool, error)  { return false, f.record("toggle-speaker") }
func (f *fakeCaller) ToggleMinimize() (bool, error) { return true, f.record("toggle-minimize") }

func (f *fakeCaller) MediaStats() (media.Stats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stats == nil {
		return media.Stats{}, false
	}
	return *f.stats, true
}

func (f *fakeCaller) IsMediaSupported() bool { return true }

func newServer(t *testing.T, c Caller) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	Register(r, Deps{Call: c})
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestCallMode(t *testing.T) {
	ts := newServer(t, newFakeCaller())
	resp, err := http.Get(ts.URL + "/api/call/mode")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body callModeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "native", body.Mode)
	assert.True(t, body.MediaSupported)
}

func TestStartCall(t *testing.T) {
	f := newFakeCaller()
	ts := newServer(t, f)

	resp, body := post(t, ts.URL+"/api/call/start",
		`{"contact_id":" bob ","contact":{"name":"Bob"},"media":"video"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "call-1", body["call_id"])
	assert.Equal(t, "initiating", body["status"])

	require.Len(t, f.started, 1)
	assert.Equal(t, "bob", f.started[0].contactID)
	assert.Equal(t, "Bob", f.started[0].contact.Name)
	assert.Equal(t, relay.MediaVideo, f.started[0].media)
}

func TestStartCallDefaultsToVoice(t *testing.T) {
	f := newFakeCaller()
	ts := newServer(t, f)

	resp, _ := post(t, ts.URL+"/api/call/start", `{"contact_id":"bob"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, relay.MediaVoice, f.started[0].media)
}

func TestStartCallBadRequests(t *testing.T) {
	ts := newServer(t, newFakeCaller())

	resp, _ := post(t, ts.URL+"/api/call/start", `{"contact_id":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(t, ts.URL+"/api/call/start", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	self := newFakeCaller()
	self.err = fmt.Errorf("%w: cannot call yourself", call.ErrInvalidContact)
	ts = newServer(t, self)
	resp, body := post(t, ts.URL+"/api/call/start", `{"contact_id":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "yourself")
}

func TestIntentsReachTheMachine(t *testing.T) {
	f := newFakeCaller()
	ts := newServer(t, f)

	for _, p := range []string{"accept", "decline", "end", "hold", "resume", "reconnect", "reset"} {
		resp, body := post(t, ts.URL+"/api/call/"+p, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, p)
		assert.Equal(t, "idle", body["status"], p)
	}
	assert.Equal(t, []string{"accept", "decline", "end", "hold", "resume", "reconnect", "reset"}, f.intents)
}

func TestToggles(t *testing.T) {
	ts := newServer(t, newFakeCaller())

	cases := map[string]string{
		"toggle-mute":     "muted",
		"toggle-video":    "camera_off",
		"toggle-speaker":  "speaker_on",
		"toggle-minimize": "minimized",
	}
	for path, key := range cases {
		resp, body := post(t, ts.URL+"/api/call/"+path, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, body, key, path)
	}
}

func TestIntentErrorStatus(t *testing.T) {
	var verr validator.ValidationErrors
	cases := []struct {
		err  error
		code int
	}{
		{call.ErrSessionActive, http.StatusConflict},
		{&call.TransitionError{Intent: "hold", From: call.StatusIdle}, http.StatusConflict},
		{call.ErrNoIdentity, http.StatusPreconditionFailed},
		{fmt.Errorf("wrapped: %w", call.ErrMediaUnsupported), http.StatusPreconditionFailed},
		{fmt.Errorf("call: invalid start request: %w", verr), http.StatusBadRequest},
		{fmt.Errorf("%w: cannot call yourself", call.ErrInvalidContact), http.StatusBadRequest},
		{call.ErrClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, intentStatus(tc.err), tc.err.Error())
	}

	f := newFakeCaller()
	f.err = &call.TransitionError{Intent: "accept", From: call.StatusIdle}
	ts := newServer(t, f)
	resp, body := post(t, ts.URL+"/api/call/accept", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestDebug(t *testing.T) {
	f := newFakeCaller()
	ts := newServer(t, f)

	get := func() callDebugResponse {
		resp, err := http.Get(ts.URL + "/api/call/debug")
		require.NoError(t, err)
		defer resp.Body.Close()
		var out callDebugResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	out := get()
	assert.False(t, out.Live)
	assert.Nil(t, out.Media)

	f.mu.Lock()
	f.stats = &media.Stats{Applied: 2, Duplicates: 1}
	f.mu.Unlock()
	out = get()
	assert.True(t, out.Live)
	require.NotNil(t, out.Media)
	assert.Equal(t, 2, out.Media.Applied)
}

func TestEventsStream(t *testing.T) {
	f := newFakeCaller()
	ts := newServer(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/call/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	rd := bufio.NewReader(resp.Body)
	next := func() call.Snapshot {
		t.Helper()
		var event string
		for {
			line, err := rd.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.Equal(t, "state", event)
				var s call.Snapshot
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &s))
				return s
			}
		}
	}

	assert.Equal(t, call.StatusIdle, next().Status)

	f.subs <- call.Snapshot{Status: call.StatusRingingInbound, CallID: "c9", RingRemaining: 30}
	s := next()
	assert.Equal(t, call.StatusRingingInbound, s.Status)
	assert.Equal(t, "c9", s.CallID)
	assert.Equal(t, 30, s.RingRemaining)
}

func TestLocalOnly(t *testing.T) {
	h := localOnly(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/call/end", nil)
	req.RemoteAddr = "192.0.2.7:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req.RemoteAddr = "127.0.0.1:4000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
