package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Askhat-cmd/voxturn/internal/app"
	"github.com/Askhat-cmd/voxturn/internal/config"
	"github.com/Askhat-cmd/voxturn/internal/gateway"
	"github.com/Askhat-cmd/voxturn/internal/turn/mock"
	"github.com/Askhat-cmd/voxturn/pkg/callproto"
)

// testConfig returns a validated config for a backend at url.
func testConfig(t *testing.T, url string, extra string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(`
backend:
  url: ` + url + `
  max_retries: 1
  backoff: 10ms
  breaker:
    max_failures: 1
    reset_timeout: 1m
normalizer:
  name: passthrough
` + extra))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, config.DefaultRegistry(), opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

// runApp serves a on a loopback listener and returns its address and a
// channel carrying Run's result.
func runApp(t *testing.T, cfg *config.Config, opts ...app.Option) (*app.App, string, context.CancelFunc, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	a := newTestApp(t, cfg, append(opts, app.WithListener(ln))...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()
	return a, ln.Addr().String(), cancel, errc
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestNew_UnknownNormalizer(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "ws://127.0.0.1:1/ws", "")
	cfg.Normalizer.Name = "neural"
	_, err := app.New(context.Background(), cfg, config.DefaultRegistry())
	if !errors.Is(err, config.ErrNormalizerNotRegistered) {
		t.Errorf("New() = %v, want ErrNormalizerNotRegistered", err)
	}
}

func TestNew_MissingConfigFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "ws://127.0.0.1:1/ws", "")
	_, err := app.New(context.Background(), cfg, nil, app.WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")))
	if err == nil {
		t.Fatal("New() with a missing config path succeeded")
	}
}

func TestApp_HTTPRoutes(t *testing.T) {
	t.Parallel()

	bs := &backends{}
	a := newTestApp(t, testConfig(t, "ws://127.0.0.1:1/ws", ""), app.WithChannelFactory(bs.factory))
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	var live struct {
		Status string `json:"status"`
	}
	if code := getJSON(t, srv.URL+"/healthz", &live); code != http.StatusOK || live.Status != "ok" {
		t.Errorf("/healthz = %d %+v", code, live)
	}

	var ready struct {
		Status   string            `json:"status"`
		Checks   map[string]string `json:"checks"`
		Sessions *int              `json:"sessions"`
	}
	if code := getJSON(t, srv.URL+"/readyz", &ready); code != http.StatusOK {
		t.Errorf("/readyz status = %d", code)
	}
	if ready.Checks["backend"] != "ok" || ready.Checks["config"] != "ok" || ready.Sessions == nil || *ready.Sessions != 0 {
		t.Errorf("/readyz body = %+v", ready)
	}

	if _, err := a.Sessions().Start(context.Background(), gateway.CallInfo{CallID: "c1", CallerID: "+7"}, &mock.Player{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var sessions []app.SessionInfo
	if code := getJSON(t, srv.URL+"/api/sessions", &sessions); code != http.StatusOK {
		t.Errorf("/api/sessions status = %d", code)
	}
	if len(sessions) != 1 || sessions[0].CallerID != "+7" || sessions[0].CallID != "c1" {
		t.Errorf("/api/sessions = %+v", sessions)
	}

	resp, err := http.Post(srv.URL+"/api/normalize", "application/json", strings.NewReader(`{"text":"  нужно   измерить твердость "}`))
	if err != nil {
		t.Fatalf("POST /api/normalize: %v", err)
	}
	var norm struct {
		Normalized  string `json:"normalized"`
		Informative bool   `json:"informative"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&norm); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if norm.Normalized != "нужно измерить твердость" || !norm.Informative {
		t.Errorf("/api/normalize = %+v", norm)
	}

	resp, err = http.Post(srv.URL+"/api/normalize", "application/json", strings.NewReader(`{"text":`))
	if err != nil {
		t.Fatalf("POST /api/normalize: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/normalize")
	if err != nil {
		t.Fatalf("GET /api/normalize: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/normalize status = %d, want 405", resp.StatusCode)
	}
}

func TestApp_ReadinessFollowsBreaker(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(backend.Close)

	a := newTestApp(t, testConfig(t, "ws"+strings.TrimPrefix(backend.URL, "http")+"/ws", ""))
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	if _, err := a.Sessions().Start(context.Background(), gateway.CallInfo{CallerID: "+7"}, &mock.Player{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var ready struct {
		Checks map[string]string `json:"checks"`
	}
	eventually(t, "readiness to fail", func() bool {
		return getJSON(t, srv.URL+"/readyz", &ready) == http.StatusServiceUnavailable
	})
	if !strings.Contains(ready.Checks["backend"], "circuit open") {
		t.Errorf("backend check = %q", ready.Checks["backend"])
	}
}

// echoBackend greets every caller and answers each utterance.
func echoBackend(t *testing.T, callers chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		callers <- r.URL.Query().Get("callerId")

		ctx := r.Context()
		if err := ws.Write(ctx, websocket.MessageText, []byte("Здравствуйте|")); err != nil {
			return
		}
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			reply := "Принято: " + string(data) + "|"
			if err := ws.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestApp_CallEndToEnd(t *testing.T) {
	t.Parallel()

	callers := make(chan string, 1)
	backend := echoBackend(t, callers)
	cfg := testConfig(t, "ws"+strings.TrimPrefix(backend.URL, "http")+"/ws", `
voice:
  name: alena
asr:
  phrase_hints: ["РЭМ"]
`)
	_, addr, cancel, errc := runApp(t, cfg)

	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	var ws *websocket.Conn
	eventually(t, "server up", func() bool {
		var err error
		ws, _, err = websocket.Dial(ctx, "ws://"+addr+"/call", nil)
		return err == nil
	})
	defer ws.CloseNow()

	send := func(m callproto.Message) {
		t.Helper()
		data, err := callproto.Encode(m)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	recv := func() callproto.Message {
		t.Helper()
		_, data, err := ws.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		m, err := callproto.Decode(data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		return m
	}

	send(callproto.Message{
		Type:         callproto.TypeCallAccepted,
		CallID:       "call-1",
		CallerID:     "+79990001122",
		Capabilities: &callproto.Capabilities{CaptureStarted: true, CaptureStopped: true},
	})
	ready := recv()
	if ready.Type != callproto.TypeSessionReady || ready.Voice == nil || ready.Voice.Name != "alena" || len(ready.PhraseHints) != 1 {
		t.Fatalf("session.ready = %+v", ready)
	}
	select {
	case got := <-callers:
		if got != "+79990001122" {
			t.Errorf("backend callerId = %q", got)
		}
	case <-ctx.Done():
		t.Fatal("backend never dialed")
	}

	greeting := recv()
	if greeting.Type != callproto.TypePlaybackStart || greeting.Text != "Здравствуйте" {
		t.Fatalf("greeting = %+v", greeting)
	}
	send(callproto.Message{Type: callproto.TypePlaybackEvent, PlaybackID: greeting.PlaybackID, Event: callproto.EventStarted})
	send(callproto.Message{Type: callproto.TypePlaybackEvent, PlaybackID: greeting.PlaybackID, Event: callproto.EventFinished})

	send(callproto.Message{Type: callproto.TypeCaptureStarted})
	send(callproto.Message{Type: callproto.TypeASRPartial, Text: "нужно измерить"})
	send(callproto.Message{Type: callproto.TypeASRPartial, Text: "нужно измерить твердость"})
	send(callproto.Message{Type: callproto.TypeCaptureStopped})

	answer := recv()
	if answer.Type != callproto.TypePlaybackStart || answer.Text != "Принято: нужно измерить твердость" {
		t.Fatalf("answer = %+v", answer)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, _, err := ws.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusNormalClosure {
		t.Errorf("call close status = %v (%v), want normal closure", got, err)
	}
}

func TestApp_HotReload(t *testing.T) {
	t.Parallel()

	const base = `
server:
  log_level: info
backend:
  url: ws://127.0.0.1:1/ws
normalizer:
  name: passthrough
voice:
  name: alena
`
	path := filepath.Join(t.TempDir(), "voxturn.yaml")
	if err := os.WriteFile(path, []byte(base), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	lv := new(slog.LevelVar)
	bs := &backends{}
	a, _, _, _ := runApp(t, cfg,
		app.WithConfigPath(path),
		app.WithWatchInterval(10*time.Millisecond),
		app.WithLevelVar(lv),
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: lv}))),
		app.WithChannelFactory(bs.factory),
	)

	updated := strings.NewReplacer("log_level: info", "log_level: debug", "name: alena", "name: filipp").Replace(base)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	eventually(t, "reload applied", func() bool {
		return lv.Level() == slog.LevelDebug && a.Sessions().Settings().Voice.Name == "filipp"
	})
	if a.Config().Voice.Name != "filipp" {
		t.Errorf("Config().Voice = %+v", a.Config().Voice)
	}

	adm, err := a.Sessions().Start(context.Background(), gateway.CallInfo{CallerID: "+7"}, &mock.Player{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if adm.Voice.Name != "filipp" {
		t.Errorf("new session voice = %q", adm.Voice.Name)
	}
}
