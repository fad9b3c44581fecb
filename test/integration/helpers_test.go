package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gifmotion/gifmotion/internal/ailink"
	"github.com/gifmotion/gifmotion/internal/ailink/driver/runway"
	"github.com/gifmotion/gifmotion/internal/observability"
	"github.com/gifmotion/gifmotion/internal/ratelimit"
	"github.com/gifmotion/gifmotion/internal/server"
	"github.com/gifmotion/gifmotion/internal/server/handlers"
	servermw "github.com/gifmotion/gifmotion/internal/server/middleware"
)

const appURL = "https://gifmotion.example"

// isPermissionError normalizes OS-specific permission errors (macOS/Linux/BSD)
// so we can gracefully skip when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// listen binds IPv4 loopback explicitly and skips when the sandbox refuses.
func listen(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping: loopback listen not permitted: %v", err)
		}
		require.NoError(t, err)
	}
	ts := &httptest.Server{Listener: listener, Config: &http.Server{Handler: handler}}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

// fakeRunway serves the create and fetch endpoints. Each task reports
// RUNNING for pending polls, then the final status.
type fakeRunway struct {
	mu        sync.Mutex
	pending   int
	final     string
	failure   string
	submitted []map[string]any
	polls     int
}

func (f *fakeRunway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer test-key" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/image_to_video":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.submitted = append(f.submitted, body)
		_, _ = w.Write([]byte(`{"id":"task-42"}`))
	case r.Method == http.MethodGet && r.URL.Path == "/v1/tasks/task-42":
		f.polls++
		status := f.final
		if f.polls <= f.pending {
			status = "RUNNING"
		}
		resp := map[string]any{"id": "task-42", "status": status}
		if status == "SUCCEEDED" {
			resp["output"] = []string{"https://cdn.example/task-42.mp4"}
		}
		if status == "FAILED" {
			resp["failure"] = f.failure
		}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func noWait(ctx context.Context, d time.Duration) error { return ctx.Err() }

// newStack wires the real server, gate, limiter and generator against the
// fake provider.
func newStack(t *testing.T, provider *fakeRunway, limit int) *httptest.Server {
	t.Helper()
	observability.InitCLILogger("test", false)

	upstream := listen(t, provider)

	client := runway.NewClient(upstream.URL, "test-key")
	client.HTTPClient = upstream.Client()
	client.Timeout = 5 * time.Second

	gen := &ailink.Generator{
		Driver:     client,
		Images:     &ailink.ImageResolver{HTTPClient: upstream.Client()},
		Policy:     ailink.Policy{Interval: time.Millisecond, MaxAttempts: 5},
		Model:      runway.DefaultModel,
		Parameters: ailink.Config{}.Parameters(),
		Wait:       noWait,
	}

	lim, err := ratelimit.New(ratelimit.Config{Interval: time.Minute, MaxTokens: 100})
	require.NoError(t, err)

	srv := server.New("127.0.0.1", 0,
		server.WithGenerateHandler(handlers.NewGenerateHandler(gen)),
		server.WithGate(servermw.GateConfig{AppURL: appURL, Limit: limit, Limiter: lim}),
	)
	return listen(t, srv.Handler())
}
