package cmd

import (
	"bytes"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/iksnae/yeschef-session/internal"
	"github.com/iksnae/yeschef-session/internal/gateway"
)

const (
	shakshukaID = "3f9c2a71-shakshuka"
	pancakesID  = "8b1d04ce-pancakes"
)

// syncBuffer is a bytes.Buffer safe for the screen and REPL goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newTestGateway runs the built-in gateway on a local listener.
func newTestGateway(t *testing.T) *httptest.Server {
	t.Helper()

	ts := httptest.NewUnstartedServer(nil)
	cfg := internal.DefaultConfig().Server
	cfg.APIKey = "test-key"
	cfg.APISecret = "test-secret"
	cfg.TokenRPS = 100
	cfg.TokenBurst = 100
	cfg.ServiceURL = "ws://" + ts.Listener.Addr().String() + "/rtc"

	catalog, err := gateway.LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	srv, err := gateway.NewServer(cfg, catalog)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ts.Config.Handler = srv.Handler()
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

// testConfig points a session at baseURL with a fast clock.
func testConfig(baseURL string) internal.Config {
	cfg := internal.DefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.API.Timeout = 5 * time.Second
	cfg.Checkpoint.Backend = "memory"
	cfg.Session.RetryInterval = 10 * time.Millisecond
	cfg.Session.TickInterval = 10 * time.Millisecond
	cfg.Session.EndingDelay = 0
	return cfg
}

func newMemoryCheckpoints() *internal.Checkpoints {
	return internal.NewCheckpoints(internal.NewMemoryKV(), internal.DefaultCheckpointPrefix, internal.DefaultCheckpointTTL)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
