package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"analyzerd/internal/engine/lexicon"
	"analyzerd/internal/httpapi"
	"analyzerd/internal/manager"
	"analyzerd/internal/registry"
)

// createModelsDir writes the given lexicon files (name -> YAML) into a temp dir.
func createModelsDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for n, body := range files {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir
}

// newServerForDir wires the real stack (model discovery, lexicon engine,
// manager, HTTP mux) for modelsDir. Each kind is estimated at estimateBytes and
// memory is measured as the sum of loaded estimates.
func newServerForDir(t *testing.T, modelsDir string, estimateBytes, limitBytes uint64, background bool) (*httptest.Server, *manager.Manager) {
	t.Helper()
	files, err := registry.LoadDir(modelsDir, ".yaml")
	if err != nil {
		t.Fatalf("scan models: %v", err)
	}
	paths := map[manager.Kind]string{}
	for k, f := range files {
		paths[k] = f.Path
	}
	eng := lexicon.New(paths, zerolog.Nop())
	var specs []manager.KindSpec
	for _, k := range manager.AllKinds() {
		specs = append(specs, manager.KindSpec{
			Kind:          k,
			Priority:      k.DefaultPriority(),
			EstimateBytes: estimateBytes,
			Source:        paths[k],
			Loader:        eng,
			Engine:        eng,
		})
	}
	mgr, err := manager.New(manager.Config{
		Kinds:               specs,
		MemoryLimitBytes:    limitBytes,
		MemoryCheckInterval: -1,
		EvictCheckEvery:     -1,
		Loader:              manager.LoaderConfig{Disabled: !background, Interval: time.Millisecond, RescanInterval: time.Hour},
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = mgr.Shutdown(sctx)
	})
	return srv, mgr
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
