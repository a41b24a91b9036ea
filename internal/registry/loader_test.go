package registry

import (
	"os"
	"path/filepath"
	"testing"

	"analyzerd/internal/manager"
)

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestScannerFindsKindFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "toxicity.yaml", 10)
	writeFile(t, dir, "Sentiment.YAML", 20)
	writeFile(t, dir, "hate-speech.yaml", 30)
	writeFile(t, dir, "notes.yaml", 5)
	writeFile(t, dir, "emotion.txt", 5)
	if err := os.Mkdir(filepath.Join(dir, "emotion.yaml"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	files, err := NewScanner("yaml").Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %+v", files)
	}
	want := []struct {
		kind manager.Kind
		size int64
	}{{manager.KindToxicity, 10}, {manager.KindSentiment, 20}, {manager.KindHateSpeech, 30}}
	for i, w := range want {
		if files[i].Kind != w.kind || files[i].SizeBytes != w.size || !filepath.IsAbs(files[i].Path) {
			t.Errorf("file %d: %+v, want %v/%d", i, files[i], w.kind, w.size)
		}
	}
}

func TestScannerPrefersEarlierExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "emotion.gguf", 100)
	writeFile(t, dir, "emotion.yaml", 1)

	got, err := LoadDir(dir, ".gguf", ".yaml")
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if mf := got[manager.KindEmotion]; filepath.Ext(mf.Path) != ".gguf" || mf.SizeBytes != 100 {
		t.Fatalf("unexpected pick: %+v", mf)
	}
	got, err = LoadDir(dir, ".yaml", ".gguf")
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if mf := got[manager.KindEmotion]; filepath.Ext(mf.Path) != ".yaml" {
		t.Fatalf("unexpected pick: %+v", mf)
	}
}

func TestScannerExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	hTmp, err := os.MkdirTemp(home, "analyzerd-registry-*")
	if err != nil {
		t.Skipf("cannot create temp under home: %v", err)
	}
	defer os.RemoveAll(hTmp)
	writeFile(t, hTmp, "toxicity.gguf", 1)

	got, err := LoadDir("~/"+filepath.Base(hTmp), ".gguf")
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if _, ok := got[manager.KindToxicity]; !ok || len(got) != 1 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestScannerMissingDir(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "missing"), ".yaml"); err == nil {
		t.Fatal("expected error")
	}
}
