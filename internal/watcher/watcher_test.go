package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeImporter struct {
	imported []string
	failing  map[string]bool
}

func (f *fakeImporter) ImportFile(_ context.Context, path string) error {
	if f.failing[path] {
		return fmt.Errorf("unable to import %s", filepath.Base(path))
	}
	f.imported = append(f.imported, path)
	return nil
}

func newTestWatcher(t *testing.T) (*Watcher, *fakeImporter, string) {
	t.Helper()
	importDir := t.TempDir()
	imp := &fakeImporter{failing: map[string]bool{}}
	w := New(importDir, time.Second, imp)
	return w, imp, importDir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestStabilityDebounce(t *testing.T) {
	w, _, importDir := newTestWatcher(t)

	path := writeFile(t, importDir, "foo.gcode.3mf", "payload")

	w.scanImportDirectory()
	if got := w.ReadyCount(); got != 0 {
		t.Fatalf("ready after first scan = %d, want 0", got)
	}

	w.scanImportDirectory()
	if got := w.ReadyCount(); got != 1 {
		t.Fatalf("ready after second stable scan = %d, want 1", got)
	}
	candidates := w.ReadyCandidates()
	if len(candidates) != 1 || candidates[0].Path != path || candidates[0].DisplayName != "foo.gcode.3mf" {
		t.Fatalf("unexpected candidates: %+v", candidates)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	w.scanImportDirectory()
	if got := w.ReadyCount(); got != 0 {
		t.Fatalf("ready after removal = %d, want 0", got)
	}
	if len(w.pending) != 0 {
		t.Fatalf("pending map not emptied: %d entries", len(w.pending))
	}
}

func TestGrowingFileNeverBecomesReady(t *testing.T) {
	w, _, importDir := newTestWatcher(t)

	path := writeFile(t, importDir, "slow.gcode.3mf", "1")
	base := time.Now().Add(-time.Minute)

	for i := 0; i < 5; i++ {
		// Change both size and mtime before every scan, like an
		// in-progress copy.
		if err := os.WriteFile(path, []byte(fmt.Sprintf("%0*d", i+2, 0)), 0o644); err != nil {
			t.Fatalf("grow file: %v", err)
		}
		if err := os.Chtimes(path, base.Add(time.Duration(i)*time.Second), base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
		w.scanImportDirectory()
		if got := w.ReadyCount(); got != 0 {
			t.Fatalf("scan %d: ready = %d, want 0", i, got)
		}
	}
}

func TestChangedFileResetsThenStabilizes(t *testing.T) {
	w, _, importDir := newTestWatcher(t)

	path := writeFile(t, importDir, "copy.gcode.3mf", "partial")
	w.scanImportDirectory()

	writeFile(t, importDir, "copy.gcode.3mf", "partial-more")
	w.scanImportDirectory()
	if got := w.ReadyCount(); got != 0 {
		t.Fatalf("ready after change = %d, want 0", got)
	}

	w.scanImportDirectory()
	if got := w.ReadyCount(); got != 1 {
		t.Fatalf("ready after restabilizing = %d, want 1", got)
	}
	_ = path
}

func TestScanIgnoresOtherFiles(t *testing.T) {
	w, _, importDir := newTestWatcher(t)

	writeFile(t, importDir, "notes.txt", "x")
	writeFile(t, importDir, "model.stl", "x")
	if err := os.MkdirAll(filepath.Join(importDir, "sub.gcode.3mf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	w.scanImportDirectory()
	w.scanImportDirectory()
	if got := w.ReadyCount(); got != 0 {
		t.Fatalf("ready = %d, want 0", got)
	}
	if len(w.pending) != 0 {
		t.Fatalf("pending map should stay empty, has %d entries", len(w.pending))
	}
}

func TestReadyCandidatesSortedCaseInsensitive(t *testing.T) {
	w, _, importDir := newTestWatcher(t)

	writeFile(t, importDir, "Zeta.gcode.3mf", "x")
	writeFile(t, importDir, "alpha.gcode.3mf", "x")
	writeFile(t, importDir, "Beta.gcode.3mf", "x")

	w.scanImportDirectory()
	w.scanImportDirectory()

	candidates := w.ReadyCandidates()
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	want := []string{"alpha.gcode.3mf", "Beta.gcode.3mf", "Zeta.gcode.3mf"}
	for i, name := range want {
		if candidates[i].DisplayName != name {
			t.Errorf("candidate[%d] = %q, want %q", i, candidates[i].DisplayName, name)
		}
	}
}

func TestImportFilesRemovesSuccessesKeepsFailures(t *testing.T) {
	w, imp, importDir := newTestWatcher(t)

	good := writeFile(t, importDir, "good.gcode.3mf", "x")
	bad := writeFile(t, importDir, "bad.gcode.3mf", "x")
	imp.failing[bad] = true

	w.scanImportDirectory()
	w.scanImportDirectory()
	if got := w.ReadyCount(); got != 2 {
		t.Fatalf("ready = %d, want 2", got)
	}

	err := w.ImportFiles(context.Background(), []string{good, bad})
	if err == nil {
		t.Fatal("expected aggregated error for failing path")
	}

	if len(imp.imported) != 1 || imp.imported[0] != good {
		t.Fatalf("imported = %v, want only %s", imp.imported, good)
	}
	if _, stillPending := w.pending[good]; stillPending {
		t.Error("successful import must leave the pending map")
	}
	if _, stillPending := w.pending[bad]; !stillPending {
		t.Error("failed import must stay pending for retry")
	}
}

func TestStartRequiresImportDir(t *testing.T) {
	w := New("", time.Second, &fakeImporter{})
	if err := w.Start(); err == nil {
		t.Fatal("expected start to fail without an import directory")
	}
}
