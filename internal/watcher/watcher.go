package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hummel22/bambuQueue/internal/importer"
	"github.com/hummel22/bambuQueue/internal/logging"
	"github.com/hummel22/bambuQueue/internal/telemetry"
)

const defaultScanInterval = 2 * time.Second

// requiredStableChecks is the number of consecutive scans a file's size and
// mtime must hold before it is considered fully written.
const requiredStableChecks = 2

// FileImporter ingests one artifact path.
type FileImporter interface {
	ImportFile(ctx context.Context, path string) error
}

// Candidate is a ready-to-import file presented to the consumer API.
type Candidate struct {
	Path        string `json:"path"`
	DisplayName string `json:"display_name"`
}

type pendingFile struct {
	size         int64
	modTime      time.Time
	stableChecks int
	ready        bool
}

// Watcher scans the import directory on a fixed interval and promotes files
// whose writes have stopped to a ready set. Imports are only triggered
// through ImportFiles; the scan itself never ingests anything.
type Watcher struct {
	importDir    string
	scanInterval time.Duration
	importer     FileImporter

	mu      sync.Mutex
	pending map[string]*pendingFile

	stopCh chan struct{}
	wg     sync.WaitGroup
	log    *logrus.Entry
}

func New(importDir string, scanInterval time.Duration, fileImporter FileImporter) *Watcher {
	if scanInterval <= 0 {
		scanInterval = defaultScanInterval
	}
	return &Watcher{
		importDir:    importDir,
		scanInterval: scanInterval,
		importer:     fileImporter,
		pending:      make(map[string]*pendingFile),
		stopCh:       make(chan struct{}),
		log:          logging.Component("watcher"),
	}
}

// Start runs an immediate scan and then keeps scanning in the background
// until Stop is called.
func (w *Watcher) Start() error {
	if w.importDir == "" {
		return fmt.Errorf("import directory is not configured")
	}

	w.scanImportDirectory()

	w.wg.Add(1)
	go w.scanLoop()
	return nil
}

func (w *Watcher) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Watcher) scanLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.scanImportDirectory()
		}
	}
}

// ReadyCount reports how many pending files are ready to import.
func (w *Watcher) ReadyCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	count := 0
	for _, pending := range w.pending {
		if pending.ready {
			count++
		}
	}
	return count
}

// ReadyCandidates returns the ready set sorted case-insensitively by
// display name.
func (w *Watcher) ReadyCandidates() []Candidate {
	w.mu.Lock()
	defer w.mu.Unlock()

	candidates := make([]Candidate, 0, len(w.pending))
	for path, pending := range w.pending {
		if !pending.ready {
			continue
		}
		candidates = append(candidates, Candidate{
			Path:        path,
			DisplayName: filepath.Base(path),
		})
	}
	sort.Slice(candidates, func(a, b int) bool {
		return strings.ToLower(candidates[a].DisplayName) < strings.ToLower(candidates[b].DisplayName)
	})
	return candidates
}

// ImportFiles runs the importer for each requested path, removing
// successful ones from the pending map. Per-path failures are aggregated
// and returned; remaining paths are still processed.
func (w *Watcher) ImportFiles(ctx context.Context, paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var failures []error
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := w.importer.ImportFile(ctx, path); err != nil {
			w.log.WithError(err).WithField("path", path).Warn("failed to import file")
			failures = append(failures, fmt.Errorf("%s: %w", filepath.Base(path), err))
			continue
		}
		delete(w.pending, path)
	}
	return errors.Join(failures...)
}

// scanImportDirectory applies the stability protocol: a file whose size and
// mtime are unchanged across consecutive scans accumulates stable checks and
// becomes ready at two; any change resets the count. Entries whose files
// vanished are dropped.
func (w *Watcher) scanImportDirectory() {
	entries, err := os.ReadDir(w.importDir)
	if err != nil {
		w.log.WithError(err).WithField("dir", w.importDir).
			Warn("unable to open import directory")
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !importer.IsArtifact(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		fullPath := filepath.Join(w.importDir, entry.Name())
		seen[fullPath] = true
		size := info.Size()
		modTime := info.ModTime()

		pending, known := w.pending[fullPath]
		if !known {
			w.pending[fullPath] = &pendingFile{size: size, modTime: modTime, stableChecks: 1}
			continue
		}

		if pending.size == size && pending.modTime.Equal(modTime) {
			pending.stableChecks++
		} else {
			pending.size = size
			pending.modTime = modTime
			pending.stableChecks = 1
		}

		if pending.stableChecks >= requiredStableChecks {
			pending.ready = true
		}
	}

	for path := range w.pending {
		if !seen[path] {
			delete(w.pending, path)
		}
	}

	ready := 0
	for _, pending := range w.pending {
		if pending.ready {
			ready++
		}
	}
	telemetry.ReadyImports.Set(float64(ready))
}
