// Package trigger resumes paused runs when an approval signal appears.
//
// A signal is a file named <run-id>.approved in the signals directory. It is
// written by `medallion approve`, by CI after a proposal merges, or by hand.
package trigger

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Suffix marks approval signal files.
const Suffix = ".approved"

// DefaultPollInterval is how often the directory is rescanned in case the
// watcher missed an event.
const DefaultPollInterval = 2 * time.Second

// SignalPath returns the signal file for a run.
func SignalPath(dir, runID string) string {
	return filepath.Join(dir, runID+Suffix)
}

// Signal marks a run as approved.
func Signal(dir, runID, note string) error {
	if runID == "" || strings.ContainsAny(runID, `/\`) {
		return fmt.Errorf("signal: invalid run id %q", runID)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signals dir: %w", err)
	}
	body := time.Now().UTC().Format(time.RFC3339)
	if note != "" {
		body += " " + note
	}
	if err := os.WriteFile(SignalPath(dir, runID), []byte(body+"\n"), 0644); err != nil {
		return fmt.Errorf("write signal for %s: %w", runID, err)
	}
	return nil
}

// Clear removes a run's signal. A missing signal is not an error.
func Clear(dir, runID string) error {
	err := os.Remove(SignalPath(dir, runID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear signal for %s: %w", runID, err)
	}
	return nil
}

// Watcher reports approval signals in a directory.
type Watcher struct {
	dir  string
	fsw  *fsnotify.Watcher
	poll time.Duration
}

// NewWatcher watches dir, creating it if needed. A poll interval of zero
// uses DefaultPollInterval.
func NewWatcher(dir string, poll time.Duration) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals dir: %w", err)
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	w := &Watcher{dir: dir, poll: poll}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		// Polling still works
		log.Printf("[trigger] fsnotify unavailable, polling %s: %v", dir, err)
		return w, nil
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		log.Printf("[trigger] cannot watch %s, polling: %v", dir, err)
		return w, nil
	}
	w.fsw = fsw
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}

// Run calls fn once for each run ID with a signal, signals already present
// first, until ctx is done. A run whose signal is removed and written again is
// reported again. fn runs on the caller's goroutine.
func (w *Watcher) Run(ctx context.Context, fn func(runID string)) error {
	seen := make(map[string]bool)
	emit := func(runID string) {
		if runID == "" || seen[runID] {
			return
		}
		seen[runID] = true
		fn(runID)
	}
	scan := func() {
		present := make(map[string]bool)
		for _, id := range w.pending() {
			present[id] = true
			emit(id)
		}
		for id := range seen {
			if !present[id] {
				delete(seen, id)
			}
		}
	}

	scan()

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.fsw != nil {
		events = w.fsw.Events
		errs = w.fsw.Errors
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			id := runIDFromPath(ev.Name)
			switch {
			case id == "":
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				delete(seen, id)
			case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
				emit(id)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[trigger] watch error: %v", err)
		case <-ticker.C:
			scan()
		}
	}
}

// WaitFor blocks until runID has a signal or ctx is done.
func (w *Watcher) WaitFor(ctx context.Context, runID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := false
	err := w.Run(ctx, func(id string) {
		if id == runID {
			found = true
			cancel()
		}
	})
	if found {
		return nil
	}
	return err
}

// pending lists the run IDs with a signal in the directory.
func (w *Watcher) pending() []string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Printf("[trigger] scan %s: %v", w.dir, err)
		return nil
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id := runIDFromPath(e.Name()); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func runIDFromPath(p string) string {
	base := filepath.Base(p)
	if !strings.HasSuffix(base, Suffix) {
		return ""
	}
	return strings.TrimSuffix(base, Suffix)
}
