// Package hooks delivers instant events from agent hook scripts. Agents that
// support lifecycle hooks drop small JSON files into <tower-dir>/events/;
// a filesystem watcher parses them and hands the events to the tower without
// waiting for the next poll tick.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/asheshgoplani/agent-tower/internal/logging"
	"github.com/asheshgoplani/agent-tower/internal/tower"
)

var log = logging.ForComponent(logging.CompHooks)

// HookEvent is the JSON payload hook scripts write. Kind uses the same
// names as the notification pipeline: "permission", "error", "deploy".
type HookEvent struct {
	Session  string   `json:"session"`
	Kind     string   `json:"kind"`
	Text     string   `json:"text"`
	KeyLines []string `json:"key_lines,omitempty"`
}

// Ingester accepts hook events into the notification pipeline.
type Ingester interface {
	IngestEvent(ctx context.Context, session string, kind tower.EventKind, raw string, keyLines []string) error
}

// Watcher watches an events directory for dropped JSON hook files.
type Watcher struct {
	eventsDir string
	watcher   *fsnotify.Watcher
	ingester  Ingester
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// NewWatcher creates a watcher on eventsDir, creating the directory if
// needed. Call Start in a goroutine.
func NewWatcher(eventsDir string, ingester Ingester) (*Watcher, error) {
	if err := os.MkdirAll(eventsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create events dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		eventsDir: eventsDir,
		watcher:   fw,
		ingester:  ingester,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start watches the events directory until Stop is called or ctx is
// cancelled. Blocks; run in a goroutine.
func (w *Watcher) Start(ctx context.Context) {
	defer close(w.done)

	if err := w.watcher.Add(w.eventsDir); err != nil {
		log.Warn("hook_watcher_add_failed",
			slog.String("dir", w.eventsDir),
			slog.String("error", err.Error()),
		)
		return
	}

	// Drain anything dropped before we started watching.
	w.sweepExisting(ctx)

	// Coalesce rapid file events: editors and hook scripts often produce
	// a create followed by several writes for the same file.
	var debounceTimer *time.Timer
	pendingFiles := make(map[string]bool)
	var pendingMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			pendingMu.Lock()
			pendingFiles[event.Name] = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				pendingMu.Lock()
				files := make([]string, 0, len(pendingFiles))
				for f := range pendingFiles {
					files = append(files, f)
				}
				pendingFiles = make(map[string]bool)
				pendingMu.Unlock()

				for _, f := range files {
					w.processEventFile(ctx, f)
				}
			})
			pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("hook_watcher_error", slog.String("error", err.Error()))
		}
	}
}

// Stop shuts the watcher down and waits for Start to return.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
	<-w.done
}

// sweepExisting processes files already present at startup, so events
// dropped while the tower was down are not lost.
func (w *Watcher) sweepExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.eventsDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		w.processEventFile(ctx, filepath.Join(w.eventsDir, e.Name()))
	}
}

// processEventFile reads, validates, ingests, and removes one hook file.
// Malformed files are deleted without ingestion so they don't wedge the
// directory.
func (w *Watcher) processEventFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	defer os.Remove(path)

	var he HookEvent
	if err := json.Unmarshal(data, &he); err != nil {
		log.Warn("hook_event_malformed",
			slog.String("file", filepath.Base(path)),
			slog.String("error", err.Error()),
		)
		return
	}
	if he.Session == "" {
		log.Warn("hook_event_missing_session", slog.String("file", filepath.Base(path)))
		return
	}

	kind, ok := parseKind(he.Kind)
	if !ok {
		log.Warn("hook_event_unknown_kind",
			slog.String("session", he.Session),
			slog.String("kind", he.Kind),
		)
		return
	}

	if err := w.ingester.IngestEvent(ctx, he.Session, kind, he.Text, he.KeyLines); err != nil {
		log.Warn("hook_event_rejected",
			slog.String("session", he.Session),
			slog.String("kind", he.Kind),
			slog.String("error", err.Error()),
		)
		return
	}
	log.Debug("hook_event_ingested",
		slog.String("session", he.Session),
		slog.String("kind", he.Kind),
	)
}

func parseKind(s string) (tower.EventKind, bool) {
	switch s {
	case "permission":
		return tower.EventPermission, true
	case "error":
		return tower.EventError, true
	case "deploy":
		return tower.EventDeploy, true
	case "stuck":
		return tower.EventStuck, true
	default:
		return "", false
	}
}
