// Package notify watches a drop directory for backup files and hands them
// to a callback, typically auto-validation or import.
package notify

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// dedupWindow suppresses repeat events for the same path. Editors and
// copy tools fire several Create/Write events per file; only the first
// one within the window is dispatched.
const dedupWindow = 2 * time.Second

// DropWatcher watches a directory for new backup files.
type DropWatcher struct {
	dir      string
	callback func(path string)
	watcher  *fsnotify.Watcher
	done     chan struct{}

	mu       sync.Mutex
	lastSeen map[string]time.Time
	now      func() time.Time
}

// NewDropWatcher creates a watcher for dir. callback receives the path of
// each newly dropped backup file.
func NewDropWatcher(dir string, callback func(path string)) *DropWatcher {
	return &DropWatcher{
		dir:      dir,
		callback: callback,
		done:     make(chan struct{}),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Start begins watching. Backup files already present in the directory
// are dispatched first, then new arrivals. Call Stop to clean up.
func (dw *DropWatcher) Start() error {
	if err := os.MkdirAll(dw.dir, 0o755); err != nil {
		return err
	}

	dw.drainExisting()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dw.dir); err != nil {
		_ = w.Close()
		return err
	}
	dw.watcher = w

	go dw.loop()
	log.Printf("notify: watching %s for backup files", dw.dir)
	return nil
}

// Stop shuts down the watcher.
func (dw *DropWatcher) Stop() {
	if dw.watcher != nil {
		_ = dw.watcher.Close()
	}
	<-dw.done
}

func (dw *DropWatcher) loop() {
	defer close(dw.done)
	for {
		select {
		case evt, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write) != 0 && isBackupFile(evt.Name) {
				dw.dispatch(evt.Name)
			}
		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

func (dw *DropWatcher) drainExisting() {
	entries, err := os.ReadDir(dw.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && isBackupFile(entry.Name()) {
			dw.dispatch(filepath.Join(dw.dir, entry.Name()))
		}
	}
}

// dispatch invokes the callback unless the same path fired within the
// de-dup window.
func (dw *DropWatcher) dispatch(path string) {
	now := dw.now()

	dw.mu.Lock()
	if last, ok := dw.lastSeen[path]; ok && now.Sub(last) < dedupWindow {
		dw.mu.Unlock()
		return
	}
	dw.lastSeen[path] = now
	for p, t := range dw.lastSeen {
		if now.Sub(t) >= dedupWindow {
			delete(dw.lastSeen, p)
		}
	}
	dw.mu.Unlock()

	if dw.callback != nil {
		dw.callback(path)
	}
}

// isBackupFile reports whether name looks like a backup envelope.
// Temp files from in-progress writes are ignored.
func isBackupFile(name string) bool {
	if strings.HasSuffix(name, ".tmp") {
		return false
	}
	return strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.gz")
}
