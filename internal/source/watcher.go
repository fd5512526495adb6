package source

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind distinguishes watcher notifications.
type ChangeKind int

const (
	ChangeWrite ChangeKind = iota
	ChangeRemove
)

// Change is one debounced rule-file event, keyed by hierarchy path.
type Change struct {
	RulePath string
	Kind     ChangeKind
}

// Watcher emits Changes for rule files under a loader's root. Rapid
// event bursts for the same file collapse into one notification.
type Watcher struct {
	loader   *Loader
	fw       *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]ChangeKind
	timer   *time.Timer

	onChange func(Change)
	done     chan struct{}
}

// NewWatcher wires a recursive watcher over the loader's root. The
// onChange callback fires from the watcher goroutine after the debounce
// window closes.
func NewWatcher(l *Loader, debounce time.Duration, onChange func(Change)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	w := &Watcher{
		loader:   l,
		fw:       fw,
		debounce: debounce,
		pending:  map[string]ChangeKind{},
		onChange: onChange,
		done:     make(chan struct{}),
	}
	if err := w.addRecursive(l.Root()); err != nil {
		_ = fw.Close()
		return nil, err
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") && p != dir {
			return filepath.SkipDir
		}
		if err := w.fw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("source watcher: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Chmod == fsnotify.Chmod {
		return
	}

	// New directories need to join the watch set for recursion to hold.
	if ev.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				log.Printf("source watcher: %v", err)
			}
			return
		}
	}

	ext := strings.ToLower(filepath.Ext(ev.Name))
	if _, ok := w.loader.exts[ext]; !ok {
		return
	}
	rel, err := w.loader.RulePath(ev.Name)
	if err != nil {
		return
	}

	kind := ChangeWrite
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		kind = ChangeRemove
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	// A remove supersedes a pending write, never the reverse.
	if prev, ok := w.pending[rel]; !ok || prev != ChangeRemove {
		w.pending[rel] = kind
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = map[string]ChangeKind{}
	w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}
	for p, kind := range pending {
		w.onChange(Change{RulePath: p, Kind: kind})
	}
}

// Close stops the watcher. Pending debounced events are dropped.
func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fw.Close()
}
