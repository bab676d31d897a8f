package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/issueforge/internal/logging"
	"github.com/ShayCichocki/issueforge/pkg/models"
)

// ErrQueueLocked is returned when another process already feeds from the directory.
var ErrQueueLocked = errors.New("queue directory is locked by another dispatcher")

const (
	lockFileName = ".dispatch.lock"
	claimedDir   = ".claimed"
	failedDir    = ".failed"
)

// DirFeeder turns YAML work item files dropped into a directory into queue entries.
//
// A file stays in the directory while its item waits in the queue. Settle
// moves it into .claimed once the item was dispatched, or into .failed when
// the backend rejected it, so items the rate limit held back are fed again
// by the next process.
type DirFeeder struct {
	dir    string
	queue  *Queue
	logger logging.Logger

	lock *flock.Flock

	mu     sync.Mutex
	failed map[string]string
	// queued holds the paths whose items are in the queue and not yet settled.
	queued map[string]struct{}
}

// NewDirFeeder creates a feeder for dir, creating the directory if needed.
func NewDirFeeder(dir string, q *Queue, logger logging.Logger) (*DirFeeder, error) {
	for _, sub := range []string{claimedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create queue directory: %w", err)
		}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &DirFeeder{
		dir:    dir,
		queue:  q,
		logger: logger,
		lock:   flock.New(filepath.Join(dir, lockFileName)),
		failed: make(map[string]string),
		queued: make(map[string]struct{}),
	}, nil
}

// Lock takes the directory lock without blocking. It returns ErrQueueLocked
// when another dispatcher holds it.
func (f *DirFeeder) Lock() error {
	locked, err := f.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock queue directory: %w", err)
	}
	if !locked {
		return ErrQueueLocked
	}
	return nil
}

// Unlock releases the directory lock.
func (f *DirFeeder) Unlock() {
	if err := f.lock.Unlock(); err != nil {
		f.logger.Log("[dispatch] unlock queue directory: %v", err)
	}
}

// Start takes the directory lock, enqueues files already present, then
// watches for new ones until ctx is done. The lock is released on return.
func (f *DirFeeder) Start(ctx context.Context) error {
	if err := f.Lock(); err != nil {
		return err
	}
	defer f.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(f.dir); err != nil {
		return fmt.Errorf("watch %s: %w", f.dir, err)
	}

	// Scan after the watch is in place so files created in between are not missed.
	if _, err := f.Scan(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			f.consume(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Log("[dispatch] watcher error: %v", err)
		}
	}
}

// Scan enqueues every work item file currently in the directory that is not
// already queued, and returns how many it fed.
func (f *DirFeeder) Scan() (int, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, fmt.Errorf("read queue directory: %w", err)
	}

	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if f.consume(filepath.Join(f.dir, e.Name())) {
			n++
		}
	}
	return n, nil
}

// Settle moves the file behind a dispatch result out of the queue directory.
// Use it as the dispatcher's result hook. Results without a source file, or
// from another feeder, are ignored.
func (f *DirFeeder) Settle(res DispatchResult) {
	if res.Source == "" {
		return
	}

	// Hold the lock across the rename so a watcher event cannot feed the file again.
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queued[res.Source]; !ok {
		return
	}
	delete(f.queued, res.Source)

	sub := claimedDir
	if !res.Success {
		sub = failedDir
	}
	dest := filepath.Join(f.dir, sub, filepath.Base(res.Source))
	if err := os.Rename(res.Source, dest); err != nil {
		f.logger.Log("[dispatch] settle %s: %v", res.Source, err)
		return
	}
	f.logger.Log("[dispatch] moved %s to %s", filepath.Base(res.Source), sub)
}

// Pending returns how many fed items have not been settled yet.
func (f *DirFeeder) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued)
}

// Failures returns files that could not be parsed, keyed by path.
func (f *DirFeeder) Failures() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]string, len(f.failed))
	for k, v := range f.failed {
		out[k] = v
	}
	return out
}

func (f *DirFeeder) consume(path string) bool {
	if !isItemFile(path) {
		return false
	}

	f.mu.Lock()
	_, dup := f.queued[path]
	f.mu.Unlock()
	if dup {
		return false
	}

	item, err := ReadItemFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	if err != nil {
		// Files are often observed before their content is flushed;
		// a later write event retries.
		f.mu.Lock()
		f.failed[path] = err.Error()
		f.mu.Unlock()
		return false
	}

	f.mu.Lock()
	if _, dup := f.queued[path]; dup {
		f.mu.Unlock()
		return false
	}
	// Settle may have moved the file while it was being read.
	if _, err := os.Stat(path); err != nil {
		f.mu.Unlock()
		return false
	}
	f.queued[path] = struct{}{}
	delete(f.failed, path)
	f.mu.Unlock()

	f.queue.Push(item)
	f.logger.Log("[dispatch] queued %s from %s", item.ID, filepath.Base(path))
	return true
}

func isItemFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := filepath.Ext(base)
	return ext == ".yaml" || ext == ".yml"
}

// ReadItemFile parses one YAML work item. A missing id defaults to the file name.
func ReadItemFile(path string) (models.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("read work item: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return models.WorkItem{}, fmt.Errorf("work item %s is empty", filepath.Base(path))
	}

	var item models.WorkItem
	if err := yaml.Unmarshal(data, &item); err != nil {
		return models.WorkItem{}, fmt.Errorf("parse work item %s: %w", filepath.Base(path), err)
	}
	if item.ID == "" {
		item.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if item.Title == "" {
		item.Title = item.ID
	}
	item.Priority = models.ParsePriority(string(item.Priority))
	item.Source = path
	return item, nil
}
