// watcher.go: Polling watcher that reloads records edited on disk
//
// The watcher polls a small set of files with os.Stat, caching results for
// CacheTTL with the cached clock, and reports creations, modifications and
// deletions to a callback. The Synchronizer uses it to pick up record files
// edited by hand or by the CLI while the host runs.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tweaksync

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// ChangeEvent describes a change to a watched file
type ChangeEvent struct {
	Path     string
	ModTime  time.Time
	Size     int64
	IsCreate bool
	IsDelete bool
	IsModify bool
}

// ChangeCallback is invoked from the polling goroutine
type ChangeCallback func(event ChangeEvent)

type fileStat struct {
	modTime  time.Time
	size     int64
	exists   bool
	cachedAt int64
}

func (fs fileStat) isExpired(ttl time.Duration) bool {
	return timecache.CachedTimeNano()-fs.cachedAt > int64(ttl)
}

func (fs fileStat) differs(other fileStat) bool {
	return fs.exists != other.exists || !fs.modTime.Equal(other.modTime) || fs.size != other.size
}

type watchedFile struct {
	path     string
	callback ChangeCallback
	lastStat fileStat
}

// Watcher polls files for changes
type Watcher struct {
	pollInterval time.Duration
	cacheTTL     time.Duration
	errorHandler ErrorHandler

	files   map[string]*watchedFile
	filesMu sync.Mutex
	// pollMu serializes checks so Rebase never races a poll
	pollMu sync.Mutex

	statCache atomic.Pointer[map[string]fileStat]

	running   atomic.Bool
	stopped   atomic.Bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewWatcher creates an idle watcher using the timing fields of config
func NewWatcher(config Config) *Watcher {
	cfg := config.WithDefaults()
	w := &Watcher{
		pollInterval: cfg.PollInterval,
		cacheTTL:     cfg.CacheTTL,
		errorHandler: cfg.ErrorHandler,
		files:        make(map[string]*watchedFile),
		stopCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
	}
	empty := make(map[string]fileStat)
	w.statCache.Store(&empty)
	return w
}

// Watch adds path. The file does not need to exist yet.
func (w *Watcher) Watch(path string, callback ChangeCallback) error {
	if callback == nil {
		return errors.New(ErrCodeInvalidConfig, "callback cannot be nil")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "invalid file path").WithContext("path", path)
	}

	initial, err := w.stat(absPath, true)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, ErrCodeIOError, "failed to stat file").WithContext("path", absPath)
	}

	w.filesMu.Lock()
	w.files[absPath] = &watchedFile{path: absPath, callback: callback, lastStat: initial}
	w.filesMu.Unlock()
	return nil
}

// Unwatch removes path
func (w *Watcher) Unwatch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "invalid file path").WithContext("path", path)
	}
	w.filesMu.Lock()
	delete(w.files, absPath)
	w.filesMu.Unlock()
	w.removeFromCache(absPath)
	return nil
}

// WatchedFiles returns the number of watched files
func (w *Watcher) WatchedFiles() int {
	w.filesMu.Lock()
	defer w.filesMu.Unlock()
	return len(w.files)
}

// Rebase records the current state of path as already seen, so a change the
// caller made itself is not reported
func (w *Watcher) Rebase(path string) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.pollMu.Lock()
	defer w.pollMu.Unlock()

	w.filesMu.Lock()
	wf, ok := w.files[absPath]
	w.filesMu.Unlock()
	if !ok {
		return
	}
	current, _ := w.stat(absPath, true)
	wf.lastStat = current
}

// Start begins polling in a background goroutine. A watcher can be started
// only once; Start after Stop fails with ErrCodeWatcherStopped.
func (w *Watcher) Start() error {
	if w.stopped.Load() {
		return errors.New(ErrCodeWatcherStopped, "watcher was stopped and cannot be restarted")
	}
	if !w.running.CompareAndSwap(false, true) {
		return errors.New(ErrCodeWatcherBusy, "watcher is already running")
	}
	go w.watchLoop()
	return nil
}

// Stop stops polling and waits for the loop to exit
func (w *Watcher) Stop() error {
	if !w.running.CompareAndSwap(true, false) {
		return errors.New(ErrCodeWatcherStopped, "watcher is not running")
	}
	w.stopped.Store(true)
	close(w.stopCh)
	<-w.stoppedCh
	return nil
}

// IsRunning reports whether the polling loop is active
func (w *Watcher) IsRunning() bool {
	return w.running.Load()
}

// Poll checks every file once, synchronously
func (w *Watcher) Poll() {
	w.filesMu.Lock()
	files := make([]*watchedFile, 0, len(w.files))
	for _, wf := range w.files {
		files = append(files, wf)
	}
	w.filesMu.Unlock()

	for _, wf := range files {
		w.checkFile(wf)
	}
}

func (w *Watcher) watchLoop() {
	defer close(w.stoppedCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Poll()
		}
	}
}

func (w *Watcher) checkFile(wf *watchedFile) {
	w.pollMu.Lock()
	current, err := w.stat(wf.path, false)
	if err != nil && !os.IsNotExist(err) {
		w.pollMu.Unlock()
		w.errorHandler(errors.Wrap(err, ErrCodeIOError, "failed to stat file").
			WithContext("path", wf.path), wf.path)
		return
	}
	if !current.differs(wf.lastStat) {
		w.pollMu.Unlock()
		return
	}

	event := ChangeEvent{
		Path:     wf.path,
		ModTime:  current.modTime,
		Size:     current.size,
		IsCreate: current.exists && !wf.lastStat.exists,
		IsDelete: !current.exists && wf.lastStat.exists,
	}
	event.IsModify = current.exists && wf.lastStat.exists
	wf.lastStat = current
	w.pollMu.Unlock()

	w.dispatch(wf, event)
}

// dispatch runs the callback, turning a panic into a reported error
func (w *Watcher) dispatch(wf *watchedFile, event ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.errorHandler(errors.New(ErrCodeIOError, "watch callback panicked").
				WithContext("path", wf.path).
				WithContext("panic", r), wf.path)
		}
	}()
	wf.callback(event)
}

// stat returns the cached stat of path, refreshing it when expired or forced
func (w *Watcher) stat(path string, force bool) (fileStat, error) {
	if !force {
		if cached, ok := (*w.statCache.Load())[path]; ok && !cached.isExpired(w.cacheTTL) {
			return cached, nil
		}
	}

	info, err := os.Stat(path)
	stat := fileStat{cachedAt: timecache.CachedTimeNano(), exists: err == nil}
	if err == nil {
		stat.modTime = info.ModTime()
		stat.size = info.Size()
	}
	w.updateCache(path, stat)
	return stat, err
}

// updateCache replaces the cache map copy-on-write
func (w *Watcher) updateCache(path string, stat fileStat) {
	for {
		oldPtr := w.statCache.Load()
		next := make(map[string]fileStat, len(*oldPtr)+1)
		for k, v := range *oldPtr {
			next[k] = v
		}
		next[path] = stat
		if w.statCache.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

func (w *Watcher) removeFromCache(path string) {
	for {
		oldPtr := w.statCache.Load()
		if _, ok := (*oldPtr)[path]; !ok {
			return
		}
		next := make(map[string]fileStat, len(*oldPtr))
		for k, v := range *oldPtr {
			if k != path {
				next[k] = v
			}
		}
		if w.statCache.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

// ClearCache drops every cached stat
func (w *Watcher) ClearCache() {
	empty := make(map[string]fileStat)
	w.statCache.Store(&empty)
}

// =============================================================================
// SYNCHRONIZER INTEGRATION
// =============================================================================

// StartWatching reloads a record whenever its file changes on disk. Only a
// FileStore can be watched. Deleting a record file does not reset the record;
// the next Save writes it again.
func (s *Synchronizer) StartWatching() error {
	files, ok := s.store.(*FileStore)
	if !ok {
		return errors.New(ErrCodeWatchUnsupported, "only file stores can be watched")
	}

	s.watchedMu.Lock()
	defer s.watchedMu.Unlock()
	if s.watcher != nil {
		return errors.New(ErrCodeWatcherBusy, "store is already being watched")
	}

	watcher := NewWatcher(s.config)
	for _, t := range s.catalog.order {
		path, err := files.PathFor(KeyFor(t))
		if err != nil {
			return err
		}
		recordType := t
		if err := watcher.Watch(path, func(event ChangeEvent) {
			if event.IsDelete {
				return
			}
			s.reloadIfValid(recordType)
		}); err != nil {
			return err
		}
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	s.watcher = watcher
	return nil
}

// reloadIfValid swaps in the record from the store only when it decodes
// cleanly. A file caught mid-edit keeps the live record, so the next Save
// does not write defaults over it.
func (s *Synchronizer) reloadIfValid(t RecordType) {
	record, _ := s.catalog.NewRecord(t)
	key := KeyFor(t)
	if err := s.store.Load(key, record); err != nil {
		s.config.ErrorHandler(errors.Wrap(err, ErrCodeLoadFailed, "failed to reload settings, keeping current record").
			WithContext("record_type", string(t)), key)
		s.audit.LogSettings(AuditWarn, "reload_skipped", t,
			map[string]interface{}{"reason": err.Error()})
		return
	}
	s.replace(t, record)
	s.audit.LogSettings(AuditInfo, "settings_reloaded", t, nil)
}

// StopWatching stops the store watcher
func (s *Synchronizer) StopWatching() error {
	s.watchedMu.Lock()
	watcher := s.watcher
	s.watcher = nil
	s.watchedMu.Unlock()

	if watcher == nil {
		return errors.New(ErrCodeWatcherStopped, "store is not being watched")
	}
	return watcher.Stop()
}

// IsWatching reports whether the store watcher is running
func (s *Synchronizer) IsWatching() bool {
	s.watchedMu.Lock()
	defer s.watchedMu.Unlock()
	return s.watcher != nil
}

// rebaseWatch marks a record file the synchronizer just wrote as seen
func (s *Synchronizer) rebaseWatch(key string) {
	s.watchedMu.Lock()
	watcher := s.watcher
	s.watchedMu.Unlock()
	if watcher == nil {
		return
	}
	if files, ok := s.store.(*FileStore); ok {
		if path, err := files.PathFor(key); err == nil {
			watcher.Rebase(path)
		}
	}
}
