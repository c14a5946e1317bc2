// 文件变更监听器。
//
// fsnotify 监听所在目录并去抖，轮询作为兜底；两条路径都比较文件内容摘要，
// 内容不变的写入（如 touch）不会触发回调。
package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileOp 文件操作类型
type FileOp int

const (
	// FileOpCreate 文件出现
	FileOpCreate FileOp = iota
	// FileOpWrite 文件内容变化
	FileOpWrite
	// FileOpRemove 文件消失
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent 文件变更事件
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounce 设置 fsnotify 事件的去抖时间，编辑器分多次写入时只比较一次
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// FileWatcher 监听一组文件的内容变化
type FileWatcher struct {
	mu        sync.Mutex
	paths     []string
	digests   map[string][sha256.Size]byte
	callbacks []func(FileEvent)
	interval  time.Duration
	debounce  time.Duration
	logger    *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileWatcher 创建监听器，路径统一转为绝对路径。文件不存在时等待其出现。
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		digests:  make(map[string][sha256.Size]byte),
		interval: time.Second,
		debounce: 100 * time.Millisecond,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "file_watcher"))

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", p, err)
		}
		w.paths = append(w.paths, abs)
		digest, err := fileDigest(abs)
		switch {
		case err == nil:
			w.digests[abs] = digest
		case errors.Is(err, os.ErrNotExist):
			w.logger.Warn("watched file does not exist, will watch for creation", zap.String("path", abs))
		default:
			return nil, fmt.Errorf("failed to read %s: %w", abs, err)
		}
	}
	return w, nil
}

func fileDigest(path string) ([sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// OnChange 注册变更回调，回调在监听 goroutine 中串行执行
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Paths 返回监听的绝对路径
func (w *FileWatcher) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.paths...)
}

// IsRunning 是否正在监听
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done != nil
}

// Start 启动监听。fsnotify 不可用时只靠轮询。
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return fmt.Errorf("watcher already running")
	}
	fsw := w.newNotifier()
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.loop(ctx, w.done, fsw)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.paths),
		zap.Bool("fsnotify", fsw != nil),
		zap.Duration("interval", w.interval))
	return nil
}

// newNotifier 监听文件所在目录：编辑器常以 rename 方式替换文件，直接监听文件会丢失后续事件
func (w *FileWatcher) newNotifier() *fsnotify.Watcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, falling back to polling", zap.Error(err))
		return nil
	}
	dirs := make(map[string]struct{})
	for _, p := range w.paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	added := 0
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn("failed to watch directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		added++
	}
	if added == 0 {
		_ = fsw.Close()
		return nil
	}
	return fsw
}

// Stop 停止监听并等待 goroutine 退出
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("file watcher stopped")
}

func (w *FileWatcher) loop(ctx context.Context, done chan struct{}, fsw *fsnotify.Watcher) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		events  <-chan fsnotify.Event
		errs    <-chan error
		pending <-chan time.Time
	)
	if fsw != nil {
		defer fsw.Close()
		events, errs = fsw.Events, fsw.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flush()
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if w.watches(evt.Name) {
				pending = time.After(w.debounce)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		case <-pending:
			pending = nil
			w.flush()
		}
	}
}

func (w *FileWatcher) flush() {
	for _, evt := range w.poll() {
		w.dispatch(evt)
	}
}

// watches 判断事件是否属于监听的文件；paths 构造后不再修改
func (w *FileWatcher) watches(name string) bool {
	name = filepath.Clean(name)
	for _, p := range w.paths {
		if p == name {
			return true
		}
	}
	return false
}

// poll 比较摘要并生成事件
func (w *FileWatcher) poll() []FileEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	var events []FileEvent
	now := time.Now()
	for _, path := range w.paths {
		prev, tracked := w.digests[path]
		digest, err := fileDigest(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && tracked {
				delete(w.digests, path)
				events = append(events, FileEvent{Path: path, Op: FileOpRemove, Timestamp: now})
			} else if !errors.Is(err, os.ErrNotExist) {
				w.logger.Warn("failed to read watched file", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		switch {
		case !tracked:
			events = append(events, FileEvent{Path: path, Op: FileOpCreate, Timestamp: now})
		case digest != prev:
			events = append(events, FileEvent{Path: path, Op: FileOpWrite, Timestamp: now})
		default:
			continue
		}
		w.digests[path] = digest
	}
	return events
}

func (w *FileWatcher) dispatch(evt FileEvent) {
	w.mu.Lock()
	callbacks := append(([]func(FileEvent))(nil), w.callbacks...)
	w.mu.Unlock()

	w.logger.Debug("dispatching file event",
		zap.String("path", evt.Path),
		zap.String("op", evt.Op.String()))
	for _, cb := range callbacks {
		cb(evt)
	}
}
