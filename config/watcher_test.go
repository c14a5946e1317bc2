package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []FileEvent
}

func (r *eventRecorder) record(evt FileEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) ops() []FileOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FileOp, len(r.events))
	for i, e := range r.events {
		out[i] = e.Op
	}
	return out
}

func TestNewFileWatcher(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(f, []byte("routes: []"), 0o644))

	w, err := NewFileWatcher([]string{f, filepath.Join(dir, "later.yaml")})
	require.NoError(t, err)
	assert.Equal(t, []string{f, filepath.Join(dir, "later.yaml")}, w.Paths())
	assert.False(t, w.IsRunning())
	assert.Equal(t, time.Second, w.interval)
	assert.Equal(t, 100*time.Millisecond, w.debounce)
	assert.True(t, w.watches(f))
	assert.False(t, w.watches(filepath.Join(dir, "other.yaml")))
}

func TestFileWatcher_Poll(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(f, []byte("a"), 0o644))

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)
	assert.Empty(t, w.poll())

	// 内容不变的写入不产生事件
	require.NoError(t, os.WriteFile(f, []byte("a"), 0o644))
	assert.Empty(t, w.poll())

	require.NoError(t, os.WriteFile(f, []byte("b"), 0o644))
	events := w.poll()
	require.Len(t, events, 1)
	assert.Equal(t, FileOpWrite, events[0].Op)

	require.NoError(t, os.Remove(f))
	events = w.poll()
	require.Len(t, events, 1)
	assert.Equal(t, FileOpRemove, events[0].Op)
	assert.Empty(t, w.poll())

	require.NoError(t, os.WriteFile(f, []byte("c"), 0o644))
	events = w.poll()
	require.Len(t, events, 1)
	assert.Equal(t, FileOpCreate, events[0].Op)
}

func TestFileWatcher_StartStop(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(f, []byte("a"), 0o644))

	w, err := NewFileWatcher([]string{f}, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	rec := &eventRecorder{}
	w.OnChange(rec.record)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(f, []byte("b"), 0o644))
	require.Eventually(t, func() bool {
		return len(rec.ops()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	for _, op := range rec.ops() {
		assert.Equal(t, FileOpWrite, op)
	}

	w.Stop()
	w.Stop()
	assert.False(t, w.IsRunning())
}

// 轮询间隔足够长时，变更只能经由 fsnotify 送达
func TestFileWatcher_Notify(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(f, []byte("a"), 0o644))

	w, err := NewFileWatcher([]string{f}, WithPollInterval(time.Hour), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	rec := &eventRecorder{}
	w.OnChange(rec.record)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// 同目录其他文件不触发
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644))

	// rename 替换
	tmp := filepath.Join(dir, ".routes.yaml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("b"), 0o644))
	require.NoError(t, os.Rename(tmp, f))

	require.Eventually(t, func() bool {
		return len(rec.ops()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []FileOp{FileOpWrite}, rec.ops())
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(42).String())
}
