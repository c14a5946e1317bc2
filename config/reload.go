// 配置文件热重载。
//
// 文件变化时重新加载并校验配置，计算字段级差异后通知回调。
// 只有 hotReloadable 中的字段会在运行时生效，其余变更记录警告并等待重启。
package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConfigChange 单个字段的变更
type ConfigChange struct {
	// Path 字段路径，如 "Log.Level"
	Path            string `json:"path"`
	OldValue        any    `json:"old_value,omitempty"`
	NewValue        any    `json:"new_value,omitempty"`
	RequiresRestart bool   `json:"requires_restart"`
}

// ReloadCallback 新配置生效后调用
type ReloadCallback func(oldConfig, newConfig *Config, changes []ConfigChange)

// hotReloadable 运行时可生效的字段
var hotReloadable = map[string]bool{
	"Log.Level":      true,
	"Workflow.Roles": true,
}

// sensitiveFields 日志中脱敏的字段
var sensitiveFields = map[string]bool{
	"Database.Password": true,
	"Redis.Password":    true,
	"Mongo.URI":         true,
	"JWT.Secret":        true,
	"Server.APIKeys":    true,
}

// IsHotReloadable 字段是否可以不重启生效
func IsHotReloadable(path string) bool {
	return hotReloadable[path]
}

// ReloaderOption 配置 Reloader
type ReloaderOption func(*Reloader)

// WithReloaderLogger 设置日志
func WithReloaderLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReloadInterval 设置文件轮询间隔
func WithReloadInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) { r.interval = d }
}

// Reloader 配置热重载管理器
type Reloader struct {
	mu        sync.RWMutex
	config    *Config
	path      string
	envPrefix string
	callbacks []ReloadCallback
	interval  time.Duration
	logger    *zap.Logger
	watcher   *FileWatcher
}

// NewReloader 以当前配置和配置文件路径创建
func NewReloader(current *Config, path string, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		config:    current,
		path:      path,
		envPrefix: "DOCFLOW",
		interval:  2 * time.Second,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "config_reloader"))
	return r
}

// Current 返回当前生效的配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// OnReload 注册回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Reload 从文件重新加载。加载或校验失败时保留当前配置。
func (r *Reloader) Reload() error {
	next, err := NewLoader().WithConfigPath(r.path).WithEnvPrefix(r.envPrefix).Load()
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	prev := r.config
	changes := DiffConfig(prev, next)
	if len(changes) == 0 {
		r.mu.Unlock()
		return nil
	}
	r.config = next
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()

	restart := false
	for _, c := range changes {
		r.logChange(c)
		restart = restart || c.RequiresRestart
	}
	if restart {
		r.logger.Warn("some configuration changes require restart to take effect")
	}

	if err := notifySafe(callbacks, prev, next, changes); err != nil {
		r.mu.Lock()
		if r.config == next {
			r.config = prev
		}
		r.mu.Unlock()
		r.logger.Error("reload callback failed, previous config restored", zap.Error(err))
		return err
	}
	r.logger.Info("configuration reloaded", zap.Int("changes", len(changes)))
	return nil
}

func notifySafe(callbacks []ReloadCallback, prev, next *Config, changes []ConfigChange) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("reload callback panicked: %v", rec)
		}
	}()
	for _, cb := range callbacks {
		cb(prev, next, changes)
	}
	return nil
}

func (r *Reloader) logChange(c ConfigChange) {
	fields := []zap.Field{
		zap.String("path", c.Path),
		zap.Bool("requires_restart", c.RequiresRestart),
	}
	if !sensitiveFields[c.Path] {
		fields = append(fields, zap.Any("old_value", c.OldValue), zap.Any("new_value", c.NewValue))
	}
	r.logger.Info("configuration changed", fields...)
}

// Start 监听配置文件
func (r *Reloader) Start(ctx context.Context) error {
	if r.path == "" {
		return fmt.Errorf("no config path set")
	}
	w, err := NewFileWatcher([]string{r.path},
		WithPollInterval(r.interval),
		WithWatcherLogger(r.logger),
	)
	if err != nil {
		return err
	}
	w.OnChange(func(evt FileEvent) {
		if evt.Op == FileOpRemove {
			return
		}
		if err := r.Reload(); err != nil {
			r.logger.Error("failed to reload configuration, keeping current config",
				zap.String("path", evt.Path), zap.Error(err))
		}
	})
	if err := w.Start(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()
	return nil
}

// Stop 停止监听
func (r *Reloader) Stop() {
	r.mu.Lock()
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

// DiffConfig 逐字段比较两份配置
func DiffConfig(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}

		oldField, newField := oldVal.Field(i), newVal.Field(i)
		if oldField.Kind() == reflect.Struct {
			compareStructs(path, oldField, newField, changes)
			continue
		}
		if reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			continue
		}
		*changes = append(*changes, ConfigChange{
			Path:            path,
			OldValue:        oldField.Interface(),
			NewValue:        newField.Interface(),
			RequiresRestart: !hotReloadable[path],
		})
	}
}
