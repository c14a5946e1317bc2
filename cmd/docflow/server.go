package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/docflow/api/handlers"
	"github.com/BaSui01/docflow/config"
	"github.com/BaSui01/docflow/internal/cache"
	"github.com/BaSui01/docflow/internal/database"
	"github.com/BaSui01/docflow/internal/metrics"
	"github.com/BaSui01/docflow/internal/migration"
	"github.com/BaSui01/docflow/internal/server"
	"github.com/BaSui01/docflow/internal/telemetry"
	"github.com/BaSui01/docflow/workflow"
	"github.com/BaSui01/docflow/workflow/store"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 DocFlow 的主服务器，持有引擎及其全部外部连接
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	// 指标
	registry  *prometheus.Registry
	collector *metrics.Collector
	otel      *telemetry.Providers

	// 存储连接
	pool       *database.PoolManager
	redis      *redis.Client
	routeCache *cache.Manager
	mongo      *mongo.Client

	// 引擎
	engine      *workflow.Engine
	staticRoles atomic.Pointer[workflow.StaticRoleResolver]
	scanner     *workflow.TimeoutScanner

	// 文件监听
	routesWatcher *config.FileWatcher
	reloader      *config.Reloader

	// 服务器管理器
	handler        http.Handler
	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 创建服务器实例，level 用于热更新日志级别
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Run 初始化全部组件并阻塞到 ctx 取消或任一服务器失败，随后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		s.Shutdown()
		return err
	}

	s.scanner.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	g.Go(func() error { return s.metricsManager.Run(gctx) })

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("tls", s.cfg.Server.TLSCertFile != ""),
		zap.String("store_backend", s.cfg.Store.Backend),
	)

	err := g.Wait()
	s.Shutdown()
	return err
}

func (s *Server) init(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"telemetry", s.initTelemetry},
		{"storage", s.initStorage},
		{"engine", s.initEngine},
		{"routes", s.initRoutes},
		{"config reload", s.initReloader},
		{"http", s.initHTTP},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("failed to init %s: %w", step.name, err)
		}
	}
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initTelemetry(context.Context) error {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("docflow", s.registry, s.logger)

	providers, err := telemetry.Init(s.cfg.Telemetry, Version, s.logger)
	if err != nil {
		// 遥测不可用时继续提供服务
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	s.otel = providers
	return nil
}

// initStorage 按 store 配置建立数据库、Redis、Mongo 连接，只连接用得到的后端
func (s *Server) initStorage(ctx context.Context) error {
	st := s.cfg.Store

	if st.Backend == string(store.BackendGorm) {
		db, err := database.Open(s.cfg.Database, s.logger)
		if err != nil {
			return err
		}
		pool, err := database.NewPoolManager(db, database.PoolConfigFrom(s.cfg.Database), s.logger,
			database.WithStatsHook(func(st database.PoolStats) {
				s.collector.RecordDBConnections(s.cfg.Database.Driver, st.OpenConnections, st.Idle, st.InUse)
			}),
		)
		if err != nil {
			return err
		}
		s.pool = pool

		if err := runMigrations(ctx, s.cfg.Database, s.logger); err != nil {
			return err
		}
	}

	if s.redisCritical() || st.RouteCacheTTL > 0 {
		client, err := cache.OpenRedis(ctx, s.cfg.Redis, s.logger)
		if err != nil {
			return err
		}
		s.redis = client
	}

	if st.RouteCacheTTL > 0 {
		rc, err := cache.NewManager(s.redis, cache.Config{
			KeyPrefix:           s.cfg.Redis.KeyPrefix + "cache:",
			DefaultTTL:          st.RouteCacheTTL,
			HealthCheckInterval: time.Minute,
		}, s.logger, cache.WithHitHook(func(hit bool) {
			s.collector.RecordCacheLookup("route", hit)
		}))
		if err != nil {
			return err
		}
		s.routeCache = rc
	}

	if st.Backend == string(store.BackendMongo) {
		client, err := connectMongo(ctx, s.cfg.Mongo, s.logger)
		if err != nil {
			return err
		}
		s.mongo = client
	}
	return nil
}

func (s *Server) initEngine(ctx context.Context) error {
	deps := store.Deps{
		Redis:     s.redis,
		KeyPrefix: s.cfg.Redis.KeyPrefix,
		Logger:    s.logger,
	}
	if s.pool != nil {
		deps.DB = s.pool.DB()
	}
	if s.mongo != nil {
		deps.Mongo = s.mongo.Database(s.cfg.Mongo.Database)
		if err := ensureMongoIndexes(ctx, deps.Mongo); err != nil {
			return err
		}
	}
	if s.routeCache != nil {
		deps.RouteCache = s.routeCache
		deps.RouteCacheTTL = s.cfg.Store.RouteCacheTTL
	}

	stores, err := store.New(store.Backend(s.cfg.Store.Backend), store.QueueBackend(s.cfg.Store.NotificationQueue), deps)
	if err != nil {
		return err
	}

	otelObserver, err := telemetry.NewWorkflowObserver(s.otel.MeterProvider())
	if err != nil {
		return fmt.Errorf("create workflow observer: %w", err)
	}

	s.staticRoles.Store(workflow.NewStaticRoleResolver(s.cfg.Workflow.Roles))
	resolvers := []workflow.RoleResolver{
		workflow.RoleResolverFunc(func(ctx context.Context, userID, role string) (bool, error) {
			return s.staticRoles.Load().HasRole(ctx, userID, role)
		}),
	}
	if deps.DB != nil {
		resolvers = append(resolvers, store.NewGormRoleDirectory(deps.DB))
	}

	s.engine = workflow.NewEngine(stores.Routes, stores.Instances,
		workflow.NewClaimsRoleResolver(anyRole(resolvers...)),
		workflow.WithLogger(s.logger),
		workflow.WithNotifier(stores.Notifier),
		workflow.WithObserver(workflow.Observers(s.collector, otelObserver)),
		workflow.WithActionURLBase(s.cfg.Workflow.ActionURLBase),
		workflow.WithRouteTimeoutFallback(s.cfg.Workflow.RouteTimeoutFallback),
		workflow.WithTracer(s.otel.TracerProvider().Tracer("docflow/workflow")),
	)
	s.scanner = workflow.NewTimeoutScanner(s.engine, s.cfg.Workflow.TimeoutScanInterval, s.logger)
	return nil
}

// anyRole 依次询问各角色目录，任一持有即通过
func anyRole(resolvers ...workflow.RoleResolver) workflow.RoleResolver {
	if len(resolvers) == 1 {
		return resolvers[0]
	}
	return workflow.RoleResolverFunc(func(ctx context.Context, userID, role string) (bool, error) {
		for _, r := range resolvers {
			ok, err := r.HasRole(ctx, userID, role)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	})
}

// initRoutes 注册路由文件中的定义，按需监听文件变更
func (s *Server) initRoutes(ctx context.Context) error {
	path := s.cfg.Workflow.RoutesFile
	if path == "" {
		return nil
	}
	if err := s.registerRoutesFile(ctx, path); err != nil {
		return err
	}
	if !s.cfg.Workflow.WatchRoutes {
		return nil
	}

	w, err := config.NewFileWatcher([]string{path}, config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	w.OnChange(func(evt config.FileEvent) {
		if evt.Op == config.FileOpRemove {
			s.logger.Warn("routes file removed, keeping registered routes", zap.String("path", evt.Path))
			return
		}
		if err := s.registerRoutesFile(ctx, evt.Path); err != nil {
			s.logger.Error("failed to re-register routes", zap.String("path", evt.Path), zap.Error(err))
		}
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.routesWatcher = w
	return nil
}

func (s *Server) registerRoutesFile(ctx context.Context, path string) error {
	defs, err := workflow.LoadRoutesFile(path)
	if err != nil {
		return err
	}
	registered, err := s.engine.RegisterRoutes(ctx, defs)
	if err != nil {
		return err
	}
	s.logger.Info("routes registered", zap.String("path", path), zap.Int("count", len(registered)))
	return nil
}

// initReloader 配置文件热重载，仅日志级别与静态角色目录在运行时生效
func (s *Server) initReloader(ctx context.Context) error {
	if s.configPath == "" {
		return nil
	}
	s.reloader = config.NewReloader(s.cfg, s.configPath, config.WithReloaderLogger(s.logger))
	s.reloader.OnReload(func(_, next *config.Config, changes []config.ConfigChange) {
		for _, c := range changes {
			switch c.Path {
			case "Log.Level":
				var lvl zapcore.Level
				if err := lvl.UnmarshalText([]byte(next.Log.Level)); err == nil {
					s.level.SetLevel(lvl)
				}
			case "Workflow.Roles":
				s.staticRoles.Store(workflow.NewStaticRoleResolver(next.Workflow.Roles))
			}
		}
	})
	return s.reloader.Start(ctx)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) initHTTP(ctx context.Context) error {
	router := mux.NewRouter()

	health := handlers.NewHealthHandler(s.logger)
	for _, check := range s.healthChecks() {
		health.RegisterCheck(check)
	}
	health.Register(router, Version, BuildTime, GitCommit)

	handlers.NewWorkflowHandler(s.engine, s.logger).Register(router)

	skipAuthPaths := handlers.HealthPaths
	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		MaxBodyBytes(s.cfg.Server.MaxBodyBytes),
	}
	if len(s.cfg.Server.APIKeys) > 0 {
		chain = append(chain, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger))
	}
	if s.cfg.JWT.Enabled {
		chain = append(chain, JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger))
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		limiter := newRateLimiter(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst)
		go sweepLoop(ctx, limiter)
		chain = append(chain, limiter.middleware())
	}

	s.handler = Chain(router, chain...)
	s.httpManager = server.NewManager(s.handler, server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		TLSCertFile:     s.cfg.Server.TLSCertFile,
		TLSKeyFile:      s.cfg.Server.TLSKeyFile,
	}, s.logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	s.metricsManager = server.NewManager(metricsMux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return nil
}

func sweepLoop(ctx context.Context, l *rateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// healthChecks 为已建立的连接注册就绪检查
func (s *Server) healthChecks() []handlers.HealthCheck {
	var checks []handlers.HealthCheck
	if s.pool != nil {
		checks = append(checks, handlers.NewCheck("database", s.pool.Ping))
	}
	if s.redis != nil {
		ping := func(ctx context.Context) error { return s.redis.Ping(ctx).Err() }
		// 只承载路由缓存时，Redis 故障会回落到存储
		if s.redisCritical() {
			checks = append(checks, handlers.NewCheck("redis", ping))
		} else {
			checks = append(checks, handlers.NewOptionalCheck("redis", ping))
		}
	}
	if s.mongo != nil {
		checks = append(checks, handlers.NewCheck("mongo", func(ctx context.Context) error {
			return s.mongo.Ping(ctx, nil)
		}))
	}
	return checks
}

func (s *Server) redisCritical() bool {
	return s.cfg.Store.Backend == string(store.BackendRedis) ||
		s.cfg.Store.NotificationQueue == string(store.QueueRedis)
}

// =============================================================================
// 🗄️ 存储辅助
// =============================================================================

func runMigrations(ctx context.Context, dbCfg config.DatabaseConfig, logger *zap.Logger) error {
	m, err := migration.NewMigratorFromConfig(&config.Config{Database: dbCfg}, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func connectMongo(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*mongo.Client, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client, err := mongo.Connect(store.MongoClientOptions(cfg.URI).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	logger.Info("mongo connected", zap.String("database", cfg.Database))
	return client, nil
}

func ensureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	if err := store.NewMongoRouteStore(db).EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure route indexes: %w", err)
	}
	if err := store.NewMongoInstanceStore(db).EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure instance indexes: %w", err)
	}
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 按依赖逆序释放资源，可重复调用
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.reloader != nil {
		s.reloader.Stop()
	}
	if s.routesWatcher != nil {
		s.routesWatcher.Stop()
	}
	if s.scanner != nil {
		s.scanner.Stop()
	}
	s.closeStorage(ctx)

	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Error("telemetry shutdown error", zap.Error(err))
	}
	s.logger.Info("graceful shutdown completed")
}

// closeStorage 并发关闭存储连接
func (s *Server) closeStorage(ctx context.Context) {
	// 缓存的健康检查依赖 Redis 客户端，先停
	if s.routeCache != nil {
		_ = s.routeCache.Close()
	}

	var g errgroup.Group
	if s.redis != nil {
		client := s.redis
		g.Go(func() error {
			if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
				return fmt.Errorf("close redis: %w", err)
			}
			return nil
		})
	}
	if s.mongo != nil {
		client := s.mongo
		g.Go(func() error { return client.Disconnect(ctx) })
	}
	if s.pool != nil {
		g.Go(s.pool.Close)
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("storage shutdown error", zap.Error(err))
	}
	s.routeCache, s.redis, s.mongo, s.pool = nil, nil, nil, nil
}
