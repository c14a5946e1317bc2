// =============================================================================
// DocFlow 主入口
// =============================================================================
// 文档审批工作流服务，包含 HTTP API、超时扫描、Prometheus 指标
//
// 使用方法:
//
//	docflow serve                          # 启动服务
//	docflow serve --config config.yaml     # 指定配置文件
//	docflow migrate up                     # 运行数据库迁移
//	docflow scan --config config.yaml      # 执行一次超时扫描
//	docflow routes validate routes.yaml    # 校验路由定义文件
//	docflow version                        # 显示版本信息
//	docflow health                         # 健康检查
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/docflow/config"
	"github.com/BaSui01/docflow/internal/migration"
	"github.com/BaSui01/docflow/internal/tlsutil"
	"github.com/BaSui01/docflow/workflow"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "scan":
		err = runScan(os.Args[2:], os.Stdout)
	case "routes":
		err = runRoutes(os.Args[2:], os.Stdout)
	case "version":
		printVersion(os.Stdout)
	case "health":
		err = runHealthCheck(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载并校验配置，path 为空时只使用默认值与环境变量
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting DocFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewServer(cfg, *configPath, logger, level).Run(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("DocFlow stopped")
	return nil
}

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type: postgres, mysql, sqlite (default: from config)")
	dbURL := fs.String("db-url", "", "Database connection URL (default: from config)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "%s\nOptions (before the command):\n", migration.Usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)

	logger := zap.NewNop()
	var (
		m   *migration.DefaultMigrator
		err error
	)
	if *dbURL != "" {
		m, err = migration.NewMigratorFromURL(*dbType, *dbURL, logger)
	} else {
		var cfg *config.Config
		cfg, err = config.NewLoader().WithConfigPath(*configPath).Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if *dbType != "" {
			cfg.Database.Driver = *dbType
		}
		m, err = migration.NewMigratorFromConfig(cfg, logger)
	}
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	return migration.NewCLI(m).Run(context.Background(), fs.Args())
}

// =============================================================================
// ⏱️ scan 命令
// =============================================================================

// runScan 对配置的存储执行一次超时扫描并输出报告，供 cron 等外部调度使用
func runScan(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := NewServer(cfg, "", logger, zap.NewAtomicLevel())
	defer s.Shutdown()
	for _, step := range []func(context.Context) error{s.initTelemetry, s.initStorage, s.initEngine} {
		if err := step(ctx); err != nil {
			return err
		}
	}

	report, err := s.engine.CheckTimeouts(ctx)
	if err != nil {
		return fmt.Errorf("timeout scan failed: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// =============================================================================
// 🧭 routes 命令
// =============================================================================

func runRoutes(args []string, out io.Writer) error {
	if len(args) < 2 || args[0] != "validate" {
		return errors.New("usage: docflow routes validate <file>")
	}
	routes, err := workflow.LoadRoutesFile(args[1])
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tDOCUMENT TYPE\tSCOPE\tSTEPS\tCOUNTER\tACTIVE")
	for _, r := range routes {
		scope := strings.Trim(r.Department+"/"+r.Branch, "/")
		if scope == "" {
			scope = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%t\t%t\n",
			r.Name, r.Type, r.DocumentType, scope, len(r.Steps), r.RequiresCounterApproval, r.IsActive)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d route(s) OK\n", len(routes))
	return nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	_ = fs.Parse(args)

	client := tlsutil.SecureHTTPClient(*timeout)
	resp, err := client.Get(strings.TrimRight(*addr, "/") + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Fprintln(out, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "DocFlow %s\n", Version)
	fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `DocFlow - Document Approval Workflow Service

Usage:
  docflow <command> [options]

Commands:
  serve              Start the DocFlow server
  migrate <cmd>      Database migration commands (up, down, status, ...)
  scan               Run one timeout sweep against the configured store
  routes validate    Validate a route definition file
  version            Show version information
  health             Check server health
  help               Show this help message

Examples:
  docflow serve --config /etc/docflow/config.yaml
  docflow migrate --config config.yaml up
  docflow migrate --db-type sqlite --db-url "file:docflow.db" status
  docflow scan --config config.yaml
  docflow routes validate routes.yaml
  docflow health --addr https://localhost:8443`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger 按配置构建 zap logger，返回的 AtomicLevel 供热更新调整级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err == nil {
			level.SetLevel(lvl)
		}
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger.With(zap.String("service", "docflow")), level
}
