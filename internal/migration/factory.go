package migration

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	appconfig "github.com/BaSui01/docflow/config"
)

// NewMigratorFromConfig 按 serve 使用的 database 配置创建迁移器，两者总是指向同一个库
func NewMigratorFromConfig(cfg *appconfig.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	dbType, dsn, err := DSNFromConfig(cfg.Database)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dbType, DatabaseURL: dsn, Logger: logger})
}

// NewMigratorFromURL 供 `docflow migrate --db-url` 直接指定连接串
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL, Logger: logger})
}

// DSNFromConfig 把 database 配置转换为 golang-migrate 连接串；sqlite 的 Name 是文件路径。
// 用户名与密码按 URL 转义，含 @ 或 : 的密码也能连接。
func DSNFromConfig(db appconfig.DatabaseConfig) (DatabaseType, string, error) {
	dbType, err := ParseDatabaseType(db.Driver)
	if err != nil {
		return "", "", fmt.Errorf("invalid database type: %w", err)
	}
	switch dbType {
	case DatabaseTypePostgres:
		sslMode := db.SSLMode
		if sslMode == "" {
			sslMode = "require"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(db.User, db.Password),
			Host:     net.JoinHostPort(db.Host, strconv.Itoa(db.Port)),
			Path:     "/" + db.Name,
			RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
		}
		return dbType, u.String(), nil
	case DatabaseTypeMySQL:
		return dbType, BuildDatabaseURL(dbType, db.Host, db.Port, db.Name, db.User, db.Password, ""), nil
	default:
		if db.Name == "" {
			return "", "", errors.New("sqlite database name (file path) is required")
		}
		return dbType, BuildDatabaseURL(dbType, "", 0, db.Name, "", "", ""), nil
	}
}
