package migration

import (
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/BaSui01/docflow/config"
)

func TestDSNFromConfig(t *testing.T) {
	t.Run("postgres escapes credentials", func(t *testing.T) {
		dbType, dsn, err := DSNFromConfig(appconfig.DatabaseConfig{
			Driver: "postgresql", Host: "db.internal", Port: 5432,
			Name: "docflow", User: "registrar", Password: "p@ss:w/rd",
		})
		require.NoError(t, err)
		assert.Equal(t, DatabaseTypePostgres, dbType)

		u, err := url.Parse(dsn)
		require.NoError(t, err)
		assert.Equal(t, "db.internal:5432", u.Host)
		assert.Equal(t, "/docflow", u.Path)
		assert.Equal(t, "registrar", u.User.Username())
		pass, _ := u.User.Password()
		assert.Equal(t, "p@ss:w/rd", pass)
		assert.Equal(t, "require", u.Query().Get("sslmode"))
	})

	t.Run("postgres explicit sslmode", func(t *testing.T) {
		_, dsn, err := DSNFromConfig(appconfig.DatabaseConfig{Driver: "pg", Host: "localhost", Port: 5432, Name: "d", SSLMode: "disable"})
		require.NoError(t, err)
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("mysql", func(t *testing.T) {
		dbType, dsn, err := DSNFromConfig(appconfig.DatabaseConfig{Driver: "mariadb", Host: "h", Port: 3306, Name: "docflow", User: "u", Password: "p"})
		require.NoError(t, err)
		assert.Equal(t, DatabaseTypeMySQL, dbType)
		assert.Equal(t, "u:p@tcp(h:3306)/docflow?parseTime=true&multiStatements=true", dsn)
	})

	t.Run("sqlite needs a path", func(t *testing.T) {
		_, _, err := DSNFromConfig(appconfig.DatabaseConfig{Driver: "sqlite"})
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, _, err := DSNFromConfig(appconfig.DatabaseConfig{Driver: "oracle"})
		assert.ErrorContains(t, err, "invalid database type")
	})
}

func TestNewMigratorFromConfig_SQLite(t *testing.T) {
	cfg := &appconfig.Config{Database: appconfig.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "docflow.db"),
	}}
	m, err := NewMigratorFromConfig(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	_, err = NewMigratorFromConfig(nil, nil)
	assert.Error(t, err)
}
