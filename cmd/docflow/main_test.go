package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/docflow/config"
	"github.com/BaSui01/docflow/testutil/fixtures"
	"github.com/BaSui01/docflow/workflow"
)

func TestRunRoutesValidate(t *testing.T) {
	path := writeFile(t, t.TempDir(), "routes.yaml", fixtures.LeaveRoutesYAML)

	var out bytes.Buffer
	require.NoError(t, runRoutes([]string{"validate", path}, &out))
	assert.Contains(t, out.String(), "Leave request")
	assert.Contains(t, out.String(), "1 route(s) OK")

	bad := writeFile(t, t.TempDir(), "bad.yaml", "routes:\n  - name: broken\n")
	assert.Error(t, runRoutes([]string{"validate", bad}, &out))
	assert.Error(t, runRoutes([]string{"lint", path}, &out))
	assert.Error(t, runRoutes(nil, &out))
}

func TestRunScan(t *testing.T) {
	dir := t.TempDir()
	routesPath := writeFile(t, dir, "routes.yaml", fixtures.LeaveRoutesYAML)
	configPath := writeFile(t, dir, "config.yaml", `
log:
  output_paths: [stderr]
workflow:
  routes_file: `+routesPath+`
`)

	var out bytes.Buffer
	require.NoError(t, runScan([]string{"--config", configPath}, &out))

	var report workflow.TimeoutReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Zero(t, report.Scanned)
	assert.Zero(t, report.Escalated)
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out)
	assert.Contains(t, out.String(), "DocFlow "+Version)
	assert.Contains(t, out.String(), "Git Commit")
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LogConfig
		want zapcore.Level
	}{
		{"debug json", config.LogConfig{Level: "debug", Format: "json", OutputPaths: []string{"stderr"}}, zapcore.DebugLevel},
		{"warn console", config.LogConfig{Level: "warn", Format: "console"}, zapcore.WarnLevel},
		{"unknown level falls back to info", config.LogConfig{Level: "loud"}, zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, level := initLogger(tt.cfg)
			require.NotNil(t, logger)
			assert.Equal(t, tt.want, level.Level())

			level.SetLevel(zapcore.ErrorLevel)
			assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))
		})
	}
}
