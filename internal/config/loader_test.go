package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, configFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppConfig(t *testing.T) {
	path := writeConfig(t, `{
		"mcpServers": {
			"s1": {"command": "echo-mcp"},
			"s2": {"transport": {"type": "sse", "url": "https://h/mcp"}}
		}
	}`)

	app := LoadAppConfig(path)

	require.Len(t, app.MCPServers, 2)
	assert.Equal(t, TransportStdio, app.MCPServers["s1"].Transport.Type)
	assert.Equal(t, TransportSSE, app.MCPServers["s2"].Transport.Type)
}

func TestLoadAppConfigMissingFile(t *testing.T) {
	app := LoadAppConfig(filepath.Join(t.TempDir(), "nope", configFileName))
	assert.NotNil(t, app.MCPServers)
	assert.Empty(t, app.MCPServers)
}

func TestLoadAppConfigMalformed(t *testing.T) {
	path := writeConfig(t, `{"mcpServers": not-json`)
	app := LoadAppConfig(path)
	assert.NotNil(t, app.MCPServers)
	assert.Empty(t, app.MCPServers)
}

func TestLoadAppConfigMissingServersKey(t *testing.T) {
	path := writeConfig(t, `{}`)
	app := LoadAppConfig(path)
	assert.NotNil(t, app.MCPServers)
	assert.Empty(t, app.MCPServers)
}

func TestParseAppConfigRejectsMalformed(t *testing.T) {
	_, err := ParseAppConfig([]byte(`{`))
	assert.Error(t, err)

	app, err := ParseAppConfig([]byte(`{"mcpServers":{"s1":{"command":"x"}}}`))
	require.NoError(t, err)
	assert.Equal(t, TransportStdio, app.MCPServers["s1"].Transport.Type)
}

func TestConfigDirDefault(t *testing.T) {
	t.Setenv(ConfigDirEnv, "")
	assert.Equal(t, DefaultConfigDir, ConfigDir())

	t.Setenv(ConfigDirEnv, "/etc/toolgate")
	assert.Equal(t, "/etc/toolgate", ConfigDir())
	assert.Equal(t, filepath.Join("/etc/toolgate", configFileName), ConfigFilePath())
}
