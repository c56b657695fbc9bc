package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestNormalizeLegacyStdioFields(t *testing.T) {
	raw := ServerConfig{
		Command: "echo-mcp",
		Args:    []string{"--fast"},
		Env:     map[string]string{"FOO": "bar"},
		Cwd:     "/tmp",
	}

	cfg := Normalize(raw)

	require.NotNil(t, cfg.Transport)
	assert.Equal(t, TransportStdio, cfg.Transport.Type)
	assert.Equal(t, "echo-mcp", cfg.Transport.Command)
	assert.Equal(t, []string{"--fast"}, cfg.Transport.Args)
	assert.Equal(t, "bar", cfg.Transport.Env["FOO"])
	assert.Equal(t, "/tmp", cfg.Transport.Cwd)
	assert.Empty(t, cfg.Command, "legacy fields must be cleared")
	assert.True(t, cfg.IsEnabled())
}

func TestNormalizeLegacyURLFields(t *testing.T) {
	raw := ServerConfig{
		URL:     "https://h/mcp",
		Headers: map[string]string{"Authorization": "Bearer x"},
	}

	cfg := Normalize(raw)

	require.NotNil(t, cfg.Transport)
	assert.Equal(t, TransportSSE, cfg.Transport.Type)
	assert.Equal(t, "https://h/mcp", cfg.Transport.URL)
	assert.Equal(t, "Bearer x", cfg.Transport.Headers["Authorization"])
}

func TestNormalizeDisabledFlag(t *testing.T) {
	cfg := Normalize(ServerConfig{Disabled: boolPtr(true), Command: "x"})
	assert.False(t, cfg.IsEnabled())
	assert.Nil(t, cfg.Disabled)

	// Explicit enabled wins over legacy disabled.
	cfg = Normalize(ServerConfig{Enabled: boolPtr(true), Disabled: boolPtr(true), Command: "x"})
	assert.True(t, cfg.IsEnabled())
}

func TestNormalizeDeprecatedTransportType(t *testing.T) {
	raw := ServerConfig{
		TransportType: TransportStreamableHTTP,
		HTTPSettings: &HTTPSettings{
			URL:     "https://h/stream",
			Headers: map[string]string{"X-Token": "t"},
		},
	}

	cfg := Normalize(raw)

	require.NotNil(t, cfg.Transport)
	assert.Equal(t, TransportStreamableHTTP, cfg.Transport.Type)
	assert.Equal(t, "https://h/stream", cfg.Transport.URL)
	assert.Equal(t, "t", cfg.Transport.Headers["X-Token"])
	assert.NotNil(t, cfg.HTTPSettings, "httpSettings is retained")
	assert.Empty(t, cfg.TransportType)
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []ServerConfig{
		{Command: "echo-mcp", Args: []string{"a"}},
		{URL: "https://h/mcp"},
		{Disabled: boolPtr(true), Command: "x"},
		{TransportType: TransportSSE, HTTPSettings: &HTTPSettings{URL: "https://h"}},
		{Transport: &Transport{Type: TransportStdio, Command: "srv"}},
	}

	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		assert.Equal(t, once, twice)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"valid stdio", ServerConfig{Transport: &Transport{Type: TransportStdio, Command: "x"}}, false},
		{"stdio without command", ServerConfig{Transport: &Transport{Type: TransportStdio}}, true},
		{"valid sse", ServerConfig{Transport: &Transport{Type: TransportSSE, URL: "https://h"}}, false},
		{"sse without url", ServerConfig{Transport: &Transport{Type: TransportSSE}}, true},
		{"valid streamable-http", ServerConfig{Transport: &Transport{Type: TransportStreamableHTTP, URL: "https://h"}}, false},
		{"no transport", ServerConfig{}, true},
		{"unknown type", ServerConfig{Transport: &Transport{Type: "carrier-pigeon"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSignificantlyChanged(t *testing.T) {
	base := Normalize(ServerConfig{Command: "srv"})

	same := Normalize(ServerConfig{Command: "srv"})
	assert.False(t, SignificantlyChanged(base, same))

	relabeled := same
	relabeled.Label = "renamed"
	assert.True(t, SignificantlyChanged(base, relabeled))

	disabled := Normalize(ServerConfig{Command: "srv", Disabled: boolPtr(true)})
	assert.True(t, SignificantlyChanged(base, disabled))

	retransported := Normalize(ServerConfig{URL: "https://h"})
	assert.True(t, SignificantlyChanged(base, retransported))

	// Non-significant fields do not force a rebuild.
	retimed := same
	retimed.TimeoutMs = 5000
	assert.False(t, SignificantlyChanged(base, retimed))
}
