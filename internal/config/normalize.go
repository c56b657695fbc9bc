package config

import (
	"fmt"
)

// Normalize rewrites the legacy configuration shapes into the canonical
// transport-variant form. It is idempotent: normalizing an already
// normalized config is a no-op.
//
// Rules, in order:
//   - disabled:true becomes enabled:false; the default is enabled.
//   - Top-level command/args/env/cwd with no transport block become a stdio
//     transport.
//   - Top-level url/headers with no transport block become an sse transport.
//   - The deprecated transportType discriminator moves into transport.type;
//     when it names a remote transport and httpSettings.url is set, the URL
//     and headers are hoisted into the transport block. httpSettings itself
//     is retained so that round-tripping does not lose data.
func Normalize(raw ServerConfig) ServerConfig {
	cfg := raw

	// Resolve the enabled flag. Disabled wins only when Enabled is absent.
	enabled := cfg.IsEnabled()
	cfg.Enabled = &enabled
	cfg.Disabled = nil

	if cfg.Transport == nil {
		switch {
		case cfg.TransportType != "":
			t := &Transport{Type: cfg.TransportType}
			switch cfg.TransportType {
			case TransportStdio:
				t.Command = cfg.Command
				t.Args = cfg.Args
				t.Env = cfg.Env
				t.Cwd = cfg.Cwd
			case TransportSSE, TransportStreamableHTTP:
				t.URL = cfg.URL
				t.Headers = cfg.Headers
				if cfg.HTTPSettings != nil && cfg.HTTPSettings.URL != "" {
					t.URL = cfg.HTTPSettings.URL
					if len(cfg.HTTPSettings.Headers) > 0 {
						t.Headers = cfg.HTTPSettings.Headers
					}
				}
			}
			cfg.Transport = t
		case cfg.Command != "":
			cfg.Transport = &Transport{
				Type:    TransportStdio,
				Command: cfg.Command,
				Args:    cfg.Args,
				Env:     cfg.Env,
				Cwd:     cfg.Cwd,
			}
		case cfg.URL != "":
			cfg.Transport = &Transport{
				Type:    TransportSSE,
				URL:     cfg.URL,
				Headers: cfg.Headers,
			}
		}
	} else if cfg.Transport.Type == "" && cfg.TransportType != "" {
		t := *cfg.Transport
		t.Type = cfg.TransportType
		cfg.Transport = &t
	}

	// Clear the legacy fields so a second Normalize sees the canonical shape.
	cfg.Command = ""
	cfg.Args = nil
	cfg.Env = nil
	cfg.Cwd = ""
	cfg.URL = ""
	cfg.Headers = nil
	cfg.TransportType = ""

	return cfg
}

// Validate checks that a normalized server config is usable: a transport
// must be present and carry the fields its type requires.
func Validate(cfg ServerConfig) error {
	if cfg.Transport == nil {
		return fmt.Errorf("no transport configured")
	}
	switch cfg.Transport.Type {
	case TransportStdio:
		if cfg.Transport.Command == "" {
			return fmt.Errorf("stdio transport requires a command")
		}
	case TransportSSE, TransportStreamableHTTP:
		if cfg.Transport.URL == "" {
			return fmt.Errorf("%s transport requires a url", cfg.Transport.Type)
		}
	default:
		return fmt.Errorf("unsupported transport type: %q", cfg.Transport.Type)
	}
	return nil
}

// NormalizeAll normalizes every server entry of an AppConfig in place and
// returns the config. Keys with invalid entries are kept; the registry marks
// them as errored rather than dropping them.
func NormalizeAll(app AppConfig) AppConfig {
	if app.MCPServers == nil {
		app.MCPServers = map[string]ServerConfig{}
		return app
	}
	for key, raw := range app.MCPServers {
		app.MCPServers[key] = Normalize(raw)
	}
	return app
}
