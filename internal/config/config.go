// Package config loads and merges the daemon's two-layer JSON
// configuration (global + project), per spec.md section 4.1.
package config

import (
	"encoding/json"
	"os"

	"github.com/hack-dance/hackd/pkg/log"
)

// GatewayConfig holds the gateway section. Bind/Port/AllowWrites are
// global-only; Enabled is project-scoped.
type GatewayConfig struct {
	Enabled      bool   `json:"enabled"`
	Bind         string `json:"bind,omitempty"`
	Port         int    `json:"port,omitempty"`
	AllowWrites  bool   `json:"allowWrites,omitempty"`
}

// SupervisorConfig holds supervisor tuning knobs.
type SupervisorConfig struct {
	MaxConcurrentJobs int   `json:"maxConcurrentJobs,omitempty"`
	LogsMaxBytes      int64 `json:"logsMaxBytes,omitempty"`
}

// ExtensionConfig is one opaque extension entry under "extensions.<id>".
type ExtensionConfig struct {
	Enabled      bool            `json:"enabled"`
	CliNamespace string          `json:"cliNamespace,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
}

// Document is the raw shape of a hack.config.json file, either global or
// project-scoped.
type Document struct {
	Gateway    GatewayConfig              `json:"gateway"`
	Extensions map[string]ExtensionConfig `json:"extensions"`
	Supervisor SupervisorConfig           `json:"supervisor"`
}

// Effective is the merged configuration for a single project: project
// values win except for the three global-only gateway keys and any
// global-only extension id, which project files may not override.
type Effective struct {
	GatewayEnabled    bool
	GatewayBind       string
	GatewayPort       int
	GatewayAllowWrites bool
	Extensions        map[string]ExtensionConfig
	Supervisor        SupervisorConfig
}

const (
	defaultBind              = "127.0.0.1"
	defaultPort              = 7788
	defaultMaxConcurrentJobs = 4
	defaultLogsMaxBytes      = 5 * 1024 * 1024
)

// Load reads a JSON document from path. A missing file is treated as an
// empty document (defaults apply); other read/parse errors are returned.
func Load(path string) (Document, error) {
	var doc Document
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, err
	}
	return doc, nil
}

// Merge applies project-scoped overrides on top of the global document,
// logging a warning for every value a project file is not allowed to set.
func Merge(global, project Document) Effective {
	eff := Effective{
		GatewayBind:        defaultBind,
		GatewayPort:        defaultPort,
		GatewayAllowWrites: false,
		Extensions:         map[string]ExtensionConfig{},
		Supervisor: SupervisorConfig{
			MaxConcurrentJobs: defaultMaxConcurrentJobs,
			LogsMaxBytes:      defaultLogsMaxBytes,
		},
	}

	if global.Gateway.Bind != "" {
		eff.GatewayBind = global.Gateway.Bind
	}
	if global.Gateway.Port != 0 {
		eff.GatewayPort = global.Gateway.Port
	}
	eff.GatewayAllowWrites = global.Gateway.AllowWrites

	for id, ext := range global.Extensions {
		eff.Extensions[id] = ext
	}

	if global.Supervisor.MaxConcurrentJobs != 0 {
		eff.Supervisor.MaxConcurrentJobs = global.Supervisor.MaxConcurrentJobs
	}
	if global.Supervisor.LogsMaxBytes != 0 {
		eff.Supervisor.LogsMaxBytes = global.Supervisor.LogsMaxBytes
	}

	// gateway.enabled is project-scoped: the project file is the source of
	// truth for whether THIS project opts in.
	eff.GatewayEnabled = project.Gateway.Enabled

	if project.Gateway.Bind != "" || project.Gateway.Port != 0 || project.Gateway.AllowWrites {
		log.Logger.Warn().Msg("project hack.config.json sets global-only gateway keys (bind/port/allowWrites); ignoring")
	}

	for id, ext := range project.Extensions {
		if _, isGlobalOnly := global.Extensions[id]; isGlobalOnly {
			log.Logger.Warn().Str("extension", id).Msg("project hack.config.json cannot override a global-only extension id; ignoring")
			continue
		}
		eff.Extensions[id] = ext
	}

	if project.Supervisor.MaxConcurrentJobs != 0 {
		eff.Supervisor.MaxConcurrentJobs = project.Supervisor.MaxConcurrentJobs
	}
	if project.Supervisor.LogsMaxBytes != 0 {
		eff.Supervisor.LogsMaxBytes = project.Supervisor.LogsMaxBytes
	}

	return eff
}
