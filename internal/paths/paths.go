// Package paths resolves the daemon's on-disk state root and the fixed
// subpaths beneath it, per spec.md section 6.
package paths

import (
	"os"
	"path/filepath"
)

// StateRoot returns ${HOME}/.hack, or the HACKD_STATE_ROOT override if set.
func StateRoot() (string, error) {
	if root := os.Getenv("HACKD_STATE_ROOT"); root != "" {
		return root, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hack"), nil
}

// Paths is the resolved set of daemon-owned files under the state root.
type Paths struct {
	Root              string
	GlobalConfig      string
	ProjectsRegistry  string
	DaemonDir         string
	Socket            string
	PidFile           string
	LogFile           string
	GatewayDir        string
	TokensFile        string
	AuditFile         string
	CloudflareDir     string
	CloudflaredPid    string
}

// Resolve computes Paths from the state root, ensuring the daemon and
// gateway directories exist.
func Resolve() (*Paths, error) {
	root, err := StateRoot()
	if err != nil {
		return nil, err
	}
	daemonDir := filepath.Join(root, "daemon")
	gatewayDir := filepath.Join(daemonDir, "gateway")
	cloudflareDir := filepath.Join(root, "cloudflare")

	for _, dir := range []string{root, daemonDir, gatewayDir, cloudflareDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}

	return &Paths{
		Root:             root,
		GlobalConfig:     filepath.Join(root, "hack.config.json"),
		ProjectsRegistry: filepath.Join(root, "projects.json"),
		DaemonDir:        daemonDir,
		Socket:           filepath.Join(daemonDir, "hackd.sock"),
		PidFile:          filepath.Join(daemonDir, "hackd.pid"),
		LogFile:          filepath.Join(daemonDir, "hackd.log"),
		GatewayDir:       gatewayDir,
		TokensFile:       filepath.Join(gatewayDir, "tokens.json"),
		AuditFile:        filepath.Join(gatewayDir, "audit.jsonl"),
		CloudflareDir:    cloudflareDir,
		CloudflaredPid:   filepath.Join(cloudflareDir, "cloudflared.pid"),
	}, nil
}

// ProjectConfig returns the path to a project's local config override.
func ProjectConfig(projectDir string) string {
	return filepath.Join(projectDir, "hack.config.json")
}

// JobsRoot returns the supervisor job-store root for a project.
func JobsRoot(projectDir string) string {
	return filepath.Join(projectDir, "supervisor", "jobs")
}
