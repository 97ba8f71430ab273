package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hack-dance/hackd/internal/config"
	"github.com/hack-dance/hackd/internal/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestResolveGatewayConfigIncludesOnlyOptedInProjects(t *testing.T) {
	dir := t.TempDir()
	reg, err := registry.New(filepath.Join(dir, "projects.json"))
	require.NoError(t, err)

	enabledDir := filepath.Join(dir, "enabled")
	disabledDir := filepath.Join(dir, "disabled")
	require.NoError(t, os.MkdirAll(enabledDir, 0o755))
	require.NoError(t, os.MkdirAll(disabledDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(enabledDir, "hack.config.json"),
		[]byte(`{"gateway":{"enabled":true}}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(disabledDir, "hack.config.json"),
		[]byte(`{"gateway":{"enabled":false}}`), 0o600))

	enabledResult, err := reg.Upsert("enabled-project", dir, enabledDir)
	require.NoError(t, err)
	_, err = reg.Upsert("disabled-project", dir, disabledDir)
	require.NoError(t, err)

	enabled, allowWrites := resolveGatewayConfig(zerolog.Nop(), reg, config.Document{
		Gateway: config.GatewayConfig{AllowWrites: true},
	})

	require.True(t, enabled[enabledResult.Project.ProjectID])
	require.Len(t, enabled, 1)
	require.True(t, allowWrites)
}

func TestResolveGatewayConfigEmptyRegistryYieldsNoEnabledProjects(t *testing.T) {
	dir := t.TempDir()
	reg, err := registry.New(filepath.Join(dir, "projects.json"))
	require.NoError(t, err)

	enabled, _ := resolveGatewayConfig(zerolog.Nop(), reg, config.Document{})
	require.Empty(t, enabled)
}
