package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldtrace/memshield/internal/config"
)

func TestDefaultRegionIsNonZero(t *testing.T) {
	t.Parallel()

	d := config.Default()
	assert.NotZero(t, d.Size)
	assert.NotZero(t, d.DRAMSize)
}

func TestLoadWithNoFilesReturnsDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, sources, err := config.Load(config.LoadInput{WorkDir: dir, Env: map[string]string{}})
	require.NoError(t, err)
	assert.Empty(t, sources.Global)
	assert.Empty(t, sources.Project)

	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Errorf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoadProjectConfigOverridesDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, config.FileName), `{"size": 2097152, "ctr_base": 9999}`)

	cfg, sources, err := config.Load(config.LoadInput{WorkDir: dir, Env: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2097152), cfg.Size)
	assert.Equal(t, uint64(9999), cfg.CtrBase)
	assert.Equal(t, filepath.Join(dir, config.FileName), sources.Project)
}

func TestCLIOverridesBeatProjectFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.FileName), `{"size": 2097152}`)

	cfg, _, err := config.Load(config.LoadInput{
		WorkDir:   dir,
		Overrides: config.Config{Size: 4194304},
		Env:       map[string]string{},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(4194304), cfg.Size)
}

func TestExplicitConfigPathMustExist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, _, err := config.Load(config.LoadInput{
		WorkDir:    dir,
		ConfigPath: "missing.json",
		Env:        map[string]string{},
	})
	require.ErrorIs(t, err, config.ErrConfigFileNotFound)
}

func TestHuJSONCommentsAreTolerated(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.FileName), `{
		// override the protected region size
		"size": 1048576,
	}`)

	cfg, _, err := config.Load(config.LoadInput{WorkDir: dir, Env: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, uint64(1048576), cfg.Size)
}

func TestGlobalConfigUsesXDGConfigHome(t *testing.T) {
	t.Parallel()

	xdg := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "memshieldctl"), 0o755))
	writeFile(t, filepath.Join(xdg, "memshieldctl", "config.json"), `{"mac_base": 42}`)

	dir := t.TempDir()

	cfg, sources, err := config.Load(config.LoadInput{
		WorkDir: dir,
		Env:     map[string]string{"XDG_CONFIG_HOME": xdg},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cfg.MacBase)
	assert.Equal(t, filepath.Join(xdg, "memshieldctl", "config.json"), sources.Global)
}

func TestEngineConfigTranslatesFields(t *testing.T) {
	t.Parallel()

	cfg := config.Config{DRAMSize: 1, Base: 2, Size: 3, CtrBase: 4, MacBase: 5}
	ec := cfg.EngineConfig()

	assert.Equal(t, uint64(1), ec.DRAMSize)
	assert.Equal(t, uint64(2), ec.Base)
	assert.Equal(t, uint64(3), ec.Size)
	assert.Equal(t, uint64(4), ec.CtrBase)
	assert.Equal(t, uint64(5), ec.MacBase)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
