// Package config loads memshieldctl's configuration: the DRAM geography an
// Engine is built from, and the accelerator base addresses, with the
// layered precedence defaults -> global file -> project/explicit file ->
// CLI overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/coldtrace/memshield/internal/engine"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrRegionSizeZero     = errors.New("protected region size must be non-zero")
)

// FileName is the default project-local config file name.
const FileName = ".memshield.json"

// Config is the JSON-serializable subset of engine.Config that tooling
// loads from files and flags. Fields mirror engine.Config's names and
// units. In a file or in Overrides a zero field means "not set": the lower
// layer's value is kept. A zero accelerator base that reaches the engine
// selects the engine package's default.
type Config struct {
	DRAMSize uint64 `json:"dram_size,omitempty"`
	Base     uint64 `json:"base,omitempty"`
	Size     uint64 `json:"size,omitempty"`
	CtrBase  uint64 `json:"ctr_base,omitempty"`
	MacBase  uint64 `json:"mac_base,omitempty"`

	DMABase  uint64 `json:"dma_base,omitempty"`
	AESBase  uint64 `json:"aes_base,omitempty"`
	MACBase  uint64 `json:"mac_device_base,omitempty"`
	AXIMBase uint64 `json:"axim_base,omitempty"`

	// SnapshotPath is where flush/snapshot commands persist DRAM content.
	SnapshotPath string `json:"snapshot_path,omitempty"`
}

// Default returns the built-in configuration: a one-megabyte protected
// region backed by a four-megabyte DRAM, large enough to hold the
// protected, counter, and data-MAC regions without overlap at the default
// accelerator bases.
func Default() Config {
	return Config{
		DRAMSize:     4 << 20,
		Base:         0,
		Size:         1 << 20,
		CtrBase:      2 << 20,
		MacBase:      3 << 20,
		SnapshotPath: "memshield.snapshot",
	}
}

// Sources records which config files, if any, contributed to a loaded
// Config, for print-config-style diagnostics.
type Sources struct {
	Global  string
	Project string
}

// LoadInput holds the inputs Load needs beyond the process's own
// ambient state, so loading stays a pure function of its arguments.
type LoadInput struct {
	WorkDir    string // if empty, os.Getwd() is used
	ConfigPath string // explicit --config flag value, if any
	Overrides  Config // CLI flag overrides; a zero field is "not set"
	Env        map[string]string
}

// Load resolves a Config with precedence (lowest to highest): built-in
// defaults, the global user config, the project config (or an explicit
// file named by input.ConfigPath), then input.Overrides.
func Load(input LoadInput) (Config, Sources, error) {
	workDir := input.WorkDir
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, Sources{}, fmt.Errorf("config: cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	var sources Sources

	globalCfg, globalPath, err := loadGlobalConfig(input.Env)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	cfg = merge(cfg, input.Overrides)

	if cfg.Size == 0 {
		return Config{}, Sources{}, ErrRegionSizeZero
	}

	return cfg, sources, nil
}

func loadGlobalConfig(env map[string]string) (Config, string, error) {
	path := globalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "memshieldctl", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "memshieldctl", "config.json")
	}

	return ""
}

func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	path := configPath
	mustExist := configPath != ""

	if path == "" {
		path = filepath.Join(workDir, FileName)
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	if mustExist {
		if _, err := os.Stat(path); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	}

	cfg, loaded, err := loadConfigFile(path, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func merge(base, overlay Config) Config {
	if overlay.DRAMSize != 0 {
		base.DRAMSize = overlay.DRAMSize
	}

	if overlay.Base != 0 {
		base.Base = overlay.Base
	}

	if overlay.Size != 0 {
		base.Size = overlay.Size
	}

	if overlay.CtrBase != 0 {
		base.CtrBase = overlay.CtrBase
	}

	if overlay.MacBase != 0 {
		base.MacBase = overlay.MacBase
	}

	if overlay.DMABase != 0 {
		base.DMABase = overlay.DMABase
	}

	if overlay.AESBase != 0 {
		base.AESBase = overlay.AESBase
	}

	if overlay.MACBase != 0 {
		base.MACBase = overlay.MACBase
	}

	if overlay.AXIMBase != 0 {
		base.AXIMBase = overlay.AXIMBase
	}

	if overlay.SnapshotPath != "" {
		base.SnapshotPath = overlay.SnapshotPath
	}

	return base
}

// EngineConfig translates the loaded Config into engine.Config.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		DRAMSize: c.DRAMSize,
		Base:     c.Base,
		Size:     c.Size,
		CtrBase:  c.CtrBase,
		MacBase:  c.MacBase,
		DMABase:  c.DMABase,
		AESBase:  c.AESBase,
		MACBase:  c.MACBase,
		AXIMBase: c.AXIMBase,
	}
}
