package cli

import (
	"context"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/coldtrace/memshield/internal/config"
	"github.com/coldtrace/memshield/internal/engine"
)

var errNoSnapshotConfigured = errors.New("flush: no snapshot path configured")

// FlushCmd returns the flush command: load a persisted DRAM snapshot, force
// every dirty SPM slot back to it (spec.md §8 property P6), and save the
// result back out. The engine is freshly built over the loaded snapshot, so
// its cache holds no dirty slot and the flush writes nothing back: the saved
// file has the same bytes as the loaded one.
func FlushCmd(cfg config.Config) *Command {
	flags := flag.NewFlagSet("flush", flag.ContinueOnError)
	snapshotPath := flags.StringP("snapshot", "s", cfg.SnapshotPath, "DRAM snapshot file to flush")

	return &Command{
		Flags: flags,
		Usage: "flush [flags]",
		Short: "Force a flush of cached DRAM state and re-save the snapshot",
		Long:  "Loads the snapshot file, builds an engine over it, forces every dirty SPM slot back to DRAM, and writes the result back atomically.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execFlush(o, cfg, *snapshotPath)
		},
	}
}

func execFlush(o *IO, cfg config.Config, snapshotPath string) error {
	if snapshotPath == "" {
		return errNoSnapshotConfigured
	}

	ecfg := cfg.EngineConfig()

	mem, loaded, err := loadDRAMSnapshot(snapshotPath, ecfg.DRAMSize)
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	if !loaded {
		return fmt.Errorf("flush: %s: no such snapshot", snapshotPath)
	}

	ecfg.DRAM = mem

	e, err := engine.New(ecfg)
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	if err := e.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	if err := saveDRAMSnapshot(snapshotPath, e.DRAM()); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	o.Println("flushed", snapshotPath)

	return nil
}
