package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/coldtrace/memshield/internal/config"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration. The files it was loaded from are not shown.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execPrintConfig(o, cfg)
		},
	}
}

func execPrintConfig(o *IO, cfg config.Config) error {
	o.Printf("dram_size=%#x\n", cfg.DRAMSize)
	o.Printf("base=%#x\n", cfg.Base)
	o.Printf("size=%#x\n", cfg.Size)
	o.Printf("ctr_base=%#x\n", cfg.CtrBase)
	o.Printf("mac_base=%#x\n", cfg.MacBase)

	if cfg.DMABase != 0 {
		o.Printf("dma_base=%#x\n", cfg.DMABase)
	}

	if cfg.AESBase != 0 {
		o.Printf("aes_base=%#x\n", cfg.AESBase)
	}

	if cfg.MACBase != 0 {
		o.Printf("mac_device_base=%#x\n", cfg.MACBase)
	}

	if cfg.AXIMBase != 0 {
		o.Printf("axim_base=%#x\n", cfg.AXIMBase)
	}

	o.Printf("snapshot_path=%s\n", cfg.SnapshotPath)

	return nil
}
