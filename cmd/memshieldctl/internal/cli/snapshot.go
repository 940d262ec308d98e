package cli

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/coldtrace/memshield/internal/config"
	"github.com/coldtrace/memshield/internal/dram"
)

var (
	errSnapshotUsage            = errors.New("snapshot: usage: snapshot dump <addr> | snapshot diff <other-file>")
	errNoSnapshotPathForInspect = errors.New("snapshot: no snapshot path configured")
)

// SnapshotCmd returns the snapshot command, a raw-byte inspection tool over
// the files saved by `run`'s --snapshot flag: dumping one 64-byte DRAM
// block in hex, or diffing two snapshots block by block to locate every
// address a sequence of requests touched.
func SnapshotCmd(cfg config.Config) *Command {
	flags := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	snapshotPath := flags.StringP("snapshot", "s", cfg.SnapshotPath, "DRAM snapshot file to inspect")

	return &Command{
		Flags: flags,
		Usage: "snapshot <dump|diff> [args]",
		Short: "Inspect a DRAM snapshot file",
		Long:  "dump <addr> prints the 64-byte block at addr in hex. diff <other-file> lists every block address that differs between the two snapshots.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execSnapshot(o, cfg, *snapshotPath, args)
		},
	}
}

func execSnapshot(o *IO, cfg config.Config, snapshotPath string, args []string) error {
	if snapshotPath == "" {
		return errNoSnapshotPathForInspect
	}

	if len(args) < 2 {
		return errSnapshotUsage
	}

	switch args[0] {
	case "dump":
		return execSnapshotDump(o, cfg, snapshotPath, args[1])
	case "diff":
		return execSnapshotDiff(o, cfg, snapshotPath, args[1])
	default:
		return errSnapshotUsage
	}
}

func execSnapshotDump(o *IO, cfg config.Config, snapshotPath, addrArg string) error {
	addr, err := parseAddr(addrArg)
	if err != nil {
		return fmt.Errorf("snapshot dump: %w", err)
	}

	mem, loaded, err := loadDRAMSnapshot(snapshotPath, cfg.EngineConfig().DRAMSize)
	if err != nil {
		return fmt.Errorf("snapshot dump: %w", err)
	}

	if !loaded {
		return fmt.Errorf("snapshot dump: %s: no such snapshot", snapshotPath)
	}

	blockAddr := addr - addr%dram.BlockSize

	blk, err := mem.LoadBlock(blockAddr)
	if err != nil {
		return fmt.Errorf("snapshot dump: %w", err)
	}

	o.Printf("%#016x: %s\n", blockAddr, hex.EncodeToString(blk[:]))

	return nil
}

func execSnapshotDiff(o *IO, cfg config.Config, snapshotPath, otherPath string) error {
	size := cfg.EngineConfig().DRAMSize

	a, loadedA, err := loadDRAMSnapshot(snapshotPath, size)
	if err != nil {
		return fmt.Errorf("snapshot diff: %w", err)
	}

	if !loadedA {
		return fmt.Errorf("snapshot diff: %s: no such snapshot", snapshotPath)
	}

	b, loadedB, err := loadDRAMSnapshot(otherPath, size)
	if err != nil {
		return fmt.Errorf("snapshot diff: %w", err)
	}

	if !loadedB {
		return fmt.Errorf("snapshot diff: %s: no such snapshot", otherPath)
	}

	diffs := 0

	for blockAddr := uint64(0); blockAddr < size; blockAddr += dram.BlockSize {
		blkA, err := a.LoadBlock(blockAddr)
		if err != nil {
			return fmt.Errorf("snapshot diff: %w", err)
		}

		blkB, err := b.LoadBlock(blockAddr)
		if err != nil {
			return fmt.Errorf("snapshot diff: %w", err)
		}

		if blkA != blkB {
			diffs++

			o.Printf("%#016x differs\n", blockAddr)
		}
	}

	if diffs == 0 {
		o.Println("no differences")
	}

	return nil
}

func parseAddr(s string) (uint64, error) {
	var addr uint64

	_, err := fmt.Sscanf(s, "0x%x", &addr)
	if err == nil {
		return addr, nil
	}

	_, err = fmt.Sscanf(s, "%d", &addr)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}

	return addr, nil
}
