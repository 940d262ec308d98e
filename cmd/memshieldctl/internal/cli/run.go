package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/coldtrace/memshield/internal/accel/axim"
	"github.com/coldtrace/memshield/internal/config"
	"github.com/coldtrace/memshield/internal/dram"
	"github.com/coldtrace/memshield/internal/engine"
	"github.com/coldtrace/memshield/internal/proto"
)

var errDataRequiredForWrite = errors.New("trace: \"data\" is required for a write request")

// traceRequest is one line of a newline-delimited JSON request trace.
type traceRequest struct {
	Addr  uint64 `json:"addr"`
	ID    uint64 `json:"id"`
	Write bool   `json:"write"`
	Data  string `json:"data,omitempty"` // hex-encoded, required when Write is true
}

func RunCmd(cfg config.Config) *Command {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	tracePath := flags.StringP("trace", "t", "", "Path to a newline-delimited JSON request trace (default: stdin)")
	snapshotPath := flags.StringP("snapshot", "s", cfg.SnapshotPath, "DRAM snapshot file to load before and save after the run")
	fresh := flags.Bool("fresh", false, "Start from a freshly zeroed DRAM instead of loading the snapshot file")

	return &Command{
		Flags: flags,
		Usage: "run [flags]",
		Short: "Drive the engine from a batch of requests",
		Long:  "Reads newline-delimited JSON requests, submits each to an engine in order, and prints one JSON response line per completed request. DRAM persists across invocations via the snapshot file.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execRun(o, cfg, *tracePath, *snapshotPath, *fresh)
		},
	}
}

func execRun(o *IO, cfg config.Config, tracePath, snapshotPath string, fresh bool) error {
	ecfg := cfg.EngineConfig()

	if !fresh && snapshotPath != "" {
		mem, loaded, err := loadDRAMSnapshot(snapshotPath, ecfg.DRAMSize)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}

		if loaded {
			ecfg.DRAM = mem
		}
	}

	e, err := engine.New(ecfg)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	in := os.Stdin

	if tracePath != "" {
		f, err := os.Open(tracePath)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		defer f.Close()

		in = f
	}

	scanner := bufio.NewScanner(in)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if err := submitOne(e, line); err != nil {
			return fmt.Errorf("run: line %d: %w", lineNo, err)
		}

		if err := drainOne(o, e); err != nil {
			return fmt.Errorf("run: line %d: %w", lineNo, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	if snapshotPath != "" {
		if err := saveDRAMSnapshot(snapshotPath, e.DRAM()); err != nil {
			return fmt.Errorf("run: %w", err)
		}
	}

	return nil
}

// loadDRAMSnapshot reads a raw DRAM snapshot file written by saveDRAMSnapshot.
// A missing file is not an error: the run starts from a freshly zeroed DRAM,
// matching a first-ever invocation against a given snapshot path.
func loadDRAMSnapshot(path string, size uint64) (*dram.DRAM, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}

	mem := dram.New(size)
	if err := mem.Restore(data); err != nil {
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}

	return mem, true, nil
}

// saveDRAMSnapshot persists d's entire backing store to path atomically, so a
// crash or concurrent read never observes a half-written snapshot.
func saveDRAMSnapshot(path string, d *dram.DRAM) error {
	if err := atomic.WriteFile(path, bytes.NewReader(d.Snapshot())); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return nil
}

func submitOne(e *engine.Engine, line []byte) error {
	var req traceRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	submitted := axim.Request{Addr: req.Addr, ID: req.ID, Write: req.Write}

	if req.Write {
		if req.Data == "" {
			return errDataRequiredForWrite
		}

		raw, err := hex.DecodeString(req.Data)
		if err != nil {
			return fmt.Errorf("invalid \"data\": %w", err)
		}

		if len(raw) != proto.LineSize {
			return fmt.Errorf("\"data\" must decode to %d bytes, got %d", proto.LineSize, len(raw))
		}

		copy(submitted.Data[:], raw)
	}

	e.Submit(submitted)

	return nil
}

func drainOne(o *IO, e *engine.Engine) error {
	for {
		ok, err := e.ProcessOne()
		if err != nil {
			return err
		}

		if !ok {
			return nil
		}

		resp := <-e.Responses()

		out := map[string]any{"id": resp.ID}

		if resp.Kind == axim.ReadOK {
			out["kind"] = "read"
			out["data"] = hex.EncodeToString(resp.Data[:])
		} else {
			out["kind"] = "write_ack"
		}

		encoded, err := json.Marshal(out)
		if err != nil {
			return err
		}

		o.Println(string(encoded))
	}
}
