package cli

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/coldtrace/memshield/internal/accel/axim"
	"github.com/coldtrace/memshield/internal/config"
	"github.com/coldtrace/memshield/internal/engine"
	"github.com/coldtrace/memshield/internal/proto"
)

var errNotATTY = errors.New("monitor: stdin is not a terminal")

// MonitorCmd opens an interactive, single-step REPL over an engine: submit
// one request at a time, step the dispatcher, and inspect the response.
func MonitorCmd(cfg config.Config) *Command {
	flags := flag.NewFlagSet("monitor", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "monitor",
		Short: "Interactively submit and step requests against the engine",
		Long:  "Opens a REPL: submit <read|write> <addr> [hex-data], step, status, quit.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execMonitor(o, cfg)
		},
	}
}

func execMonitor(o *IO, cfg config.Config) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errNotATTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("%w: %s", errNotATTY, err)
	}
	defer term.Restore(fd, saved) //nolint:errcheck

	e, err := engine.New(cfg.EngineConfig())
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "memshield> ")

	for {
		line, err := t.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("monitor: %w", err)
		}

		if done, err := runMonitorCommand(o, e, cfg, strings.TrimSpace(line)); err != nil {
			o.ErrPrintln("error:", err)
		} else if done {
			return nil
		}
	}
}

func runMonitorCommand(o *IO, e *engine.Engine, cfg config.Config, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "quit", "exit":
		return true, nil
	case "submit":
		return false, monitorSubmit(e, fields[1:])
	case "step":
		return false, monitorStep(o, e)
	case "status":
		monitorStatus(o, cfg)
		return false, nil
	default:
		o.ErrPrintln("unknown command:", fields[0])
		return false, nil
	}
}

func monitorSubmit(e *engine.Engine, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: submit <read|write> <addr> [hex-data]")
	}

	addr, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	req := axim.Request{Addr: addr, ID: addr}

	switch args[0] {
	case "read":
		// nothing more to fill in
	case "write":
		if len(args) < 3 {
			return fmt.Errorf("write requires hex-data")
		}

		raw, err := hex.DecodeString(args[2])
		if err != nil {
			return fmt.Errorf("invalid hex-data: %w", err)
		}

		if len(raw) != proto.LineSize {
			return fmt.Errorf("hex-data must decode to %d bytes, got %d", proto.LineSize, len(raw))
		}

		req.Write = true
		copy(req.Data[:], raw)
	default:
		return fmt.Errorf("unknown request kind: %s", args[0])
	}

	e.Submit(req)

	return nil
}

func monitorStep(o *IO, e *engine.Engine) error {
	ok, err := e.ProcessOne()
	if err != nil {
		return err
	}

	if !ok {
		o.Println("(no pending request)")
		return nil
	}

	resp := <-e.Responses()

	if resp.Kind == axim.ReadOK {
		o.Printf("read  id=%d data=%s\n", resp.ID, hex.EncodeToString(resp.Data[:]))
	} else {
		o.Printf("write id=%d ack\n", resp.ID)
	}

	return nil
}

func monitorStatus(o *IO, cfg config.Config) {
	o.Printf("protected region [%#x, %#x), counter base %#x, mac base %#x\n",
		cfg.Base, cfg.Base+cfg.Size, cfg.CtrBase, cfg.MacBase)
}
