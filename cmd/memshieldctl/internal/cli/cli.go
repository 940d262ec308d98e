// Package cli implements memshieldctl's command dispatch: global flags,
// config loading, and routing to the run/monitor/flush/snapshot/print-config
// subcommands.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/coldtrace/memshield/internal/config"
)

const globalOptionsHelp = `  -h, --help             Show help
  -c, --config <file>    Use specified config file`

// Run is memshieldctl's entry point. Returns a process exit code.
func Run(out, errOut io.Writer, args []string, env map[string]string) int {
	globalFlags := flag.NewFlagSet("memshieldctl", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config file")

	if err := globalFlags.Parse(args); err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	cfg, _, err := config.Load(config.LoadInput{ConfigPath: *flagConfig, Env: env})
	if err != nil {
		fprintln(errOut, "error:", err)
		return 1
	}

	commands := allCommands(cfg)

	commandAndArgs := globalFlags.Args()

	if *flagHelp || len(commandAndArgs) == 0 {
		printUsage(out, commands)
		return 0
	}

	name := commandAndArgs[0]

	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd.Run(context.Background(), NewIO(out, errOut), commandAndArgs[1:])
		}
	}

	fprintln(errOut, "error: unknown command:", name)
	printUsage(errOut, commands)

	return 1
}

func allCommands(cfg config.Config) []*Command {
	return []*Command{
		RunCmd(cfg),
		MonitorCmd(cfg),
		FlushCmd(cfg),
		SnapshotCmd(cfg),
		PrintConfigCmd(cfg),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printGlobalOptions(w io.Writer) {
	fprintln(w, "Usage: memshieldctl [flags] <command> [args]")
	fprintln(w, "")
	fprintln(w, "Global flags:")
	fprintln(w, globalOptionsHelp)
}

func printUsage(w io.Writer, commands []*Command) {
	fprintln(w, "memshieldctl - counter-mode memory encryption engine simulator")
	fprintln(w, "")
	fprintln(w, "Usage: memshieldctl [flags] <command> [args]")
	fprintln(w, "")
	fprintln(w, "Flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w, "")
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}
}
