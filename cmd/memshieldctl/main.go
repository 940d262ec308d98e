// Command memshieldctl drives a memshield Engine from the command line: a
// batch runner over a request trace, an interactive single-step monitor,
// and a handful of maintenance commands over the simulated DRAM backing
// store.
package main

import (
	"os"

	"github.com/coldtrace/memshield/cmd/memshieldctl/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Stdout, os.Stderr, os.Args[1:], envMap()))
}

func envMap() map[string]string {
	env := make(map[string]string, len(os.Environ()))

	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}

	return env
}
