// Command streamz runs stream pipelines described by YAML files.
package main

import (
	"os"

	"github.com/roach88/streamz/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
