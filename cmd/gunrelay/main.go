// Command gunrelay relays gun graph reads and writes between a local store
// and publish/subscribe channels.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/gunrelay/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
