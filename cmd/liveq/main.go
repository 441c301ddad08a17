// Command liveq serves live CUE query documents over WebSocket.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/liveq/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
