// takopi-smithers keeps a Smithers workflow alive in every configured git
// worktree: one supervisor process per worktree, plus fleet commands,
// an MCP stdio server and an HTTP dashboard for controlling them.
package main

import (
	"fmt"
	"os"
)

// Version is set by -ldflags at build time.
var Version = "dev"

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
