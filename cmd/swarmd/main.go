// Command swarmd runs the hierarchical multi-agent orchestrator: either as
// an HTTP server (serve) or as a one-shot in-process demo hierarchy (demo).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
