// Command gateway is the unified messaging gateway's entrypoint: every
// component wired in this module is reachable from one binary, split
// across cobra subcommands so a deployment can run them together (a
// single `serve` process for development) or as independently scaled
// processes (`router`, `status`, `reconcile` as separate replicas) in
// production, the way the teacher repo's own go.mod declares
// spf13/cobra as a direct dependency without any retrieved file
// exercising it — this is the first call site in the module.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Unified messaging gateway",
	}
	root.AddCommand(
		newServeCmd(),
		newRouterCmd(),
		newStatusCmd(),
		newReconcileCmd(),
		newMigrateCmd(),
	)
	return root
}
