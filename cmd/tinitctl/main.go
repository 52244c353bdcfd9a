// Command tinitctl is the control-plane client for tinit, the Go
// counterpart of svctl.c: one subcommand per request type, talking to
// the supervisor over its control socket via internal/control.Client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// sockPath is the control socket path, overridable with --socket the
// same way svctl.c's single compiled-in TINIT_SOCK_PATH never was; a
// flag beats a recompile when a test instance runs its supervisor
// against a non-default socket.
var sockPath string

var rootCmd = &cobra.Command{
	Use:   "tinitctl",
	Short: "Control the tinit service supervisor",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sockPath, "socket", "/run/tinit.sock", "control socket path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "tinitctl: "+format+"\n", args...)
	os.Exit(1)
}
