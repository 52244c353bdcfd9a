package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tuxdude/tinit/internal/control"
)

var runStateNames = map[control.RunState]string{
	control.Stopped:  "stopped",
	control.Starting: "starting",
	control.Ready:    "ready",
	control.Stopping: "stopping",
}

var statusCmd = &cobra.Command{
	Use:   "status [pattern]",
	Short: "Show the status of services matching a glob pattern",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pattern := "*"
		if len(args) == 1 {
			pattern = args[0]
		}

		c, err := control.Dial(sockPath)
		if err != nil {
			fail("%v", err)
		}
		defer c.Close()

		records, err := c.Status(pattern)
		if err != nil {
			fail("cannot load service status: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "NAME\tADM\tRUN")
		for _, rec := range records {
			adm := "off"
			if rec.Admin {
				adm = "on"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", rec.Path, adm, runStateNames[rec.RunState])
		}
	},
}

func newSvcCmd(use, short string, action func(*control.Client, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			c, err := control.Dial(sockPath)
			if err != nil {
				fail("%v", err)
			}
			defer c.Close()

			if err := action(c, args[0]); err != nil {
				fail("%q: %v", args[0], err)
			}
		},
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(newSvcCmd("start", "Start a service", (*control.Client).Start))
	rootCmd.AddCommand(newSvcCmd("stop", "Stop a service", (*control.Client).Stop))
	rootCmd.AddCommand(newSvcCmd("restart", "Restart a service", (*control.Client).Restart))
	rootCmd.AddCommand(newSvcCmd("reload", "Reload a service in place", (*control.Client).Reload))
	rootCmd.AddCommand(newSvcCmd("switch", "Switch the active target", (*control.Client).Switch))
}
