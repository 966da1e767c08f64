package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds connection flags for commands that talk to a running
// daemon.
type APIFlags struct {
	URL string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}

	root := &cobra.Command{
		Use:   "camrelay",
		Short: "Republish cloud camera feeds to local media sinks",
		Long: "camrelay keeps one transcoder per camera pointed at its sink, " +
			"substituting a looping placeholder clip whenever the live feed is unavailable.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "camrelay.toml", "path to TOML config file")

	root.AddCommand(
		createRunCommand(globalFlags),
		createStatusCommand(apiFlags),
		createControlCommand("start", "Attempt live acquisition now, skipping any pending backoff", apiFlags),
		createControlCommand("restart", "Tear down the camera's transcoder and re-resolve", apiFlags),
		createControlCommand("stop", "Stop the camera's session permanently", apiFlags),
	)
	return root
}
