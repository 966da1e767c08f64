package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/camrelay/camrelay"
)

const defaultAPIURL = "http://127.0.0.1:8080"

func addAPIFlag(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.URL, "api-url", defaultAPIURL, "base URL of a running daemon's HTTP API")
}

func createStatusCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [camera]",
		Short: "Show session status for all cameras or one camera",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(flags.URL)
			var statuses []camrelay.Status
			if len(args) == 1 {
				var st camrelay.Status
				if err := client.get(cmd.Context(), sessionPath(args[0]), &st); err != nil {
					return err
				}
				statuses = []camrelay.Status{st}
			} else {
				if err := client.get(cmd.Context(), "/api/sessions", &statuses); err != nil {
					return err
				}
			}
			printStatuses(statuses)
			return nil
		},
	}
	addAPIFlag(cmd, flags)
	return cmd
}

func createControlCommand(verb, short string, flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   verb + " <camera>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(flags.URL)
			if err := client.post(cmd.Context(), sessionPath(args[0])+"/"+verb); err != nil {
				return err
			}
			fmt.Printf("%s: %s requested\n", args[0], verb)
			return nil
		},
	}
	addAPIFlag(cmd, flags)
	return cmd
}

func printStatuses(statuses []camrelay.Status) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CAMERA\tSTATE\tSOURCE\tPID\tATTEMPTS\tLAST ERROR")
	for _, st := range statuses {
		pid := ""
		if st.PID != 0 {
			pid = fmt.Sprintf("%d", st.PID)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			st.Camera, st.State, st.Source, pid, st.Attempts, st.LastError)
	}
	_ = w.Flush()
}
