package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Query every endpoint once and print its health",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.GetRequestTimeoutDuration())
		defer cancel()

		p, _, err := buildProvider(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if user := p.RemoveUserEndpoint(); user != nil {
				user.Close()
			}
			p.Close()
		}()

		statuses, probeErr := p.Probe(ctx)
		if statuses == nil {
			return probeErr
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(statuses); err != nil {
				return err
			}
			return probeErr
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ENDPOINT\tALIVE\tBLOCK\tLATENCY\tERROR")
		for _, st := range statuses {
			name := st.Name
			if st.User {
				name += " (user)"
			}
			fmt.Fprintf(w, "%s\t%t\t%d\t%s\t%s\n", name, st.Alive, st.BlockNumber, st.Latency.Round(time.Millisecond), st.LastError)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		return probeErr
	},
}

func init() {
	probeCmd.Flags().Bool("json", false, "print statuses as JSON")
}
