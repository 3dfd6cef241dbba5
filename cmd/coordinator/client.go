package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/testcloud/internal/api"
	"github.com/dreamware/testcloud/internal/coordinator"
)

// clientFor builds an API client from the persistent --addr flag.
func clientFor(cmd *cobra.Command) *api.Client {
	addr, _ := cmd.Flags().GetString("addr")
	return api.NewClient(addr)
}

func newClientCmds() []*cobra.Command {
	return []*cobra.Command{
		newStartCmd(),
		newStopCmd(),
		newQueryCmd(),
		newNodesCmd(),
		newShutdownCmd(),
	}
}

func newStartCmd() *cobra.Command {
	var opts coordinator.Options
	cmd := &cobra.Command{
		Use:   "start RELEASE NODE_ID [-- ARGS...]",
		Short: "Start a worker node and wait for it to join",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := clientFor(cmd).Start(cmd.Context(), args[0], args[1], args[2:], opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), identity)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.ContactPoint, "contact", "", "identity the node joins through (default: the coordinator)")
	flags.StringVar(&opts.LaunchDir, "launch-dir", "", "directory holding the worker binary")
	flags.StringVar(&opts.DeathPolicy, "death-policy", "", "permanent or temporary (default permanent)")
	flags.StringVar(&opts.ConfigRef, "config-ref", "", "configuration name handed to the worker (default: the release)")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop NODE_ID",
		Short: "Stop a worker node and forget it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientFor(cmd).Stop(cmd.Context(), args[0])
		},
	}
}

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query NODE_ID FIELD",
		Short: "Print one field of a node record, or of the coordinator with NODE_ID global",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value json.RawMessage
			if err := clientFor(cmd).Query(cmd.Context(), args[0], coordinator.Field(args[1]), &value); err != nil {
				return err
			}
			var s string
			if json.Unmarshal(value, &s) == nil {
				fmt.Fprintln(cmd.OutOrStdout(), s)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(value))
			return nil
		},
	}
}

func newNodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List the tracked worker nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := clientFor(cmd).Nodes(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NODE\tIDENTITY\tRELEASE\tPOLICY\tSTARTED\tARGS")
			for _, n := range nodes {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					n.NodeID, n.ResolvedIdentity, n.ReleaseName, n.DeathPolicy,
					n.StartedAt.Format(time.RFC3339), strings.Join(n.ExtraArgs, " "))
			}
			return tw.Flush()
		},
	}
}

func newShutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Stop every worker node and end the coordinator run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientFor(cmd).Shutdown(cmd.Context())
		},
	}
}
