package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tether/internal/ipc"
)

func newNetworkCommand(ctx *commandContext) *cobra.Command {
	networkCmd := &cobra.Command{
		Use:   "network",
		Short: "Report or override connectivity (manual mode)",
	}
	networkCmd.AddCommand(newNetworkSetCommand(ctx, "online", true))
	networkCmd.AddCommand(newNetworkSetCommand(ctx, "offline", false))
	return networkCmd
}

func newNetworkSetCommand(ctx *commandContext, use string, online bool) *cobra.Command {
	short := "Mark the network reachable and drain the queue"
	if !online {
		short = "Mark the network unreachable"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.NetworkSet(online)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				state := "offline"
				if resp.Online {
					state = "online"
				}
				if !resp.Changed {
					fmt.Fprintf(out, "Network already %s\n", state)
					return nil
				}
				fmt.Fprintf(out, "Network marked %s\n", state)
				return nil
			})
		},
	}
}
