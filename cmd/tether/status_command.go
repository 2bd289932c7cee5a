package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"tether/internal/api"
	"tether/internal/ipc"
	"tether/internal/preflight"
)

type statusReport struct {
	Daemon *api.DaemonStatus  `json:"daemon"`
	Checks []preflight.Result `json:"checks"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, network, and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var report statusReport
			if client, dialErr := ipc.Dial(ctx.socketPath()); dialErr == nil {
				resp, statusErr := client.Status()
				_ = client.Close()
				if statusErr != nil {
					return statusErr
				}
				report.Daemon = &resp.Status
			}
			report.Checks = preflight.RunAll(cmd.Context(), cfg)

			if asJSON {
				return writeJSON(cmd, report)
			}
			renderStatusReport(cmd.OutOrStdout(), report, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func renderStatusReport(out io.Writer, report statusReport, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if report.Daemon == nil {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	} else {
		status := report.Daemon
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "running (pid "+strconv.Itoa(status.PID)+")", colorize))

		networkKind, networkText := statusOK, "online"
		if !status.Online {
			networkKind, networkText = statusWarn, "offline"
		}
		fmt.Fprintln(out, renderStatusLine("Network", networkKind, fmt.Sprintf("%s (%s mode)", networkText, status.NetworkMode), colorize))

		queueText := fmt.Sprintf("%d pending", status.QueueSize)
		if status.Draining {
			queueText += ", draining"
		}
		fmt.Fprintln(out, renderStatusLine("Queue", statusInfo, queueText, colorize))
		fmt.Fprintln(out, renderStatusLine("Max retries", statusInfo, strconv.Itoa(status.MaxRetries), colorize))
		store := status.Backend
		if status.StorePath != "" {
			store += " at " + status.StorePath
		}
		fmt.Fprintln(out, renderStatusLine("Store", statusInfo, store, colorize))
		if status.APIBind != "" {
			fmt.Fprintln(out, renderStatusLine("HTTP API", statusInfo, status.APIBind, colorize))
		}
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Checks", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, check := range report.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
}
