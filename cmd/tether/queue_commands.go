package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tether/internal/api"
	"tether/internal/ipc"
	"tether/internal/queueaccess"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the pending request queue",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueDispatchCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueDrainCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queued requests in drain order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(access queueaccess.Access) error {
				items, err := access.List(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.QueueListResponse{Items: items})
				}
				noteOffline(cmd, access)
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprint(out, renderQueueTable(items))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one queued request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(access queueaccess.Access) error {
				item, err := access.Show(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, item)
				}
				renderQueueItem(cmd.OutOrStdout(), item)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

type requestFlags struct {
	priority   string
	data       string
	dataFile   string
	dataBase64 string
	headers    []string
	asJSON     bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.priority, "priority", "p", "", "Priority tier: high, normal, or low")
	cmd.Flags().StringVarP(&f.data, "data", "d", "", "Request body (JSON is kept as JSON, anything else is sent verbatim)")
	cmd.Flags().StringVar(&f.dataFile, "data-file", "", "Read the request body from a file (- for stdin)")
	cmd.Flags().StringVar(&f.dataBase64, "data-base64", "", "Base64-encoded request body")
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, "Request header as 'Name: value' (repeatable)")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Emit JSON output")
	cmd.MarkFlagsMutuallyExclusive("data", "data-file", "data-base64")
}

func (f *requestFlags) build(in io.Reader, method, resource string) (api.EnqueueRequest, error) {
	req := api.EnqueueRequest{
		Resource: resource,
		Method:   strings.ToUpper(method),
		Priority: f.priority,
	}

	headers, err := parseHeaders(f.headers)
	if err != nil {
		return api.EnqueueRequest{}, err
	}
	req.Headers = headers

	var body []byte
	switch {
	case f.dataBase64 != "":
		req.PayloadBase64 = f.dataBase64
		return req, nil
	case f.dataFile == "-":
		body, err = io.ReadAll(in)
	case f.dataFile != "":
		body, err = os.ReadFile(f.dataFile)
	case f.data != "":
		body = []byte(f.data)
	}
	if err != nil {
		return api.EnqueueRequest{}, fmt.Errorf("read request body: %w", err)
	}
	if len(body) > 0 {
		if json.Valid(body) {
			req.Payload = json.RawMessage(body)
		} else {
			req.PayloadBase64 = base64.StdEncoding.EncodeToString(body)
		}
	}
	return req, nil
}

func parseHeaders(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(values))
	for _, value := range values {
		name, v, ok := strings.Cut(value, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q (expected 'Name: value')", value)
		}
		headers[name] = strings.TrimSpace(v)
	}
	return headers, nil
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "add <method> <resource>",
		Short: "Queue a request for delivery when online",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.build(cmd.InOrStdin(), args[0], args[1])
			if err != nil {
				return err
			}
			return ctx.withQueue(cmd.Context(), func(access queueaccess.Access) error {
				item, err := access.Add(cmd.Context(), req)
				if err != nil {
					return err
				}
				if flags.asJSON {
					return writeJSON(cmd, item)
				}
				noteOffline(cmd, access)
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s %s as %s (%s priority)\n", item.Method, item.Resource, item.ID, item.Priority)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newQueueDispatchCommand(ctx *commandContext) *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "dispatch <method> <resource>",
		Short: "Queue a request only if the daemon reports offline",
		Long: "Queue a request only if the daemon reports offline. When online the request\n" +
			"is not queued and the command exits with status 0 so the caller can send it directly.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.build(cmd.InOrStdin(), args[0], args[1])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueDispatch(ipc.QueueDispatchRequest{Request: req})
				if err != nil {
					return err
				}
				if flags.asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if !resp.Queued || resp.Item == nil {
					fmt.Fprintln(out, "Online; request not queued")
					return nil
				}
				fmt.Fprintf(out, "Offline; queued %s %s as %s\n", resp.Item.Method, resp.Item.Resource, resp.Item.ID)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>...",
		Aliases: []string{"rm"},
		Short:   "Drop queued requests without sending them",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(access queueaccess.Access) error {
				result, err := access.Remove(cmd.Context(), args)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, id := range result.Removed {
					fmt.Fprintf(out, "Removed %s\n", id)
				}
				for _, id := range result.Missing {
					fmt.Fprintf(out, "Not queued: %s\n", id)
				}
				if len(result.Removed) == 0 {
					return errors.New("no matching requests were queued")
				}
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(access queueaccess.Access) error {
				removed, err := access.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d queued request(s)\n", removed)
				return nil
			})
		},
	}
}

func newQueueDrainCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Attempt every queued request now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueDrain()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Summary)
				}
				fmt.Fprintln(cmd.OutOrStdout(), describeDrain(resp.Summary))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func describeDrain(summary api.DrainSummary) string {
	if !summary.Ran {
		return "Drain skipped: " + displayLabel(summary.Skipped)
	}
	return fmt.Sprintf("Drain attempted %d: %d delivered, %d failed, %d evicted (%dms)",
		summary.Attempted, summary.Delivered, summary.Failed, summary.Evicted, summary.DurationMillis)
}

func noteOffline(cmd *cobra.Command, access queueaccess.Access) {
	if !access.Live() {
		fmt.Fprintln(cmd.ErrOrStderr(), "Daemon not running; using the persisted queue")
	}
}

func renderQueueTable(items []api.QueueItem) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			item.Method,
			item.Resource,
			displayLabel(item.Priority),
			strconv.Itoa(item.RetryCount),
			item.EnqueuedAt,
		})
	}
	return renderTable(
		[]string{"ID", "Method", "Resource", "Priority", "Retries", "Enqueued"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func renderQueueItem(out io.Writer, item api.QueueItem) {
	fmt.Fprintf(out, "ID:        %s\n", item.ID)
	fmt.Fprintf(out, "Request:   %s %s\n", item.Method, item.Resource)
	fmt.Fprintf(out, "Priority:  %s\n", displayLabel(item.Priority))
	fmt.Fprintf(out, "Retries:   %d\n", item.RetryCount)
	fmt.Fprintf(out, "Enqueued:  %s\n", item.EnqueuedAt)
	if len(item.Headers) > 0 {
		fmt.Fprintln(out, "Headers:")
		for _, name := range sortedKeys(item.Headers) {
			fmt.Fprintf(out, "  %s: %s\n", name, item.Headers[name])
		}
	}
	switch {
	case len(item.Payload) > 0:
		fmt.Fprintf(out, "Payload:   %s\n", item.Payload)
	case item.PayloadBase64 != "":
		fmt.Fprintf(out, "Payload:   (base64) %s\n", item.PayloadBase64)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
