package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-pulse/internal/client"
	"github.com/miradorstack/mirador-pulse/internal/poller"
	"github.com/miradorstack/mirador-pulse/internal/query"
	"github.com/miradorstack/mirador-pulse/internal/utils"
)

var (
	serverURL   string
	demoUser    string
	timeout     time.Duration
	rawJSON     bool
	serviceName string
	metricName  string
	interval    time.Duration

	rootCmd = &cobra.Command{
		Use:           "pulsectl",
		Short:         "Query a mirador-pulse dashboard server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	queryCmd = &cobra.Command{
		Use:       "query <operation>",
		Short:     "Run one query and print the result",
		Args:      cobra.ExactArgs(1),
		ValidArgs: operationNames(),
		RunE:      runQuery,
	}

	watchCmd = &cobra.Command{
		Use:       "watch <operation>",
		Short:     "Re-run a query on an interval until interrupted",
		Args:      cobra.ExactArgs(1),
		ValidArgs: operationNames(),
		RunE:      runWatch,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("PULSE_SERVER", "http://localhost:8080"), "Dashboard server base URL")
	rootCmd.PersistentFlags().StringVarP(&demoUser, "user", "u", "", "Demo user hint (id, email or role)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&rawJSON, "json", false, "Print raw JSON data")
	rootCmd.PersistentFlags().StringVarP(&serviceName, "service", "s", "", "Service name for serviceHealth and serviceTimeSeries")
	rootCmd.PersistentFlags().StringVarP(&metricName, "metric", "m", query.DefaultMetric, "Metric for serviceTimeSeries")

	watchCmd.Flags().DurationVarP(&interval, "interval", "i", 5*time.Second, "Refresh interval")

	rootCmd.AddCommand(queryCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	op, req, err := buildRequest(args[0])
	if err != nil {
		return err
	}
	c := client.NewClient(serverURL, demoUser, timeout)
	return fetchAndPrint(cmd.Context(), cmd.OutOrStdout(), c, op, req)
}

func runWatch(cmd *cobra.Command, args []string) error {
	op, req, err := buildRequest(args[0])
	if err != nil {
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	c := client.NewClient(serverURL, demoUser, timeout)
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := poller.NewScheduler(utils.NewLoggerTo(cmd.ErrOrStderr(), "warn", false))
	err = scheduler.Add(poller.Task{
		Name:      op.String(),
		Interval:  interval,
		Immediate: true,
		Run: func(ctx context.Context) error {
			fmt.Fprintf(out, "--- %s @ %s\n", op, time.Now().Format(time.TimeOnly))
			if err := fetchAndPrint(ctx, out, c, op, req); err != nil {
				fmt.Fprintln(out, "error:", err)
				return err
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	scheduler.Stop()
	return nil
}

func buildRequest(name string) (query.Operation, client.Request, error) {
	op, ok := query.ParseOperation(name)
	if !ok {
		return query.OpUnknown, client.Request{}, fmt.Errorf("unknown operation %q (want one of %v)", name, operationNames())
	}
	req, err := client.Build(op, serviceName, metricName)
	return op, req, err
}

func fetchAndPrint(ctx context.Context, w io.Writer, c *client.Client, op query.Operation, req client.Request) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var data map[string]json.RawMessage
	if err := c.Do(ctx, req, &data); err != nil {
		return err
	}
	payload := data[op.String()]
	if rawJSON {
		_, err := fmt.Fprintln(w, string(payload))
		return err
	}
	return render(w, op, payload, time.Now())
}

func operationNames() []string {
	ops := query.Operations()
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, op.String())
	}
	return names
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
