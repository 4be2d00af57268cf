package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"cosched/internal/job"
	promexp "cosched/internal/observability/prometheus"
	"cosched/internal/sched"
)

func main() {
	app := &cli.App{
		Name:  "cosched",
		Usage: "run demo workloads on the cooperative work-stealing runtime",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "config.yml", Usage: "YAML config file"},
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "number of worker threads (overrides config)"},
			&cli.IntFlag{Name: "tick-ms", Usage: "idle wake interval in milliseconds (overrides config)"},
			&cli.BoolFlag{Name: "trace", Usage: "print one line per scheduling event"},
			&cli.StringFlag{Name: "csv", Usage: "write scheduling events to this CSV file"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Commands: []*cli.Command{
			{
				Name:  "fib",
				Usage: "compute a Fibonacci number with one task per recursive call",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "n", Value: 25},
					&cli.IntFlag{Name: "cutoff", Value: 10, Usage: "recurse inline at or below this n"},
				},
				Action: fibAction,
			},
			{
				Name:  "fanout",
				Usage: "spawn tasks that sleep on a deadline and join them with a latch",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "tasks", Value: 1000},
					&cli.Int64Flag{Name: "sleep-ms", Value: 20},
				},
				Action: fanoutAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fibAction(c *cli.Context) error {
	n := c.Int("n")
	if n < 0 {
		return cli.Exit("n must not be negative", 1)
	}

	var result int64
	elapsed, err := runRoot(c, job.Fib(n, c.Int("cutoff"), &result))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	fmt.Printf("fib(%d) = %d in %s\n", n, result, elapsed)
	return nil
}

func fanoutAction(c *cli.Context) error {
	tasks := c.Int("tasks")
	if tasks <= 0 {
		return cli.Exit("tasks must be positive", 1)
	}

	var done atomic.Int64
	elapsed, err := runRoot(c, job.FanOut(tasks, c.Int64("sleep-ms"), &done))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	fmt.Printf("%d/%d tasks finished in %s\n", done.Load(), tasks, elapsed)
	return nil
}

// runRoot starts the runtime, runs root as the first task and shuts the
// runtime down once root returned.
func runRoot(c *cli.Context, root sched.TaskFunc) (time.Duration, error) {
	cfg := sched.Load(c.String("config"))
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("tick-ms") {
		cfg.TickMS = c.Int("tick-ms")
	}
	if c.Bool("trace") || c.IsSet("csv") {
		cfg.Trace = true
	}

	level := slog.LevelInfo
	if c.Bool("debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []sched.Option{sched.WithLogger(logger)}
	if c.Bool("trace") {
		opts = append(opts, sched.WithEventWriter(os.Stdout))
	}
	if addr := c.String("metrics-addr"); addr != "" {
		reg := prom.NewRegistry()
		exporter, err := promexp.NewMetricsExporter("cosched", reg)
		if err != nil {
			return 0, err
		}
		opts = append(opts, sched.WithMetrics(exporter))

		srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", addr, "err", err)
			}
		}()
		defer srv.Close()
	}

	m := sched.New(cfg, opts...)
	if path := c.String("csv"); path != "" {
		if err := m.EnableCSVLogging(path); err != nil {
			return 0, err
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	start := time.Now()
	h, err := m.Go(func(ctx context.Context) error {
		defer m.Terminate()
		return root(ctx)
	})
	if err != nil {
		return 0, err
	}
	if err := m.Run(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), h.Err()
}
