package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/statenet/internal/behaviors"
	"github.com/roach88/statenet/internal/compiler"
	"github.com/roach88/statenet/internal/engine"
	"github.com/roach88/statenet/internal/ir"
	"github.com/roach88/statenet/internal/metrics"
	"github.com/roach88/statenet/internal/stimulus"
	"github.com/roach88/statenet/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database        string
	Graph           string
	Seed            uint64
	Timeout         time.Duration
	Debounce        time.Duration
	MaxTicks        int
	HTTPAddr        string
	RedisAddr       string
	RedisChannel    string
	RedisTapChannel string

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// RunReport is the result of one run.
type RunReport struct {
	RunID   string `json:"run_id"`
	Graph   string `json:"graph"`
	Outcome string `json:"outcome"`
	At      string `json:"at,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <graph-path>",
		Short: "Run a graph until its root reports an outcome",
		Long: `Run a graph against the wall clock.

The graph is loaded from a CUE file or directory, its root is started, and
the run lasts until the root posts completion, success or failure, the
timeout passes, or the process is interrupted.

Stimuli come from the HTTP API (--http) and from Redis pub/sub (--redis).
Every step is recorded in the SQLite database given with --db.

Exit codes:
  0 - Root completed or succeeded, or the run was interrupted
  1 - Root failed, the run timed out, or the timeline aborted
  2 - Command error (invalid graph path, database error, etc.)

Examples:
  statenet run ./graphs --graph door --db ./runs.db
  statenet run ./graphs/door.cue --http :8080
  statenet run ./graphs/door.cue --redis localhost:6379 --redis-channel door:text
  statenet run ./graphs/coin.cue --seed 7 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database recording the run")
	cmd.Flags().StringVar(&opts.Graph, "graph", "", "graph to run when the path declares several")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "seed for random transitions")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "stop the run after this long (0 = no limit)")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 0, "delay for unfiltered tap transitions (0 = default)")
	cmd.Flags().IntVar(&opts.MaxTicks, "max-ticks", 0, "ticks without going idle before the run aborts (0 = default)")
	cmd.Flags().StringVar(&opts.HTTPAddr, "http", "", "serve the stimulus API and metrics on this address")
	cmd.Flags().StringVar(&opts.RedisAddr, "redis", "", "forward Redis pub/sub messages from this server")
	cmd.Flags().StringVar(&opts.RedisChannel, "redis-channel", stimulus.DefaultTextChannel, "Redis channel carrying text messages")
	cmd.Flags().StringVar(&opts.RedisTapChannel, "redis-tap-channel", "", "Redis channel carrying taps")

	return cmd
}

func runGraph(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	spec, err := loadGraph(path, opts.Graph)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load graph", err)
	}
	logger.Info("graph loaded", "graph", spec.Name, "nodes", len(spec.Nodes), "transitions", len(spec.Transitions))

	// Printed text goes to stdout unless stdout carries JSON.
	printOut := cmd.OutOrStdout()
	if formatter.JSON() {
		printOut = cmd.ErrOrStderr()
	}
	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithRegistry(behaviors.Default(behaviors.WithOutput(printOut))),
	}
	if opts.RunIDs != nil {
		engOpts = append(engOpts, engine.WithRunIDs(opts.RunIDs))
	}
	if cmd.Flags().Changed("seed") {
		engOpts = append(engOpts, engine.WithSeed(opts.Seed))
	}
	if opts.Debounce > 0 {
		engOpts = append(engOpts, engine.WithDebounce(opts.Debounce))
	}
	if opts.MaxTicks > 0 {
		engOpts = append(engOpts, engine.WithMaxTicks(opts.MaxTicks))
	}

	if opts.Database != "" {
		logger.Info("opening database", "path", opts.Database)
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		engOpts = append(engOpts, engine.WithStore(st))
	}

	var observer *metrics.Observer
	if opts.HTTPAddr != "" {
		observer = metrics.NewObserver()
		engOpts = append(engOpts, engine.WithObserver(observer))
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	sess, err := engine.New(spec, engOpts...).Prepare(ctx)
	if err != nil {
		_ = formatter.Error(compiler.ErrCodeBuildFailed, "graph does not assemble", err.Error())
		return WrapExitError(ExitFailure, "graph does not assemble", err)
	}

	if observer != nil {
		shutdown, err := serveStimulus(opts.HTTPAddr, sess, observer, logger)
		if err != nil {
			_, _ = sess.Finish(ctx, nil)
			return WrapExitError(ExitCommandError, "failed to start HTTP server", err)
		}
		defer shutdown()
	}

	if opts.RedisAddr != "" {
		wait, err := bridgeRedis(ctx, opts, sess, logger)
		if err != nil {
			_, _ = sess.Finish(ctx, nil)
			return WrapExitError(ExitCommandError, "failed to subscribe to Redis", err)
		}
		defer wait()
	}

	outcome, runErr := sess.Run(ctx)
	report := RunReport{
		RunID:   sess.RunID(),
		Graph:   spec.Name,
		Outcome: sess.Status(),
		Payload: outcome.Payload,
	}
	if outcome.Kind != "" {
		report.At = outcome.At.String()
	}
	if err := outputRunReport(formatter, report); err != nil {
		return err
	}

	switch {
	case errors.Is(runErr, context.DeadlineExceeded):
		return WrapExitError(ExitFailure, "run timed out", runErr)
	case errors.Is(runErr, context.Canceled):
		logger.Info("run interrupted")
		return nil
	case runErr != nil:
		return WrapExitError(ExitFailure, "run aborted", runErr)
	case report.Outcome == "failure":
		return NewExitError(ExitFailure, "root failed")
	}
	return nil
}

// loadGraph compiles the graph at path, picking name when the source
// declares several.
func loadGraph(path, name string) (*ir.GraphSpec, error) {
	result, errs := compiler.LoadPath(path, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return result.Select(name)
}

// serveStimulus serves the stimulus API with metrics on addr. The returned
// func shuts the server down.
func serveStimulus(addr string, sess *engine.Session, observer *metrics.Observer, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler: stimulus.NewHandler(sess,
			stimulus.WithHandlerLogger(logger),
			stimulus.WithMetrics(observer.Handler()),
		),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("stimulus API stopped", "error", err)
		}
	}()
	logger.Info("stimulus API listening", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("error stopping stimulus API", "error", err)
		}
	}, nil
}

// bridgeRedis subscribes before the run starts so no message is lost, then
// forwards in the background. The returned func stops the bridge and
// waits for it.
func bridgeRedis(ctx context.Context, opts *RunOptions, sess *engine.Session, logger *slog.Logger) (func(), error) {
	client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
	bridgeOpts := []stimulus.BridgeOption{
		stimulus.WithTextChannel(opts.RedisChannel),
		stimulus.WithBridgeLogger(logger),
	}
	if opts.RedisTapChannel != "" {
		bridgeOpts = append(bridgeOpts, stimulus.WithTapChannel(opts.RedisTapChannel))
	}
	bridge := stimulus.NewBridge(client, sess.Runtime(), bridgeOpts...)
	if err := bridge.Subscribe(ctx); err != nil {
		client.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := bridge.Forward(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("stimulus bridge stopped", "error", err)
		}
	}()

	return func() {
		cancel()
		<-done
		logger.Info("stimulus bridge closed", "forwarded", bridge.Forwarded())
		if err := client.Close(); err != nil {
			logger.Error("error closing Redis client", "error", err)
		}
	}, nil
}

func outputRunReport(f *OutputFormatter, report RunReport) error {
	if f.JSON() {
		status := "ok"
		if report.Outcome != "success" && report.Outcome != "completion" {
			status = "error"
		}
		return f.Encode(CLIResponse{Status: status, Data: report, RunID: report.RunID})
	}

	if report.At != "" {
		fmt.Fprintf(f.Writer, "run %s: %s at %s\n", report.RunID, report.Outcome, report.At)
	} else {
		fmt.Fprintf(f.Writer, "run %s: %s\n", report.RunID, report.Outcome)
	}
	if report.Payload != nil {
		fmt.Fprintf(f.Writer, "  payload: %s\n", store.FormatPayload(report.Payload))
	}
	return nil
}
