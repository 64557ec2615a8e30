package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/parley/engine"
	"github.com/hupe1980/parley/runner"
	"github.com/hupe1980/parley/server"
	"github.com/hupe1980/parley/synth"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deliberation HTTP server",
	Long: `Start the HTTP server exposing the deliberation API: streaming and
synchronous cycle endpoints, synthesis, persona catalog and summarizer.

Examples:
  # Start with defaults (localhost:8080)
  parley serve

  # Start on a custom host and port
  parley serve --host 0.0.0.0 --port 3000`,
	RunE: runServe,
}

var (
	serveHost      string
	servePort      int
	serveNoCORS    bool
	serveMaxCycles int
	serveTimeout   time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "localhost",
		"Host address to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080,
		"Port to listen on")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false,
		"Disable CORS headers")
	serveCmd.Flags().IntVar(&serveMaxCycles, "max-cycles", runner.DefaultMaxCycles,
		"Maximum deliberation cycles per conversation")
	serveCmd.Flags().DurationVar(&serveTimeout, "invocation-timeout", 2*time.Minute,
		"Per-persona model call timeout")
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	gateway, err := newGateway()
	if err != nil {
		return err
	}

	synthesizer := synth.NewSynthesizer(gateway, func(o *synth.SynthesizerOptions) {
		o.Logger = logger.WithComponent("synth")
	})

	executor := engine.NewExecutor(gateway, func(o *engine.ExecutorOptions) {
		o.Timeout = serveTimeout
		o.Logger = logger.WithComponent("executor")
	})

	orchestrator := engine.NewOrchestrator(executor, func(o *engine.OrchestratorOptions) {
		o.Synthesizer = synthesizer
		o.Logger = logger.WithComponent("orchestrator")
	})

	r := runner.New(orchestrator, func(o *runner.Options) {
		o.MaxCycles = serveMaxCycles
		o.Logger = logger.WithComponent("runner")
	})

	cfg := server.DefaultConfig()
	cfg.Host = serveHost
	cfg.Port = servePort
	cfg.EnableCORS = !serveNoCORS

	srv := server.New(cfg, r, synthesizer, func(o *server.Options) {
		o.Logger = logger.WithComponent("server")
	})

	logger.Info("starting parley server provider=%s", gateway.Info().Provider)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}
