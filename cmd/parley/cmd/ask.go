package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/parley/engine"
	"github.com/hupe1980/parley/runner"
	"github.com/hupe1980/parley/synth"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Run a deliberation from the command line",
	Long: `Run a full multi-cycle deliberation over a question and print the final
synthesis. With --stream every engine event is printed as one JSON line
while the deliberation runs.

Examples:
  parley ask "Should we migrate the billing service to event sourcing?"

  # Watch the deliberation live
  parley ask --stream "Is the current rollout plan sound?"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

var (
	askStream     bool
	askCycles     int
	askPersonaIDs []string
	askTimeout    time.Duration
)

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().BoolVar(&askStream, "stream", false,
		"Print engine events as NDJSON while deliberating")
	askCmd.Flags().IntVar(&askCycles, "max-cycles", runner.DefaultMaxCycles,
		"Maximum deliberation cycles")
	askCmd.Flags().StringSliceVar(&askPersonaIDs, "personas", nil,
		"Persona ids to include (default: all)")
	askCmd.Flags().DurationVar(&askTimeout, "invocation-timeout", 2*time.Minute,
		"Per-persona model call timeout")
}

func runAsk(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	gateway, err := newGateway()
	if err != nil {
		return err
	}

	synthesizer := synth.NewSynthesizer(gateway)

	executor := engine.NewExecutor(gateway, func(o *engine.ExecutorOptions) {
		o.Timeout = askTimeout
	})

	orchestrator := engine.NewOrchestrator(executor, func(o *engine.OrchestratorOptions) {
		o.Synthesizer = synthesizer
		o.Logger = logger.WithComponent("orchestrator")
	})

	r := runner.New(orchestrator, func(o *runner.Options) {
		o.MaxCycles = askCycles
	})

	var emit engine.EmitFunc
	if askStream {
		enc := json.NewEncoder(os.Stdout)
		emit = func(e engine.Event) { _ = enc.Encode(e) }
	}

	result, err := r.Deliberate(cmd.Context(), engine.Request{
		Conversation: args[0],
		PersonaIDs:   askPersonaIDs,
	}, emit)
	if err != nil {
		return err
	}

	final := result.Final()
	if final == nil {
		return fmt.Errorf("no cycle settled")
	}

	if final.Synthesis == nil {
		if final.SynthesisError != "" {
			return fmt.Errorf("synthesis failed: %s", final.SynthesisError)
		}
		return fmt.Errorf("deliberation ended without synthesis: no persona produced a usable answer")
	}

	printSynthesis(len(result.Cycles), final)

	return nil
}

func printSynthesis(cycles int, state *engine.CycleState) {
	fmt.Printf("Cycles: %d\n\n", cycles)
	fmt.Printf("Summary:\n%s\n", state.Synthesis.Summary)

	if len(state.Synthesis.Highlights) > 0 {
		fmt.Println("\nHighlights:")
		for _, h := range state.Synthesis.Highlights {
			fmt.Printf("  - %s: %s\n", h.Title, h.Detail)
		}
	}

	if q := strings.TrimSpace(state.Synthesis.FollowUpQuestion); q != "" {
		fmt.Printf("\nOpen question: %s\n", q)
	}
}
