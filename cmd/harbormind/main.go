package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/joho/godotenv"

	"github.com/haricheung/harbormind/internal/agent"
	"github.com/haricheung/harbormind/internal/es"
	"github.com/haricheung/harbormind/internal/llm"
	"github.com/haricheung/harbormind/internal/memory"
	"github.com/haricheung/harbormind/internal/registry"
	"github.com/haricheung/harbormind/internal/roles/executor"
	"github.com/haricheung/harbormind/internal/roles/normalizer"
	"github.com/haricheung/harbormind/internal/roles/planner"
	"github.com/haricheung/harbormind/internal/roles/synthesizer"
	"github.com/haricheung/harbormind/internal/trace"
	"github.com/haricheung/harbormind/internal/turnlog"
	"github.com/haricheung/harbormind/internal/types"
	"github.com/haricheung/harbormind/internal/ui"
	"github.com/haricheung/harbormind/internal/workers"
)

// historyWindow bounds how many prior turns are handed to each new turn.
const historyWindow = 10

func main() {
	_ = godotenv.Load(".env")

	dataDir := os.Getenv("HARBORMIND_DATA_DIR")
	if dataDir == "" {
		homeDir, _ := os.UserHomeDir()
		dataDir = filepath.Join(homeDir, ".cache", "harbormind")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: create data dir: %v\n", err)
		os.Exit(1)
	}

	// Component logs go to a file so the REPL stays clean.
	logFile, err := os.OpenFile(filepath.Join(dataDir, "harbormind.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err == nil {
		log.SetOutput(logFile)
		defer logFile.Close()
	}

	plannerLLM := llm.NewTier("PLANNER")
	workerLLM := llm.NewTier("WORKER")
	if err := plannerLLM.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := workerLLM.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	esClient := es.NewClient()
	if err := esClient.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v (data-backed workers will fail)\n", err)
	}

	reg := registry.New()
	deps := workers.Deps{LLM: workerLLM, Search: esClient, Reference: esClient, Index: os.Getenv("ES_INDEX")}
	if err := workers.RegisterAll(reg, deps); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	store, err := memory.Open(filepath.Join(dataDir, "memory"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	logs := turnlog.NewRegistry(filepath.Join(dataDir, "turns"))
	pub := trace.New()

	ag := agent.New(
		normalizer.New(plannerLLM),
		planner.New(plannerLLM, reg),
		executor.New(reg),
		synthesizer.New(plannerLLM, reg),
		reg, logs, pub,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nharbormind: shutting down")
		cancel()
	}()

	display := ui.New(pub.Subscribe())
	go display.Run(ctx)

	if len(os.Args) > 1 {
		question := strings.Join(os.Args[1:], " ")
		if err := runTurn(ctx, ag, store, question); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	runREPL(ctx, ag, store)
}

// runTurn executes one question against the stored conversation history
// and persists the completed turn.
func runTurn(ctx context.Context, ag *agent.Agent, store *memory.Store, question string) error {
	// Keep the newest query artifact reachable even when the history window
	// has scrolled past the turn that produced it, so "show more" keeps
	// working in long sessions.
	history, err := store.RecentWithArtifact(historyWindow, types.ArtifactESQuery)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	turnID := store.NextTurnID()

	res, err := ag.RunTurn(ctx, turnID, question, history, 0)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s\n", res.FinalResponse)

	summary := types.TurnSummary{
		TurnID:       turnID,
		HumanMessage: question,
		AIResponse:   res.FinalResponse,
		KeyArtifacts: res.Artifacts,
	}
	if err := store.Append(summary); err != nil {
		log.Printf("[main] persist turn %d: %v", turnID, err)
	}
	return nil
}

func runREPL(ctx context.Context, ag *agent.Agent, store *memory.Store) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "harbormind> ",
		HistoryFile:     filepath.Join(os.TempDir(), "harbormind_repl_history"),
		InterruptPrompt: "^C",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: readline: %v\n", err)
		return
	}
	defer rl.Close()

	fmt.Println("harbormind shipment-data assistant (type 'exit' to quit)")

	for {
		if ctx.Err() != nil {
			return
		}
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return
		}

		question := strings.TrimSpace(line)
		if question == "" {
			continue
		}
		if question == "exit" || question == "quit" {
			return
		}

		if err := runTurn(ctx, ag, store, question); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}
