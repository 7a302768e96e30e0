// Package ui renders a live pipeline view of a running turn to stdout:
// one colored flow line per trace event plus an animated spinner with the
// current stage. All terminal writes happen on the Run goroutine.
package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/haricheung/harbormind/internal/trace"
)

// ANSI codes
const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
	ansiBlue   = "\033[34m"
)

var stageColor = map[trace.Stage]string{
	trace.StageNormalize:  ansiCyan,
	trace.StagePlan:       ansiBlue,
	trace.StageDispatch:   ansiDim + ansiBlue,
	trace.StageWorkerDone: ansiYellow,
	trace.StageJoin:       ansiYellow,
	trace.StageSynthesize: ansiCyan,
	trace.StageTurnDone:   ansiGreen,
}

var stageStatus = map[trace.Stage]string{
	trace.StageNormalize:  "normalizing...",
	trace.StagePlan:       "planning...",
	trace.StageDispatch:   "dispatching...",
	trace.StageWorkerDone: "collecting results...",
	trace.StageJoin:       "joining round...",
	trace.StageSynthesize: "synthesizing...",
}

// FlowLine renders one trace event as a colored status line.
func FlowLine(e trace.Event) string {
	color := stageColor[e.Stage]
	if color == "" {
		color = ansiDim
	}
	var detail strings.Builder
	if e.Round > 0 {
		fmt.Fprintf(&detail, " r%d", e.Round)
	}
	if e.Worker != "" {
		fmt.Fprintf(&detail, " %s", e.Worker)
		if e.SubGoalID > 0 {
			fmt.Fprintf(&detail, "#%d", e.SubGoalID)
		}
	}
	if e.Detail != "" {
		fmt.Fprintf(&detail, " %s", clip(e.Detail, 60))
	}
	if e.Stage == trace.StageTurnDone && e.Detail == "failed" {
		color = ansiRed
	}
	return fmt.Sprintf("%s│ %-11s%s%s%s", ansiDim, e.Stage, color, detail.String(), ansiReset)
}

// Status returns the spinner label for a stage, enriched with the worker
// name where the static label alone is not informative.
func Status(e trace.Event) string {
	if e.Stage == trace.StageDispatch && e.Worker != "" {
		return fmt.Sprintf("running %s...", e.Worker)
	}
	return stageStatus[e.Stage]
}

var spinRunes = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Display animates a live pipeline view from a trace subscription.
type Display struct {
	events <-chan trace.Event

	mu      sync.Mutex
	status  string
	started time.Time
	inTurn  bool
	spinIdx int
}

// New creates a Display reading from events.
func New(events <-chan trace.Event) *Display {
	return &Display{events: events}
}

// Run renders flow lines and animates the spinner until ctx is cancelled or
// the event channel closes.
func (d *Display) Run(ctx context.Context) {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Print("\r\033[K")
			return

		case e, ok := <-d.events:
			if !ok {
				return
			}
			if !d.inTurn {
				d.startTurn()
			}
			fmt.Print("\r\033[K")
			fmt.Println(FlowLine(e))
			d.setStatus(Status(e))
			if e.Stage == trace.StageTurnDone {
				d.endTurn(e.Detail)
			}

		case <-ticker.C:
			if !d.inTurn {
				continue
			}
			frame := spinRunes[d.spinIdx%len(spinRunes)]
			d.spinIdx++
			d.mu.Lock()
			status := d.status
			d.mu.Unlock()
			fmt.Printf("\r%s%s%s %s", ansiCyan, string(frame), ansiReset, status)
		}
	}
}

func (d *Display) startTurn() {
	d.started = time.Now()
	d.inTurn = true
	d.setStatus("starting...")
	fmt.Printf("\n%s┌─── harbormind %s%s\n", ansiDim, strings.Repeat("─", 44), ansiReset)
}

func (d *Display) endTurn(status string) {
	elapsed := time.Since(d.started).Round(10 * time.Millisecond)
	color := ansiGreen
	if status == "failed" {
		color = ansiRed
	}
	fmt.Printf("%s└─── %s%s%s in %s %s%s\n", ansiDim, color, status, ansiDim, elapsed, strings.Repeat("─", 30), ansiReset)
	d.inTurn = false
}

func (d *Display) setStatus(s string) {
	if s == "" {
		return
	}
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
