package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/zulandar/nudge/internal/agent"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// statusColor picks the colour for a check or run status label.
func statusColor(status string) *color.Color {
	switch status {
	case "PASS", agent.StopOracleDone, "sent":
		return green
	case "WARN", agent.StopIterationCap, "simulated", "deferred", "skipped":
		return yellow
	case "FAIL", agent.StopAborted, agent.StopOracleError, "failed":
		return red
	}
	return faint
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// printEvent renders one loop event as a line of the live reasoning stream.
func printEvent(out io.Writer, ev agent.Event) {
	switch ev.State {
	case agent.StateReasoning:
		if ev.Text != "" {
			cyan.Fprintf(out, "[%d] thinking: ", ev.Turn)
			fmt.Fprintln(out, truncate(ev.Text, 200))
		}
	case agent.StateExecuting:
		if ev.ErrorKind != "" {
			red.Fprintf(out, "[%d] %s failed (%s)\n", ev.Turn, ev.Tool, ev.ErrorKind)
			return
		}
		fmt.Fprintf(out, "[%d] %s\n", ev.Turn, ev.Tool)
	case agent.StateDone:
		green.Fprintf(out, "[%d] done\n", ev.Turn)
	}
}

// printSummary renders the end-of-run report.
func printSummary(out io.Writer, sum *agent.Summary) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Run %s (%s) stopped: ", sum.RunID, sum.Mode)
	statusColor(sum.StopReason).Fprintln(out, sum.StopReason)
	fmt.Fprintf(out, "  Reasoning steps: %d, executing steps: %d, duration: %s\n",
		sum.ReasoningSteps, sum.ExecutingSteps, sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))

	p := sum.Progress
	fmt.Fprintf(out, "  Students: %d incomplete, %d processed, %d deferred, %d untouched\n",
		p.Total, p.Processed, p.Deferred, p.Untouched)

	if len(sum.Invocations) > 0 {
		names := make([]string, 0, len(sum.Invocations))
		for name := range sum.Invocations {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = fmt.Sprintf("%s=%d", name, sum.Invocations[name])
		}
		fmt.Fprintf(out, "  Tools: %s\n", strings.Join(parts, " "))
	}

	if len(p.Outcomes) > 0 {
		ids := make([]string, 0, len(p.Outcomes))
		for id := range p.Outcomes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Fprintln(out, "  Outcomes:")
		for _, id := range ids {
			o := string(p.Outcomes[id])
			if o == "" {
				o = "untouched"
			}
			fmt.Fprintf(out, "    %-14s ", id)
			statusColor(o).Fprintln(out, o)
		}
	}
	if sum.FinalText != "" {
		fmt.Fprintf(out, "\n%s\n", sum.FinalText)
	}
	if sum.Error != "" {
		red.Fprintf(out, "Error: %s\n", sum.Error)
	}
}
