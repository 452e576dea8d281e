package mcp

import (
	"fmt"

	"github.com/ashita-ai/nagare/internal/model"
)

// maxCompactString bounds string values in step results returned to agents.
// File contents and query rows can be arbitrarily large.
const maxCompactString = 500

// maxCompactItems bounds list values (e.g. SQL rows) in step results.
const maxCompactItems = 20

// compactSnapshot returns a run snapshot for MCP responses with step
// results shortened and a one-line summary added.
func compactSnapshot(snap model.RunSnapshot) map[string]any {
	steps := make([]map[string]any, 0, len(snap.Steps))
	for _, st := range snap.Steps {
		m := map[string]any{
			"step_id": st.StepID,
			"name":    st.Name,
			"status":  st.Status,
		}
		if st.Result != nil {
			m["result"] = compactValue(st.Result)
		}
		if st.StartedAt != nil && st.FinishedAt != nil {
			m["duration_ms"] = st.FinishedAt.Sub(*st.StartedAt).Milliseconds()
		}
		steps = append(steps, m)
	}

	m := map[string]any{
		"run_id":     snap.RunID,
		"flow_id":    snap.FlowID,
		"version_no": snap.VersionNo,
		"status":     snap.Status,
		"steps":      steps,
		"summary":    runSummary(snap),
	}
	if snap.StartedAt != nil {
		m["started_at"] = snap.StartedAt
	}
	if snap.FinishedAt != nil {
		m["finished_at"] = snap.FinishedAt
	}
	return m
}

// compactValue walks a decoded JSON value and shortens long strings and
// long lists. Maps and slices are copied; the input is not modified.
func compactValue(v any) any {
	switch x := v.(type) {
	case string:
		return truncate(x, maxCompactString)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = compactValue(val)
		}
		return out
	case []any:
		n := min(len(x), maxCompactItems)
		out := make([]any, 0, n+1)
		for _, val := range x[:n] {
			out = append(out, compactValue(val))
		}
		if len(x) > n {
			out = append(out, fmt.Sprintf("... %d more", len(x)-n))
		}
		return out
	}
	return v
}

// runSummary describes a run in one sentence.
func runSummary(snap model.RunSnapshot) string {
	counts := map[model.StepStatus]int{}
	var firstFailed string
	for _, st := range snap.Steps {
		counts[st.Status]++
		if st.Status == model.StepFailed && firstFailed == "" {
			firstFailed = st.StepID
		}
	}
	s := fmt.Sprintf("Run %d is %s: %d of %d step(s) completed", snap.RunID, snap.Status,
		counts[model.StepCompleted], len(snap.Steps))
	if n := counts[model.StepFailed]; n > 0 {
		s += fmt.Sprintf(", %d failed (first: %s)", n, firstFailed)
	}
	if n := counts[model.StepPending]; n > 0 && snap.Status.Terminal() {
		s += fmt.Sprintf(", %d never ran", n)
	}
	return s + "."
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
