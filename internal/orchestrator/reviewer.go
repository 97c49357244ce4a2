package orchestrator

import (
	"context"
	"fmt"
)

// ReviewThresholds configures DefaultReviewer's quality gates: tests,
// lint, and build must pass, coverage must reach the threshold, and no
// critical security findings may remain.
type ReviewThresholds struct {
	MinCoveragePercent float64 // defaults to 80
}

// DefaultReviewer builds the Reviewer the Controller's pr_review stage
// runs against each completed work order's persisted state (the
// internal/worksteps ImplementationResult, decoded generically). It never
// opens or merges a PR itself; that's the GitHub CLI adapter's job. It
// only decides the verdict.
func DefaultReviewer(th ReviewThresholds) Reviewer {
	if th.MinCoveragePercent <= 0 {
		th.MinCoveragePercent = 80
	}
	return func(_ context.Context, _ string, workOrderID string, state map[string]any) (ReviewDecision, error) {
		verification, _ := state["verification"].(map[string]any)
		buildPass := boolField(verification, "build_pass")
		testsPass := boolField(verification, "tests_pass")
		lintPass := boolField(verification, "lint_pass", true)
		typecheckPass := boolField(verification, "typecheck_pass", true)
		coverage := floatField(verification, "coverage_percent")
		security := intField(state, "security_findings")

		decision := ReviewDecision{
			CoveragePercent:  coverage,
			TestsPass:        testsPass,
			LintPass:         lintPass,
			BuildPass:        buildPass,
			TypecheckPass:    typecheckPass,
			SecurityFindings: security,
		}

		switch {
		case !buildPass:
			decision.Reject = true
			decision.Notes = "build failed"
		case security > 0:
			decision.Reject = true
			decision.Notes = fmt.Sprintf("%d critical security finding(s)", security)
		case !testsPass:
			decision.RequestChanges = true
			decision.Notes = "tests failing"
		case coverage < th.MinCoveragePercent:
			decision.RequestChanges = true
			decision.Notes = fmt.Sprintf("coverage %.1f%% below %.1f%% threshold", coverage, th.MinCoveragePercent)
		case !lintPass:
			decision.RequestChanges = true
			decision.Notes = "lint failed"
		case !typecheckPass:
			decision.RequestChanges = true
			decision.Notes = "typecheck failed"
		default:
			decision.Merge = true
			decision.Notes = fmt.Sprintf("work order %s meets all quality gates", workOrderID)
		}
		return decision, nil
	}
}

func boolField(m map[string]any, key string, fallback ...bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	if len(fallback) > 0 {
		return fallback[0]
	}
	return false
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
