// Package orchestrator implements the top-level pipeline control flow:
// the stage DAG for each pipeline mode, approval gates, session
// persistence, and resume. It is the only package that holds an opinion
// about order; every stage's actual work is delegated to internal/agent
// for a single agent call, or to internal/workerpool for the
// issue_generation -> implementation -> pr_review handoff.
package orchestrator

import "github.com/ad-sdlc/pipeline-core/internal/scratchpad"

// Mode mirrors scratchpad.ProjectMode, kept as its own type only to read
// naturally in this package's signatures.
type Mode = scratchpad.ProjectMode

const (
	ModeGreenfield  = scratchpad.ModeGreenfield
	ModeEnhancement = scratchpad.ModeEnhancement
	ModeImport      = scratchpad.ModeImport
)

// Stage is one named step of a pipeline DAG: bound to an agent
// role, a set of direct predecessors, and flags for approval-gate and
// required status.
type Stage struct {
	Name         string
	Role         string // agent role invoked for this stage, "" for a Controller handoff stage
	Requires     []string
	ApprovalGate bool
	Required     bool
	// Handoff names a non-agent execution path for this stage ("controller"
	// hands off to the worker pool; "" means a single agent call).
	Handoff string
}

// greenfieldStages is the linear greenfield DAG: initialization -> collection
// -> prd_generation -> srs_generation -> sds_generation ->
// github_repo_setup -> issue_generation -> implementation -> pr_review.
func greenfieldStages() []Stage {
	return []Stage{
		{Name: "initialization", Role: "collector", Required: true},
		{Name: "collection", Role: "collector", Requires: []string{"initialization"}, ApprovalGate: true},
		{Name: "prd_generation", Role: "prd-writer", Requires: []string{"collection"}, ApprovalGate: true, Required: true},
		{Name: "srs_generation", Role: "srs-writer", Requires: []string{"prd_generation"}, ApprovalGate: true},
		{Name: "sds_generation", Role: "sds-writer", Requires: []string{"srs_generation"}, ApprovalGate: true},
		{Name: "github_repo_setup", Role: "implementer", Requires: []string{"sds_generation"}},
		{Name: "issue_generation", Role: "issue-generator", Requires: []string{"github_repo_setup"}, ApprovalGate: true},
		{Name: "implementation", Requires: []string{"issue_generation"}, Handoff: "controller"},
		{Name: "pr_review", Requires: []string{"implementation"}, ApprovalGate: true, Required: true, Handoff: "controller"},
	}
}

// enhancementStages is the enhancement DAG, including the fan-out of
// prd_update/srs_update/sds_update depending on impact scope: all three
// are declared with the same predecessor (impact_analysis) so they can run
// as a parallel group; which of them actually produces output is decided
// by impact_analysis's reported scope, not by this DAG.
func enhancementStages() []Stage {
	return []Stage{
		{Name: "initialization", Role: "collector", Required: true},
		{Name: "document_reading", Role: "collector", Requires: []string{"initialization"}},
		{Name: "codebase_analysis", Role: "collector", Requires: []string{"document_reading"}},
		{Name: "code_reading", Role: "collector", Requires: []string{"codebase_analysis"}},
		{Name: "impact_analysis", Role: "collector", Requires: []string{"code_reading"}, ApprovalGate: true},
		{Name: "prd_update", Role: "prd-writer", Requires: []string{"impact_analysis"}},
		{Name: "srs_update", Role: "srs-writer", Requires: []string{"impact_analysis"}},
		{Name: "sds_update", Role: "sds-writer", Requires: []string{"impact_analysis"}},
		{Name: "issue_generation", Role: "issue-generator", Requires: []string{"prd_update", "srs_update", "sds_update"}, ApprovalGate: true},
		{Name: "regression_testing", Role: "implementer", Requires: []string{"issue_generation"}},
		{Name: "implementation", Requires: []string{"regression_testing"}, Handoff: "controller"},
		{Name: "pr_review", Requires: []string{"implementation"}, ApprovalGate: true, Required: true, Handoff: "controller"},
	}
}

// importStages is the shortest DAG: initialization -> issue_import
// -> implementation -> pr_review.
func importStages() []Stage {
	return []Stage{
		{Name: "initialization", Role: "collector", Required: true},
		{Name: "issue_import", Role: "issue-generator", Requires: []string{"initialization"}, ApprovalGate: true},
		{Name: "implementation", Requires: []string{"issue_import"}, Handoff: "controller"},
		{Name: "pr_review", Requires: []string{"implementation"}, ApprovalGate: true, Required: true, Handoff: "controller"},
	}
}

// StagesForMode returns the declared stage DAG for a pipeline mode.
func StagesForMode(mode Mode) []Stage {
	switch mode {
	case ModeEnhancement:
		return enhancementStages()
	case ModeImport:
		return importStages()
	default:
		return greenfieldStages()
	}
}

// topoOrder returns stages in an order honoring every Requires edge
// (stable: declaration order broken ties, since every DAG above is already
// listed in a valid topological order; this only defends against a
// caller supplying a differently-ordered custom DAG).
func topoOrder(stages []Stage) []Stage {
	byName := make(map[string]Stage, len(stages))
	for _, s := range stages {
		byName[s.Name] = s
	}
	var ordered []Stage
	done := map[string]bool{}
	var visit func(s Stage)
	visit = func(s Stage) {
		if done[s.Name] {
			return
		}
		for _, dep := range s.Requires {
			if d, ok := byName[dep]; ok {
				visit(d)
			}
		}
		done[s.Name] = true
		ordered = append(ordered, s)
	}
	for _, s := range stages {
		visit(s)
	}
	return ordered
}

// readyStages returns stages from all whose predecessors are every one a
// member of satisfied, and which are not themselves already satisfied.
func readyStages(all []Stage, satisfied map[string]bool) []Stage {
	var ready []Stage
	for _, s := range all {
		if satisfied[s.Name] {
			continue
		}
		ok := true
		for _, dep := range s.Requires {
			if !satisfied[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s)
		}
	}
	return ready
}
