package orchestrator

import "testing"

func TestStagesForModeDefaultsGreenfield(t *testing.T) {
	got := StagesForMode("")
	want := greenfieldStages()
	if len(got) != len(want) {
		t.Fatalf("StagesForMode(\"\") returned %d stages, want %d", len(got), len(want))
	}
}

func TestTopoOrderRespectsRequires(t *testing.T) {
	ordered := topoOrder(enhancementStages())
	pos := map[string]int{}
	for i, s := range ordered {
		pos[s.Name] = i
	}
	for _, s := range ordered {
		for _, dep := range s.Requires {
			if pos[dep] >= pos[s.Name] {
				t.Fatalf("stage %q (pos %d) scheduled before its dependency %q (pos %d)", s.Name, pos[s.Name], dep, pos[dep])
			}
		}
	}
}

func TestReadyStagesFanOut(t *testing.T) {
	stages := enhancementStages()
	satisfied := map[string]bool{
		"initialization": true, "document_reading": true, "codebase_analysis": true,
		"code_reading": true, "impact_analysis": true,
	}
	ready := readyStages(stages, satisfied)
	names := map[string]bool{}
	for _, s := range ready {
		names[s.Name] = true
	}
	for _, want := range []string{"prd_update", "srs_update", "sds_update"} {
		if !names[want] {
			t.Errorf("expected %q ready for parallel fan-out, got ready=%v", want, names)
		}
	}
	if names["issue_generation"] {
		t.Error("issue_generation should not be ready before all three *_update stages complete")
	}
}

func TestReadyStagesOnlyRootWhenNothingSatisfied(t *testing.T) {
	stages := greenfieldStages()
	ready := readyStages(stages, map[string]bool{})
	if len(ready) != 1 || ready[0].Name != "initialization" {
		t.Fatalf("ready = %v, want only initialization", ready)
	}
}

func TestImportStagesShortestPath(t *testing.T) {
	stages := importStages()
	if len(stages) != 4 {
		t.Fatalf("len(importStages()) = %d, want 4", len(stages))
	}
	if stages[len(stages)-1].Name != "pr_review" {
		t.Fatalf("last stage = %q, want pr_review", stages[len(stages)-1].Name)
	}
}
