package validator

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestValidatePassesWhenRequiredArtifactExists(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "documents", "proj-1", "prd.md"))

	specs := GreenfieldSpecs()
	res, err := Validate(specs, "prd_generation", root, "proj-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Valid {
		t.Fatalf("res = %+v, want valid", res)
	}
	if len(res.Found) != 1 {
		t.Fatalf("found = %v, want 1 match", res.Found)
	}
}

func TestValidateFailsWhenRequiredArtifactMissing(t *testing.T) {
	root := t.TempDir()

	specs := GreenfieldSpecs()
	res, err := Validate(specs, "prd_generation", root, "proj-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Valid {
		t.Fatal("expected invalid: prd.md was never written")
	}
	if len(res.Missing) != 1 {
		t.Fatalf("missing = %v, want 1 entry", res.Missing)
	}
}

func TestValidateStageWithNoSpecIsTriviallyValid(t *testing.T) {
	root := t.TempDir()
	specs := GreenfieldSpecs()
	res, err := Validate(specs, "unregistered_stage", root, "proj-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Valid {
		t.Fatal("expected a stage with no registered spec to be trivially valid")
	}
}

func TestValidateOptionalArtifactMissingDoesNotFailStage(t *testing.T) {
	root := t.TempDir()
	specs := EnhancementSpecs()
	res, err := Validate(specs, "document_reading", root, "proj-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Valid {
		t.Fatalf("res = %+v, want valid despite missing optional artifacts", res)
	}
	missing, err := MissingOptional(specs, "document_reading", root, "proj-1")
	if err != nil {
		t.Fatalf("missing optional: %v", err)
	}
	if len(missing) != 3 {
		t.Fatalf("missing optional = %v, want 3 (prd/srs/sds all absent)", missing)
	}
}

func TestValidateDeletedRequiredArtifactFailsOnResume(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "documents", "proj-1", "prd.md")
	writeFile(t, path)

	specs := GreenfieldSpecs()
	res, err := Validate(specs, "prd_generation", root, "proj-1")
	if err != nil || !res.Valid {
		t.Fatalf("expected valid before deletion: res=%+v err=%v", res, err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	res, err = Validate(specs, "prd_generation", root, "proj-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Valid {
		t.Fatal("expected invalid after externally deleting the required artifact")
	}
}

func TestSpecsForModeUnknownReturnsNil(t *testing.T) {
	if specs := SpecsForMode("bogus"); specs != nil {
		t.Fatalf("specs = %v, want nil for unknown mode", specs)
	}
}
