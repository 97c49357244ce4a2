// Package validator is a pure function of disk state: it confirms a
// stage's upstream artifacts actually exist before the orchestrator
// treats that stage as pre-completed or runs a downstream stage that
// reads them.
package validator

import (
	"fmt"
	"path/filepath"
)

// ArtifactSpec names the glob patterns a stage's outputs must match, plus
// a human label for status output.
type ArtifactSpec struct {
	Label    string
	Required []string // patterns, %s substituted with the project id
	Optional []string
}

// Result reports, per stage, which required patterns were missing and
// which files were found.
type Result struct {
	Valid   bool
	Stage   string
	Missing []string
	Found   []string
}

// Validate checks stage's artifacts under scratchpadRoot for projectID. A
// stage with no registered spec is trivially valid (nothing to check).
func Validate(specs map[string]ArtifactSpec, stage, scratchpadRoot, projectID string) (Result, error) {
	spec, ok := specs[stage]
	if !ok {
		return Result{Valid: true, Stage: stage}, nil
	}

	res := Result{Valid: true, Stage: stage}
	for _, pattern := range spec.Required {
		matches, err := matchPattern(scratchpadRoot, pattern, projectID)
		if err != nil {
			return Result{}, err
		}
		if len(matches) == 0 {
			res.Valid = false
			res.Missing = append(res.Missing, pattern)
			continue
		}
		res.Found = append(res.Found, matches...)
	}
	for _, pattern := range spec.Optional {
		matches, err := matchPattern(scratchpadRoot, pattern, projectID)
		if err != nil {
			return Result{}, err
		}
		res.Found = append(res.Found, matches...)
		// Missing optional artifacts are not recorded as failures; callers
		// that want to warn should diff spec.Optional against res.Found.
	}
	return res, nil
}

func matchPattern(root, pattern, projectID string) ([]string, error) {
	resolved := fmt.Sprintf(pattern, projectID)
	full := filepath.Join(root, resolved)
	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, fmt.Errorf("validator: bad pattern %q: %w", pattern, err)
	}
	return matches, nil
}

// MissingOptional reports which of spec's optional patterns matched
// nothing, for callers that want to log a warning without failing.
func MissingOptional(specs map[string]ArtifactSpec, stage, scratchpadRoot, projectID string) ([]string, error) {
	spec, ok := specs[stage]
	if !ok {
		return nil, nil
	}
	var missing []string
	for _, pattern := range spec.Optional {
		matches, err := matchPattern(scratchpadRoot, pattern, projectID)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			missing = append(missing, pattern)
		}
	}
	return missing, nil
}
