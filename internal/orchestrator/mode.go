package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ad-sdlc/pipeline-core/internal/config"
)

// ErrAmbiguousMode is returned when disk state doesn't let DetectMode pick
// a mode confidently; the caller should prompt the user.
var ErrAmbiguousMode = fmt.Errorf("orchestrator: ambiguous pipeline mode, user input required")

// DetectMode picks the pipeline mode from the project directory: presence of
// .ad-sdlc/ config means enhancement; absence of both config and source
// means greenfield; existing GitHub issues with no config means import.
func DetectMode(projectDir string) (Mode, error) {
	hasConfig := dirExists(filepath.Join(projectDir, config.AdSDLCDir))
	hasSource := hasSourceFiles(projectDir)
	hasIssueImportMarker := dirExists(filepath.Join(projectDir, ".github", "ISSUE_TEMPLATE")) ||
		fileExists(filepath.Join(projectDir, ".ad-sdlc-import"))

	switch {
	case hasConfig:
		return ModeEnhancement, nil
	case !hasConfig && !hasSource && hasIssueImportMarker:
		return ModeImport, nil
	case !hasConfig && !hasSource:
		return ModeGreenfield, nil
	case !hasConfig && hasSource && hasIssueImportMarker:
		return "", ErrAmbiguousMode
	default:
		// Source exists but no config and no import marker: most likely an
		// enhancement against a project that was never initialized through
		// this pipeline. Treat conservatively as ambiguous rather than guess.
		return "", ErrAmbiguousMode
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// hasSourceFiles reports whether projectDir contains anything beyond a few
// well-known scaffold/vcs files, a rough proxy for "is there already code
// here" used only when .ad-sdlc/ is absent.
func hasSourceFiles(projectDir string) bool {
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return false
	}
	ignorable := map[string]bool{
		".git": true, ".github": true, "README.md": true, "LICENSE": true,
		".gitignore": true, ".ad-sdlc-import": true,
	}
	for _, e := range entries {
		if !ignorable[e.Name()] {
			return true
		}
	}
	return false
}
