package orchestrator

import (
	"fmt"
	"sort"

	"github.com/sahilm/fuzzy"
)

// ResolveSessionID finds the session id to resume for a project: an exact
// match wins outright; otherwise it falls back to a fuzzy match over the
// project's known session ids. Multiple equally-good fuzzy matches return an
// *AmbiguousSessionError listing the candidates.
func (o *Orchestrator) ResolveSessionID(projectID, want string) (string, error) {
	ids, err := o.sessions.list(projectID)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		if id == want {
			return id, nil
		}
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("orchestrator: no sessions found for project %q", projectID)
	}

	matches := fuzzy.Find(want, ids)
	if len(matches) == 0 {
		return "", fmt.Errorf("orchestrator: no session matching %q", want)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > 1 && matches[0].Score == matches[1].Score {
		candidates := make([]string, 0, len(matches))
		for _, m := range matches {
			if m.Score == matches[0].Score {
				candidates = append(candidates, m.Str)
			}
		}
		return "", &AmbiguousSessionError{Query: want, Candidates: candidates}
	}
	return matches[0].Str, nil
}

// AmbiguousSessionError is returned when a fuzzy session lookup can't pick
// a single winner.
type AmbiguousSessionError struct {
	Query      string
	Candidates []string
}

func (e *AmbiguousSessionError) Error() string {
	return fmt.Sprintf("orchestrator: %q is ambiguous, did you mean one of %v?", e.Query, e.Candidates)
}
