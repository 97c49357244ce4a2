package scratchpad

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

func init() {
	RegisterValidator(SectionCollectedInfo.ID, func(body string) error {
		var v map[string]any
		if err := yaml.Unmarshal([]byte(body), &v); err != nil {
			return fmt.Errorf("not valid YAML: %w", err)
		}
		return nil
	})
	RegisterValidator(SectionIssueList.ID, jsonValidator)
	RegisterValidator(SectionDependencyGraph.ID, jsonValidator)
	RegisterValidator(SectionControllerState.ID, func(body string) error {
		var v map[string]any
		if err := yaml.Unmarshal([]byte(body), &v); err != nil {
			return fmt.Errorf("not valid YAML: %w", err)
		}
		return nil
	})
}

func jsonValidator(body string) error {
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	return nil
}
