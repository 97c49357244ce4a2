package scratchpad

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// frontMatter is the YAML-fenced header written ahead of a markdown
// document's body.
type frontMatter struct {
	SchemaVersion int               `yaml:"schema_version"`
	ProjectID     string            `yaml:"project_id"`
	SectionID     string            `yaml:"section_id"`
	CreatedAt     string            `yaml:"created_at"`
	UpdatedAt     string            `yaml:"updated_at"`
	Notes         map[string]string `yaml:"notes,omitempty"`
}

func encodeMarkdown(env Envelope) ([]byte, error) {
	fm := frontMatter{
		SchemaVersion: env.SchemaVersion,
		ProjectID:     env.ProjectID,
		SectionID:     env.SectionID,
		CreatedAt:     env.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     env.UpdatedAt.UTC().Format(time.RFC3339),
		Notes:         env.Notes,
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("scratchpad: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(header, "\n"))
	buf.WriteString("\n---\n\n")
	buf.WriteString(env.Body)
	return buf.Bytes(), nil
}

func decodeMarkdown(data []byte) (Envelope, error) {
	normalized := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Envelope{}, fmt.Errorf("scratchpad: missing frontmatter fence")
	}
	rest := normalized[4:]
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Envelope{}, fmt.Errorf("scratchpad: malformed frontmatter fence")
	}
	var fm frontMatter
	if err := yaml.Unmarshal(parts[0], &fm); err != nil {
		return Envelope{}, fmt.Errorf("scratchpad: parse frontmatter: %w", err)
	}
	created, _ := time.Parse(time.RFC3339, fm.CreatedAt)
	updated, _ := time.Parse(time.RFC3339, fm.UpdatedAt)
	body := bytes.TrimPrefix(parts[1], []byte("\n"))
	return Envelope{
		SchemaVersion: fm.SchemaVersion,
		ProjectID:     fm.ProjectID,
		SectionID:     fm.SectionID,
		CreatedAt:     created,
		UpdatedAt:     updated,
		Notes:         fm.Notes,
		Body:          string(body),
	}, nil
}
