package scratchpad

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

func (s *Store) projectPath(projectID string) string {
	return filepath.Join(s.cfg.InfoDir(projectID), "project.yaml")
}

func (s *Store) transitionLogPath(projectID string) string {
	return filepath.Join(s.cfg.ProgressDir(projectID), "transitions.yaml")
}

// CreateProject initializes a new Project at state collecting.
func (s *Store) CreateProject(id, name string, mode ProjectMode) (Project, error) {
	now := s.now()
	p := Project{ID: id, Name: name, Mode: mode, State: StateCollecting, CreatedAt: now, UpdatedAt: now}
	if err := s.writeProject(p); err != nil {
		return Project{}, err
	}
	return p, nil
}

// GetProject loads the persisted Project, or ErrNotFound if absent.
func (s *Store) GetProject(id string) (Project, error) {
	data, err := os.ReadFile(s.projectPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Project{}, &NotFoundError{Section: "project", ProjectID: id}
		}
		return Project{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Project{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return p, nil
}

func (s *Store) writeProject(p Project) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("scratchpad: encode project: %w", err)
	}
	return atomicWrite(s.projectPath(p.ID), data)
}

// Transition moves a project's lifecycle state, validating against the
// transition table and writing a TransitionRecord. A normal/recovery/resume
// transition outside the declared table fails with ErrInvalidTransition.
func (s *Store) Transition(projectID string, to ProjectState, trigger TransitionTrigger, actor, reason string) (TransitionRecord, error) {
	lock := newFileLock(s.projectPath(projectID))
	release, err := lock.Acquire("transition", s.lockWait)
	if err != nil {
		return TransitionRecord{}, err
	}
	defer release()

	p, err := s.GetProject(projectID)
	if err != nil {
		return TransitionRecord{}, err
	}
	if p.State.Terminal() {
		return TransitionRecord{}, fmt.Errorf("%w: project %s is in terminal state %s", ErrInvalidTransition, projectID, p.State)
	}
	if !validTransition(p.State, to, trigger) {
		return TransitionRecord{}, fmt.Errorf("%w: %s -> %s via %s", ErrInvalidTransition, p.State, to, trigger)
	}
	rec := TransitionRecord{
		ProjectID: projectID,
		From:      p.State,
		To:        to,
		Timestamp: s.now(),
		Trigger:   trigger,
		Actor:     actor,
		Reason:    reason,
	}
	p.State = to
	p.UpdatedAt = rec.Timestamp
	if err := s.writeProject(p); err != nil {
		return TransitionRecord{}, err
	}
	if err := s.appendTransition(projectID, rec); err != nil {
		return TransitionRecord{}, err
	}
	s.publish(projectID, "project")
	return rec, nil
}

// SkipTo advances the project directly to a target state, refusing the
// skip with ErrRequiredSkip if any intervening stage is required.
func (s *Store) SkipTo(projectID string, to ProjectState, reason, approvedBy string) (TransitionRecord, error) {
	p, err := s.GetProject(projectID)
	if err != nil {
		return TransitionRecord{}, err
	}
	if required := requiredStatesBetween(p.State, to); len(required) > 0 {
		return TransitionRecord{}, fmt.Errorf("%w: %s requires intervening stage(s) %v", ErrRequiredSkip, to, required)
	}
	rec, err := s.Transition(projectID, to, TriggerSkip, approvedBy, reason)
	if err != nil {
		return TransitionRecord{}, err
	}
	rec.ApprovedBy = approvedBy
	return rec, nil
}

// RecoverTo moves the project backward to a declared recovery target.
func (s *Store) RecoverTo(projectID string, to ProjectState, actor, reason string) (TransitionRecord, error) {
	return s.Transition(projectID, to, TriggerRecovery, actor, reason)
}

// AdminOverride forces any transition, always recording trigger='admin'.
// No cryptographic check is performed; binding
// this to an external auth system is the caller's responsibility.
func (s *Store) AdminOverride(projectID string, to ProjectState, actor, reason string) (TransitionRecord, error) {
	if actor == "" {
		return TransitionRecord{}, fmt.Errorf("scratchpad: admin override requires a non-empty actor")
	}
	return s.Transition(projectID, to, TriggerAdmin, actor, reason)
}

func (s *Store) appendTransition(projectID string, rec TransitionRecord) error {
	path := s.transitionLogPath(projectID)
	var records []TransitionRecord
	if data, err := os.ReadFile(path); err == nil {
		_ = yaml.Unmarshal(data, &records)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("scratchpad: read transition log: %w", err)
	}
	records = append(records, rec)
	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("scratchpad: encode transition log: %w", err)
	}
	return atomicWrite(path, data)
}

// Transitions returns the full audit trail for a project, oldest first.
func (s *Store) Transitions(projectID string) ([]TransitionRecord, error) {
	data, err := os.ReadFile(s.transitionLogPath(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	var records []TransitionRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return records, nil
}
