// Package pipeline runs an ordered, persona-bound sequence of text
// generation stages over a shared context.
package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// AgentSpec is the persona bound to one stage for one run. Name is a display
// label only; stages are identified by position.
type AgentSpec struct {
	Name         string            `json:"name"`
	Personality  string            `json:"personality"`
	Specialty    string            `json:"specialty"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

// Context is the read-only input shared by every stage of a run.
type Context struct {
	// Subject is the entity the run is about, e.g. a token name.
	Subject string
	// Brief is the rendered fact sheet the stages reason over.
	Brief string
	// Avoid lists recently published primaries the copywriter should not repeat.
	Avoid []string
}

// Stage is one step of the pipeline. Instruct builds the stage's user input
// from the shared context and the results of every earlier stage.
type Stage struct {
	Role        string
	Personality string
	Specialty   string
	Instruct    func(pc Context, prior []StageResult) string
}

// StageResult is produced exactly once per executed stage.
type StageResult struct {
	Index    int       `json:"index"`
	Role     string    `json:"role"`
	Agent    AgentSpec `json:"agent"`
	Response string    `json:"response"`
	Err      error     `json:"-"`
}

// TextGenerator produces text for a system persona and a user input.
type TextGenerator interface {
	Generate(ctx context.Context, system, input string) (string, error)
}

// RosterGenerator supplies one AgentSpec per stage, in stage order.
type RosterGenerator interface {
	Roster(ctx context.Context, pc Context, stages []Stage) ([]AgentSpec, error)
}

var (
	// ErrEmptyOutput marks a stage that returned only whitespace.
	ErrEmptyOutput = errors.New("stage produced empty output")
	// ErrRosterSize marks a roster whose length does not match the stage count.
	ErrRosterSize = errors.New("roster size does not match stage count")
	ErrNoStages   = errors.New("pipeline has no stages")
)

// GenerationError wraps a failed generation call. Stage is -1 when the roster
// itself could not be generated.
type GenerationError struct {
	Stage int
	Role  string
	Err   error
}

func (e *GenerationError) Error() string {
	if e.Stage < 0 {
		return fmt.Sprintf("generate roster: %v", e.Err)
	}
	return fmt.Sprintf("stage %d (%s): %v", e.Stage, e.Role, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
