// Package pipeline runs plugins registered against record operations. A
// plugin returning an error aborts the operation before it commits.
package pipeline

import (
	"context"
	"sort"
)

type Message string

const (
	Create Message = "Create"
	Update Message = "Update"
	Delete Message = "Delete"
)

// Stage orders plugins around the core operation.
type Stage int

const (
	PreValidation Stage = 10
	PreOperation  Stage = 20
	PostOperation Stage = 40
)

func (s Stage) String() string {
	switch s {
	case PreValidation:
		return "pre-validation"
	case PreOperation:
		return "pre-operation"
	case PostOperation:
		return "post-operation"
	}
	return "unknown"
}

// TargetParameter is the input parameter holding the record an operation
// acts on. Delete events carry a domain.EntityReference; Create and Update
// carry a domain.Entity.
const TargetParameter = "Target"

type Event struct {
	Message           Message
	PrimaryEntityName string
	Stage             Stage
	InputParameters   map[string]any
	InitiatingUserID  string
	CorrelationID     string
}

// Plugin is invoked synchronously for each matching event.
type Plugin interface {
	Execute(ctx context.Context, ev Event) error
}

type PluginFunc func(ctx context.Context, ev Event) error

func (f PluginFunc) Execute(ctx context.Context, ev Event) error { return f(ctx, ev) }

type Step struct {
	Name    string
	Message Message
	Entity  string
	Stage   Stage
	Plugin  Plugin
}

// Pipeline holds registered steps. The zero value is ready to use.
type Pipeline struct {
	steps []Step
}

// Register adds a step; steps of the same stage run in registration order.
func (p *Pipeline) Register(step Step) {
	p.steps = append(p.steps, step)
	sort.SliceStable(p.steps, func(i, j int) bool { return p.steps[i].Stage < p.steps[j].Stage })
}

// Steps returns the registered steps in execution order.
func (p *Pipeline) Steps() []Step {
	if p == nil {
		return nil
	}
	return append([]Step(nil), p.steps...)
}

// Run executes the steps matching the event's message, entity and stage.
// The first failing step stops the run and its error is returned.
func (p *Pipeline) Run(ctx context.Context, ev Event) error {
	if p == nil {
		return nil
	}
	for _, step := range p.steps {
		if step.Message != ev.Message || step.Entity != ev.PrimaryEntityName || step.Stage != ev.Stage {
			continue
		}
		if err := step.Plugin.Execute(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// RunStages runs ev through each stage in turn.
func (p *Pipeline) RunStages(ctx context.Context, ev Event, stages ...Stage) error {
	for _, st := range stages {
		ev.Stage = st
		if err := p.Run(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
