package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dealguard/internal/domain"
	"dealguard/internal/validation"
)

// Validator decides whether the record with id may be deleted.
type Validator interface {
	Validate(ctx context.Context, id string) (validation.Result, error)
}

// Outcome is the terminal state of one guard invocation.
type Outcome string

const (
	Permitted Outcome = "permitted"
	Blocked   Outcome = "blocked"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
)

// Recorder observes guard outcomes.
type Recorder interface {
	ObserveGuard(entity string, outcome Outcome, class string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveGuard(string, Outcome, string, time.Duration) {}

// Guard blocks deletion of Entity records the validator denies.
type Guard struct {
	Entity                string
	Validator             Validator
	InfrastructureMessage string
	Tracer                Tracer
	Recorder              Recorder
}

// NewGuard returns a guard with no-op tracing and metrics.
func NewGuard(entity string, v Validator, infraMessage string) Guard {
	return Guard{
		Entity:                entity,
		Validator:             v,
		InfrastructureMessage: infraMessage,
		Tracer:                NopTracer{},
		Recorder:              nopRecorder{},
	}
}

// Step registers the guard for pre-validation of deletes on its entity.
func (g Guard) Step() Step {
	return Step{
		Name:    "deletion-guard",
		Message: Delete,
		Entity:  g.Entity,
		Stage:   PreValidation,
		Plugin:  g,
	}
}

func (g Guard) Execute(ctx context.Context, ev Event) error {
	if ev.Message != Delete {
		return nil
	}
	start := time.Now()
	ref, err := g.target(ev)
	if err != nil {
		var mismatch *TypeMismatchError
		if errors.As(err, &mismatch) {
			g.warn("rejected %s: %v", ev.CorrelationID, err)
			g.observe(Blocked, "TypeMismatch", start)
			return &AbortError{Message: fmt.Sprintf("Cannot delete %s: %v", g.Entity, err), Class: "TypeMismatch"}
		}
		g.trace("skipped %s: %v", ev.CorrelationID, err)
		g.observe(Skipped, "", start)
		return nil
	}
	g.trace("validating %s %s for %s", ref.LogicalName, ref.ID, ev.InitiatingUserID)
	res, err := g.Validator.Validate(ctx, ref.ID)
	if err != nil {
		g.warn("validation of %s failed: %v", ref.ID, err)
		g.observe(Failed, "", start)
		return &AbortError{Message: g.InfrastructureMessage, Class: "InfrastructureError", Err: err}
	}
	if !res.Allowed {
		g.trace("blocked %s: %s", ref.ID, res.Class)
		g.observe(Blocked, string(res.Class), start)
		return &AbortError{Message: res.Reason, Class: string(res.Class)}
	}
	g.trace("permitted %s", ref.ID)
	g.observe(Permitted, "", start)
	return nil
}

// target extracts the reference being deleted. Anything that is not a usable
// reference to the guard's entity is reported as MalformedEventError, except
// a full record, which is a *TypeMismatchError.
func (g Guard) target(ev Event) (domain.EntityReference, error) {
	raw, ok := ev.InputParameters[TargetParameter]
	if !ok || raw == nil {
		return domain.EntityReference{}, MalformedEventError{Reason: "missing target"}
	}
	var ref domain.EntityReference
	switch v := raw.(type) {
	case domain.EntityReference:
		ref = v
	case *domain.EntityReference:
		if v == nil {
			return ref, MalformedEventError{Reason: "nil target"}
		}
		ref = *v
	case domain.Entity, *domain.Entity:
		return ref, &TypeMismatchError{Parameter: TargetParameter, Want: "entity reference", Got: "entity record"}
	default:
		return ref, MalformedEventError{Reason: fmt.Sprintf("unexpected target type %T", raw)}
	}
	if ref.ID == "" {
		return ref, MalformedEventError{Reason: "empty target id"}
	}
	if _, err := uuid.Parse(ref.ID); err != nil {
		return ref, MalformedEventError{Reason: "target id is not a uuid"}
	}
	if ref.LogicalName != g.Entity {
		return ref, MalformedEventError{Reason: fmt.Sprintf("target is %q, guard handles %q", ref.LogicalName, g.Entity)}
	}
	return ref, nil
}

func (g Guard) trace(format string, args ...any) {
	safeTrace(g.Tracer, format, args...)
}

func (g Guard) warn(format string, args ...any) {
	safeWarn(g.Tracer, format, args...)
}

func (g Guard) observe(outcome Outcome, class string, start time.Time) {
	if g.Recorder == nil {
		return
	}
	g.Recorder.ObserveGuard(g.Entity, outcome, class, time.Since(start))
}
