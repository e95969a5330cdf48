package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"dealguard/internal/domain"
	"dealguard/internal/pipeline"
	"dealguard/internal/validation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubValidator struct {
	result validation.Result
	err    error
	calls  []string
}

func (s *stubValidator) Validate(_ context.Context, id string) (validation.Result, error) {
	s.calls = append(s.calls, id)
	return s.result, s.err
}

type outcome struct {
	outcome pipeline.Outcome
	class   string
}

type recorder struct {
	seen []outcome
}

func (r *recorder) ObserveGuard(_ string, o pipeline.Outcome, class string, _ time.Duration) {
	r.seen = append(r.seen, outcome{o, class})
}

type panickyTracer struct{}

func (panickyTracer) Trace(string, ...any) { panic("sink unavailable") }

const infraMsg = "The deletion could not be validated right now. Try again later."

func deleteEvent(target any) pipeline.Event {
	return pipeline.Event{
		Message:           pipeline.Delete,
		PrimaryEntityName: domain.EntityOpportunity,
		Stage:             pipeline.PreValidation,
		InputParameters:   map[string]any{pipeline.TargetParameter: target},
		InitiatingUserID:  "u-1",
		CorrelationID:     "corr-1",
	}
}

func ref(id string) domain.EntityReference {
	return domain.EntityReference{LogicalName: domain.EntityOpportunity, ID: id}
}

func newGuard(v pipeline.Validator, rec pipeline.Recorder) pipeline.Guard {
	g := pipeline.NewGuard(domain.EntityOpportunity, v, infraMsg)
	if rec != nil {
		g.Recorder = rec
	}
	return g
}

func TestGuardIgnoresNonDelete(t *testing.T) {
	v := &stubValidator{result: validation.Result{Allowed: false, Reason: "quote", Class: validation.HasDependentChildren}}
	g := newGuard(v, nil)
	for _, msg := range []pipeline.Message{pipeline.Create, pipeline.Update} {
		ev := deleteEvent(domain.Entity{LogicalName: domain.EntityOpportunity, ID: uuid.NewString()})
		ev.Message = msg
		assert.NoError(t, g.Execute(context.Background(), ev))
	}
	assert.Empty(t, v.calls)
}

func TestGuardSkipsMissingOrMalformedTarget(t *testing.T) {
	v := &stubValidator{result: validation.Result{Allowed: false, Reason: "no"}}
	rec := &recorder{}
	g := newGuard(v, rec)
	var nilRef *domain.EntityReference
	cases := map[string]pipeline.Event{
		"missing":      {Message: pipeline.Delete, PrimaryEntityName: domain.EntityOpportunity, InputParameters: map[string]any{}},
		"nil params":   {Message: pipeline.Delete, PrimaryEntityName: domain.EntityOpportunity},
		"nil value":    deleteEvent(nil),
		"nil pointer":  deleteEvent(nilRef),
		"wrong type":   deleteEvent("8b7e0b8e-0000-0000-0000-000000000000"),
		"empty id":     deleteEvent(ref("")),
		"not a uuid":   deleteEvent(ref("O1")),
		"other entity": deleteEvent(domain.EntityReference{LogicalName: domain.EntityAccount, ID: uuid.NewString()}),
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, g.Execute(context.Background(), ev))
		})
	}
	assert.Empty(t, v.calls)
	for _, o := range rec.seen {
		assert.Equal(t, pipeline.Skipped, o.outcome)
	}
}

func TestGuardRejectsFullRecordTarget(t *testing.T) {
	v := &stubValidator{result: validation.Result{Allowed: true}}
	g := newGuard(v, nil)
	id := uuid.NewString()
	for _, target := range []any{
		domain.Entity{LogicalName: domain.EntityOpportunity, ID: id},
		&domain.Entity{LogicalName: domain.EntityOpportunity, ID: id},
	} {
		err := g.Execute(context.Background(), deleteEvent(target))
		var abort *pipeline.AbortError
		require.ErrorAs(t, err, &abort)
		assert.Equal(t, "TypeMismatch", abort.Class)
		assert.False(t, abort.Infrastructure())
	}
	assert.Empty(t, v.calls)
}

func TestGuardPermits(t *testing.T) {
	v := &stubValidator{result: validation.Result{Allowed: true}}
	rec := &recorder{}
	id := uuid.NewString()
	require.NoError(t, newGuard(v, rec).Execute(context.Background(), deleteEvent(ref(id))))
	assert.Equal(t, []string{id}, v.calls)
	assert.Equal(t, []outcome{{pipeline.Permitted, ""}}, rec.seen)
}

func TestGuardAcceptsReferencePointer(t *testing.T) {
	v := &stubValidator{result: validation.Result{Allowed: true}}
	r := ref(uuid.NewString())
	require.NoError(t, newGuard(v, nil).Execute(context.Background(), deleteEvent(&r)))
	assert.Equal(t, []string{r.ID}, v.calls)
}

func TestGuardBlocksWithReason(t *testing.T) {
	v := &stubValidator{result: validation.Result{
		Allowed: false,
		Reason:  "Cannot delete an opportunity with status Won.",
		Class:   validation.InvalidStateForDeletion,
	}}
	rec := &recorder{}
	err := newGuard(v, rec).Execute(context.Background(), deleteEvent(ref(uuid.NewString())))
	var abort *pipeline.AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, "Cannot delete an opportunity with status Won.", abort.Error())
	assert.Equal(t, string(validation.InvalidStateForDeletion), abort.Class)
	assert.False(t, abort.Infrastructure())
	assert.Equal(t, []outcome{{pipeline.Blocked, string(validation.InvalidStateForDeletion)}}, rec.seen)
}

func TestGuardFailsClosedOnInfrastructureError(t *testing.T) {
	cause := &validation.InfrastructureError{Rule: "quote_dependency", Err: errors.New("timeout")}
	v := &stubValidator{err: cause}
	rec := &recorder{}
	err := newGuard(v, rec).Execute(context.Background(), deleteEvent(ref(uuid.NewString())))
	var abort *pipeline.AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, infraMsg, abort.Message)
	assert.True(t, abort.Infrastructure())
	var infra *validation.InfrastructureError
	assert.ErrorAs(t, err, &infra)
	assert.Equal(t, []outcome{{pipeline.Failed, ""}}, rec.seen)
}

func TestGuardTracerPanicDoesNotChangeOutcome(t *testing.T) {
	blocked := &stubValidator{result: validation.Result{Allowed: false, Reason: "quote", Class: validation.HasDependentChildren}}
	g := newGuard(blocked, nil)
	g.Tracer = panickyTracer{}
	var abort *pipeline.AbortError
	assert.ErrorAs(t, g.Execute(context.Background(), deleteEvent(ref(uuid.NewString()))), &abort)

	allowed := &stubValidator{result: validation.Result{Allowed: true}}
	g = newGuard(allowed, nil)
	g.Tracer = panickyTracer{}
	assert.NoError(t, g.Execute(context.Background(), deleteEvent(ref(uuid.NewString()))))

	g.Tracer = nil
	g.Recorder = nil
	assert.NoError(t, g.Execute(context.Background(), deleteEvent(ref(uuid.NewString()))))
}

func TestZapTracerWritesDebug(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	g := newGuard(&stubValidator{result: validation.Result{Allowed: true}}, nil)
	g.Tracer = pipeline.ZapTracer{Logger: zap.New(core)}
	require.NoError(t, g.Execute(context.Background(), deleteEvent(ref(uuid.NewString()))))
	require.NotZero(t, logs.Len())
	assert.Equal(t, "guard", logs.All()[0].ContextMap()["component"])
}

func TestZapTracerWarnsOnFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	g := newGuard(&stubValidator{err: &validation.InfrastructureError{Rule: "quote_dependency", Err: errors.New("connection refused")}}, nil)
	g.Tracer = pipeline.ZapTracer{Logger: zap.New(core)}
	var abort *pipeline.AbortError
	require.ErrorAs(t, g.Execute(context.Background(), deleteEvent(ref(uuid.NewString()))), &abort)

	warned := logs.FilterLevelExact(zap.WarnLevel).All()
	require.Len(t, warned, 1)
	assert.Contains(t, warned[0].Message, "connection refused")

	logs.TakeAll()
	g.Validator = &stubValidator{result: validation.Result{Allowed: true}}
	require.ErrorAs(t, g.Execute(context.Background(), deleteEvent(domain.Entity{LogicalName: domain.EntityOpportunity, ID: uuid.NewString()})), &abort)
	require.Equal(t, 1, logs.FilterLevelExact(zap.WarnLevel).Len())
}

func TestPanickyWarnDoesNotChangeOutcome(t *testing.T) {
	g := newGuard(&stubValidator{err: errors.New("down")}, nil)
	g.Tracer = panickyTracer{}
	var abort *pipeline.AbortError
	require.ErrorAs(t, g.Execute(context.Background(), deleteEvent(ref(uuid.NewString()))), &abort)
	assert.Equal(t, infraMsg, abort.Message)
}
