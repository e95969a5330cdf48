package engine

import (
	"database/sql"
	"errors"
	"time"

	"dealguard/internal/config"
	"dealguard/internal/db"
	"dealguard/internal/events"
	"dealguard/internal/pipeline"
	"dealguard/internal/repo"
	"dealguard/internal/validation"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Pipeline  *pipeline.Pipeline
	Validator validation.Service
	Now       func() time.Time
}

// Options customise how the deletion guard is wired.
type Options struct {
	// Store replaces the local repository as the guard's record store.
	Store validation.RecordStore
	// StoreWrapper decorates the record store, e.g. with metrics.
	StoreWrapper func(validation.RecordStore) validation.RecordStore
	Tracer       pipeline.Tracer
	Recorder     pipeline.Recorder
}

// New builds an engine over conn and registers the deletion guard for the
// configured entity.
func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config, opts Options) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("config not loaded")
	}
	r := repo.Repo{DB: conn, Dialect: dialect}
	var store validation.RecordStore = r
	if opts.Store != nil {
		store = opts.Store
	}
	if opts.StoreWrapper != nil {
		store = opts.StoreWrapper(store)
	}
	svc, err := validation.FromConfig(cfg.Rules, store)
	if err != nil {
		return Engine{}, err
	}
	guard := pipeline.NewGuard(cfg.Rules.Entity, svc, cfg.Rules.InfrastructureMessage)
	if opts.Tracer != nil {
		guard.Tracer = opts.Tracer
	}
	if opts.Recorder != nil {
		guard.Recorder = opts.Recorder
	}
	p := &pipeline.Pipeline{}
	p.Register(guard.Step())
	return Engine{
		DB:        conn,
		Repo:      r,
		Events:    events.Writer{DB: conn, Dialect: dialect},
		Config:    cfg,
		Pipeline:  p,
		Validator: svc,
		Now:       time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) writer() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

var preStages = []pipeline.Stage{pipeline.PreValidation, pipeline.PreOperation}
