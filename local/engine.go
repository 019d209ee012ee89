package local

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/errors"
	"github.com/wippyai/flagcore/model"
)

// Config configures an Engine.
type Config struct {
	// Specs is served to clients whose options carry no specs and whose data
	// store has none.
	Specs *model.SpecsDocument

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// MaxAsync bounds concurrently running async operations. Defaults to 8.
	MaxAsync int
}

// Stats counts engine object lifecycle calls.
type Stats struct {
	Created  uint64
	Released uint64
	Live     int
}

// Engine is an in-process evaluation engine. It implements flagcore.Boundary.
type Engine struct {
	objects *table
	cfg     Config
	sem     *semaphore.Weighted

	created  atomic.Uint64
	released atomic.Uint64
}

var _ flagcore.Boundary = (*Engine)(nil)

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxAsync <= 0 {
		cfg.MaxAsync = 8
	}
	return &Engine{
		objects: newTable(),
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxAsync)),
	}
}

// Stats returns lifecycle counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Created:  e.created.Load(),
		Released: e.released.Load(),
		Live:     e.objects.len(),
	}
}

// Create implements flagcore.Boundary.
func (e *Engine) Create(kind flagcore.Kind, config []byte) (flagcore.Ref, error) {
	var value any
	switch kind {
	case flagcore.KindUser:
		var u model.UserData
		if err := decodeConfig(config, &u); err != nil {
			return 0, err
		}
		value = &u

	case flagcore.KindOptions:
		opts, err := e.newOptions(config)
		if err != nil {
			return 0, err
		}
		value = opts

	case flagcore.KindClient:
		inst, err := e.newInstance(config)
		if err != nil {
			return 0, err
		}
		value = inst

	default:
		return 0, errors.New(errors.PhaseCreate, errors.KindInvalidInput).
			Target(kind.String()).
			Detail("kind cannot be created from configuration").
			Build()
	}

	ref, err := e.objects.create(kind, value)
	if err != nil {
		return 0, err
	}
	e.created.Add(1)
	return ref, nil
}

// CreateHost implements flagcore.Boundary.
func (e *Engine) CreateHost(kind flagcore.Kind, fn flagcore.HostFunc) (flagcore.Ref, error) {
	if !hostKind(kind) {
		return 0, errors.New(errors.PhaseCreate, errors.KindInvalidInput).
			Target(kind.String()).
			Detail("not a host adapter kind").
			Build()
	}
	if fn == nil {
		return 0, errors.InvalidInput(errors.PhaseCreate, "nil host function")
	}
	ref, err := e.objects.create(kind, &hostObject{fn: fn, kind: kind})
	if err != nil {
		return 0, err
	}
	e.created.Add(1)
	return ref, nil
}

// Release implements flagcore.Boundary.
func (e *Engine) Release(kind flagcore.Kind, ref flagcore.Ref) {
	if ref.Kind() != kind {
		Logger().Warn("release with mismatched kind",
			zap.Stringer("kind", kind),
			zap.Stringer("ref", ref))
		return
	}
	v, ok := e.objects.drop(ref)
	if !ok {
		Logger().Warn("release of unknown reference", zap.Stringer("ref", ref))
		return
	}
	e.released.Add(1)
	if inst, ok := v.(*instance); ok {
		inst.close()
	}
}

// Operate implements flagcore.Boundary.
func (e *Engine) Operate(ref flagcore.Ref, op string, args []byte) ([]byte, error) {
	inst, err := lookup[*instance](e.objects, ref, flagcore.KindClient)
	if err != nil {
		return nil, err
	}
	return inst.operate(op, args)
}

// OperateAsync implements flagcore.Boundary.
func (e *Engine) OperateAsync(ref flagcore.Ref, op string, args []byte, token flagcore.Token, cb flagcore.Callback) {
	inst, err := lookup[*instance](e.objects, ref, flagcore.KindClient)
	if err != nil {
		cb(token, nil, err)
		return
	}
	inst.operateAsync(op, args, token, cb)
}

// PrepareShutdown implements flagcore.Boundary.
func (e *Engine) PrepareShutdown(ref flagcore.Ref, token flagcore.Token, cb flagcore.Callback) {
	inst, err := lookup[*instance](e.objects, ref, flagcore.KindClient)
	if err != nil {
		cb(token, nil, err)
		return
	}
	inst.prepareShutdown(token, cb)
}

// FinalizeShutdown implements flagcore.Boundary.
func (e *Engine) FinalizeShutdown(ref flagcore.Ref) {
	inst, err := lookup[*instance](e.objects, ref, flagcore.KindClient)
	if err != nil {
		Logger().Warn("finalize of unknown client", zap.Stringer("ref", ref), zap.Error(err))
		return
	}
	inst.finalize()
}

// Close drops every object still alive. References released afterwards are
// reported as unknown.
func (e *Engine) Close() {
	for _, v := range e.objects.close() {
		if inst, ok := v.(*instance); ok {
			inst.close()
		}
	}
}

// spawn runs fn on its own goroutine once a slot is free.
func (e *Engine) spawn(fn func()) {
	go func() {
		// Acquire only fails on a done context.
		_ = e.sem.Acquire(context.Background(), 1)
		defer e.sem.Release(1)
		fn()
	}()
}

func (e *Engine) user(ref uint64) (*model.UserData, error) {
	return lookup[*model.UserData](e.objects, flagcore.Ref(ref), flagcore.KindUser)
}

func decodeConfig(config []byte, v any) error {
	if len(config) == 0 {
		return nil
	}
	if err := json.Unmarshal(config, v); err != nil {
		return errors.Wrap(errors.PhaseCreate, errors.KindInvalidInput, err, "decode configuration")
	}
	return nil
}
