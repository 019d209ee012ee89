package engine

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/errors"
)

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum guest memory in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// PollInterval is how often fc_poll runs while async operations are
	// outstanding. Defaults to 2ms.
	PollInterval time.Duration

	// ModuleName names the guest instance. Defaults to "flagcore-engine".
	ModuleName string
}

// Stats counts engine object lifecycle calls.
type Stats struct {
	Created     uint64
	Released    uint64
	Outstanding int
}

// WazeroEngine runs an evaluation engine compiled to WebAssembly and
// implements flagcore.Boundary on top of it.
//
// Guest calls are serialized. Completions the guest reports through
// fc_complete are delivered after the guest call that produced them
// returns, never while the guest is running.
type WazeroEngine struct {
	runtime wazero.Runtime
	mod     api.Module
	cfg     Config

	alloc, free, create, createHost, release api.Function
	operate, operateAsync, prepare, finalize api.Function
	poll                                     api.Function

	// mu serializes guest calls. completions is only touched by host
	// functions, which run inside a guest call, and by guest().
	mu          sync.Mutex
	completions []completion

	hostMu   sync.RWMutex
	hosts    map[uint32]flagcore.HostFunc
	hostRefs map[flagcore.Ref]uint32
	nextHost uint32

	asyncMu   sync.Mutex
	asyncs    map[uint64]pendingAsync
	nextToken uint64

	pumping atomic.Bool
	closed  atomic.Bool
	closeCh chan struct{}

	created  atomic.Uint64
	released atomic.Uint64
}

var _ flagcore.Boundary = (*WazeroEngine)(nil)

type completion struct {
	err    error
	result []byte
	token  uint64
}

type pendingAsync struct {
	cb    flagcore.Callback
	op    string
	token flagcore.Token
}

// LoadWazeroEngine reads a guest module from path and starts it.
func LoadWazeroEngine(ctx context.Context, path string, cfg *Config) (*WazeroEngine, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read "+path, err)
	}
	return NewWazeroEngine(ctx, wasm, cfg)
}

// NewWazeroEngine compiles and instantiates a guest module.
func NewWazeroEngine(ctx context.Context, wasm []byte, cfg *Config) (*WazeroEngine, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Millisecond
	}
	if c.ModuleName == "" {
		c.ModuleName = "flagcore-engine"
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	e := &WazeroEngine{
		runtime:  rt,
		cfg:      c,
		hosts:    make(map[uint32]flagcore.HostFunc),
		hostRefs: make(map[flagcore.Ref]uint32),
		asyncs:   make(map[uint64]pendingAsync),
		closeCh:  make(chan struct{}),
	}

	if err := e.instantiateHost(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	compiled, err := rt.CompileModule(ctx, wasm)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Load("compile", err)
	}
	if err := validateExports(compiled); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(c.ModuleName))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Load("instantiate", err)
	}
	e.mod = mod
	e.alloc = mod.ExportedFunction(ExportAlloc)
	e.free = mod.ExportedFunction(ExportFree)
	e.create = mod.ExportedFunction(ExportCreate)
	e.createHost = mod.ExportedFunction(ExportCreateHost)
	e.release = mod.ExportedFunction(ExportRelease)
	e.operate = mod.ExportedFunction(ExportOperate)
	e.operateAsync = mod.ExportedFunction(ExportOperateAsync)
	e.prepare = mod.ExportedFunction(ExportPrepareShutdown)
	e.finalize = mod.ExportedFunction(ExportFinalizeShutdown)
	e.poll = mod.ExportedFunction(ExportPoll)

	Logger().Debug("engine instantiated", zap.String("module", c.ModuleName))
	return e, nil
}

func (e *WazeroEngine) instantiateHost(ctx context.Context) error {
	_, err := e.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostComplete), []api.ValueType{i64, i32, i32}, nil).
		Export(ImportComplete).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostCall), []api.ValueType{i32, i32, i32, i32, i32}, []api.ValueType{i64}).
		Export(ImportHostCall).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostLog), []api.ValueType{i32, i32, i32}, nil).
		Export(ImportLog).
		Instantiate(ctx)
	if err != nil {
		return errors.Load("instantiate host module", err)
	}
	return nil
}

func validateExports(compiled wazero.CompiledModule) error {
	if _, ok := compiled.ExportedMemories()[ExportMemory]; !ok {
		return errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Target(ExportMemory).
			Detail("guest does not export its memory").
			Build()
	}
	fns := compiled.ExportedFunctions()
	for name, sig := range exportSignatures {
		def, ok := fns[name]
		if !ok {
			return errors.New(errors.PhaseLoad, errors.KindInvalidData).
				Target(name).
				Detail("missing guest export").
				Build()
		}
		if !slices.Equal(def.ParamTypes(), sig.params) || !slices.Equal(def.ResultTypes(), sig.results) {
			return errors.New(errors.PhaseLoad, errors.KindInvalidData).
				Target(name).
				Detail("signature mismatch: got %s", signature(def)).
				Build()
		}
	}
	return nil
}

func signature(def api.FunctionDefinition) string {
	names := func(ts []api.ValueType) []string {
		out := make([]string, len(ts))
		for i, t := range ts {
			out[i] = api.ValueTypeName(t)
		}
		return out
	}
	return fmt.Sprintf("%v -> %v", names(def.ParamTypes()), names(def.ResultTypes()))
}

// Stats returns lifecycle counters.
func (e *WazeroEngine) Stats() Stats {
	return Stats{
		Created:     e.created.Load(),
		Released:    e.released.Load(),
		Outstanding: e.outstanding(),
	}
}

// Close fails outstanding async operations and tears the runtime down.
func (e *WazeroEngine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Outstanding operations are failed before the pump is woken so it
	// finds nothing left to poll.
	e.failOutstanding(func(op string) error { return errors.Shutdown(op) })
	close(e.closeCh)

	e.mu.Lock()
	err := e.runtime.Close(ctx)
	e.mu.Unlock()
	return err
}

// failOutstanding completes every registered async operation with the
// error built for it.
func (e *WazeroEngine) failOutstanding(errFor func(op string) error) int {
	e.asyncMu.Lock()
	pending := e.asyncs
	e.asyncs = make(map[uint64]pendingAsync)
	e.asyncMu.Unlock()
	for _, p := range pending {
		p.cb(p.token, nil, errFor(p.op))
	}
	return len(pending)
}

// guest runs fn with exclusive access to the guest, then delivers the
// completions it produced.
func (e *WazeroEngine) guest(op string, fn func(ctx context.Context) error) error {
	if e.closed.Load() {
		return errors.Shutdown(op)
	}
	ctx := context.Background()

	e.mu.Lock()
	err := fn(ctx)
	done := e.completions
	e.completions = nil
	e.mu.Unlock()

	e.dispatch(done)
	return err
}

func (e *WazeroEngine) dispatch(done []completion) {
	for _, c := range done {
		e.asyncMu.Lock()
		p, ok := e.asyncs[c.token]
		delete(e.asyncs, c.token)
		e.asyncMu.Unlock()
		if !ok {
			Logger().Warn("completion for unknown token", zap.Uint64("token", c.token))
			continue
		}
		err := c.err
		if err != nil {
			err = errors.AsyncCall(p.op, err)
		}
		p.cb(p.token, c.result, err)
	}
}

// write copies data into guest memory. The returned buffer must be freed.
func (e *WazeroEngine) write(ctx context.Context, data []byte) (ptr, size uint32, err error) {
	if len(data) == 0 {
		return 0, 0, nil
	}
	res, err := e.alloc.Call(ctx, api.EncodeU32(uint32(len(data))))
	if err != nil {
		return 0, 0, err
	}
	ptr = api.DecodeU32(res[0])
	if !e.mod.Memory().Write(ptr, data) {
		return 0, 0, errors.New(errors.PhaseCall, errors.KindInvalidData).
			Detail("guest allocation %d+%d out of range", ptr, len(data)).
			Build()
	}
	return ptr, uint32(len(data)), nil
}

func (e *WazeroEngine) freeBuf(ctx context.Context, ptr, size uint32) {
	if size == 0 {
		return
	}
	if _, err := e.free.Call(ctx, api.EncodeU32(ptr), api.EncodeU32(size)); err != nil {
		Logger().Warn("guest free failed", zap.Error(err))
	}
}

// withArgs writes op and args into guest memory for the duration of fn.
func (e *WazeroEngine) withArgs(ctx context.Context, op string, args []byte, fn func(opPtr, opLen, argPtr, argLen uint32) error) error {
	opPtr, opLen, err := e.write(ctx, []byte(op))
	if err != nil {
		return err
	}
	defer e.freeBuf(ctx, opPtr, opLen)

	argPtr, argLen, err := e.write(ctx, args)
	if err != nil {
		return err
	}
	defer e.freeBuf(ctx, argPtr, argLen)

	return fn(opPtr, opLen, argPtr, argLen)
}

// readResult takes ownership of a guest result buffer.
func (e *WazeroEngine) readResult(ctx context.Context, packed uint64) ([]byte, error) {
	ptr, size := unpackPtrLen(packed)
	if size == 0 {
		return nil, nil
	}
	view, ok := e.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Detail("guest result %d+%d out of range", ptr, size).
			Build()
	}
	buf := slices.Clone(view)
	e.freeBuf(ctx, ptr, size)
	return decodeEnvelope(buf)
}

// Create implements flagcore.Boundary.
func (e *WazeroEngine) Create(kind flagcore.Kind, config []byte) (flagcore.Ref, error) {
	var raw uint64
	err := e.guest("create", func(ctx context.Context) error {
		ptr, size, err := e.write(ctx, config)
		if err != nil {
			return err
		}
		defer e.freeBuf(ctx, ptr, size)
		res, err := e.create.Call(ctx, api.EncodeU32(uint32(kind)), api.EncodeU32(ptr), api.EncodeU32(size))
		if err != nil {
			return err
		}
		raw = res[0]
		return nil
	})
	if err != nil {
		return 0, errors.NativeAllocation(kind.String(), err)
	}
	return e.accept(kind, flagcore.Ref(raw))
}

// CreateHost implements flagcore.Boundary.
func (e *WazeroEngine) CreateHost(kind flagcore.Kind, fn flagcore.HostFunc) (flagcore.Ref, error) {
	e.hostMu.Lock()
	e.nextHost++
	id := e.nextHost
	e.hosts[id] = fn
	e.hostMu.Unlock()

	var raw uint64
	err := e.guest("create_host", func(ctx context.Context) error {
		res, err := e.createHost.Call(ctx, api.EncodeU32(uint32(kind)), api.EncodeU32(id))
		if err != nil {
			return err
		}
		raw = res[0]
		return nil
	})
	if err != nil {
		e.dropHost(id)
		return 0, errors.NativeAllocation(kind.String(), err)
	}
	ref, err := e.accept(kind, flagcore.Ref(raw))
	if err != nil {
		e.dropHost(id)
		return 0, err
	}

	e.hostMu.Lock()
	e.hostRefs[ref] = id
	e.hostMu.Unlock()
	return ref, nil
}

func (e *WazeroEngine) dropHost(id uint32) {
	e.hostMu.Lock()
	delete(e.hosts, id)
	e.hostMu.Unlock()
}

// accept checks a reference returned by the guest.
func (e *WazeroEngine) accept(kind flagcore.Kind, ref flagcore.Ref) (flagcore.Ref, error) {
	if ref == 0 {
		return 0, errors.New(errors.PhaseCreate, errors.KindNativeAllocation).
			Target(kind.String()).
			Detail("guest returned no reference").
			Build()
	}
	if ref.Kind() != kind {
		e.releaseRef(ref)
		return 0, errors.New(errors.PhaseCreate, errors.KindInvalidData).
			Target(kind.String()).
			Ref(uint64(ref)).
			Detail("guest returned a %s reference", ref.Kind()).
			Build()
	}
	e.created.Add(1)
	return ref, nil
}

// Release implements flagcore.Boundary.
func (e *WazeroEngine) Release(kind flagcore.Kind, ref flagcore.Ref) {
	if ref.Kind() != kind {
		Logger().Error("release with mismatched kind",
			zap.Stringer("kind", kind),
			zap.Stringer("ref", ref))
		return
	}
	e.releaseRef(ref)
	e.released.Add(1)

	e.hostMu.Lock()
	if id, ok := e.hostRefs[ref]; ok {
		delete(e.hostRefs, ref)
		delete(e.hosts, id)
	}
	e.hostMu.Unlock()
}

func (e *WazeroEngine) releaseRef(ref flagcore.Ref) {
	err := e.guest("release", func(ctx context.Context) error {
		_, err := e.release.Call(ctx, uint64(ref))
		return err
	})
	if err != nil {
		Logger().Warn("guest release failed", zap.Stringer("ref", ref), zap.Error(err))
	}
}

// Operate implements flagcore.Boundary.
func (e *WazeroEngine) Operate(ref flagcore.Ref, op string, args []byte) ([]byte, error) {
	if !ref.Valid() {
		return nil, errors.NotFound(errors.PhaseCall, "reference", ref.String())
	}
	var out []byte
	err := e.guest(op, func(ctx context.Context) error {
		return e.withArgs(ctx, op, args, func(opPtr, opLen, argPtr, argLen uint32) error {
			res, err := e.operate.Call(ctx, uint64(ref),
				api.EncodeU32(opPtr), api.EncodeU32(opLen),
				api.EncodeU32(argPtr), api.EncodeU32(argLen))
			if err != nil {
				return err
			}
			out, err = e.readResult(ctx, res[0])
			return err
		})
	})
	if err != nil {
		if errors.KindOf(err) == errors.KindShutdown {
			return nil, err
		}
		return nil, errors.New(errors.PhaseCall, errors.KindNativeCall).
			Op(op).
			Ref(uint64(ref)).
			Cause(err).
			Build()
	}
	return out, nil
}

// OperateAsync implements flagcore.Boundary.
func (e *WazeroEngine) OperateAsync(ref flagcore.Ref, op string, args []byte, token flagcore.Token, cb flagcore.Callback) {
	gt := e.register(op, token, cb)
	err := e.guest(op, func(ctx context.Context) error {
		return e.withArgs(ctx, op, args, func(opPtr, opLen, argPtr, argLen uint32) error {
			_, err := e.operateAsync.Call(ctx, uint64(ref),
				api.EncodeU32(opPtr), api.EncodeU32(opLen),
				api.EncodeU32(argPtr), api.EncodeU32(argLen),
				gt)
			return err
		})
	})
	e.settle(gt, op, err)
}

// PrepareShutdown implements flagcore.Boundary.
func (e *WazeroEngine) PrepareShutdown(ref flagcore.Ref, token flagcore.Token, cb flagcore.Callback) {
	const op = "prepare_shutdown"
	gt := e.register(op, token, cb)
	err := e.guest(op, func(ctx context.Context) error {
		_, err := e.prepare.Call(ctx, uint64(ref), gt)
		return err
	})
	e.settle(gt, op, err)
}

// FinalizeShutdown implements flagcore.Boundary.
func (e *WazeroEngine) FinalizeShutdown(ref flagcore.Ref) {
	err := e.guest("finalize_shutdown", func(ctx context.Context) error {
		_, err := e.finalize.Call(ctx, uint64(ref))
		return err
	})
	if err != nil {
		Logger().Warn("guest finalize failed", zap.Stringer("ref", ref), zap.Error(err))
	}
}

func (e *WazeroEngine) register(op string, token flagcore.Token, cb flagcore.Callback) uint64 {
	e.asyncMu.Lock()
	defer e.asyncMu.Unlock()
	e.nextToken++
	e.asyncs[e.nextToken] = pendingAsync{cb: cb, op: op, token: token}
	return e.nextToken
}

// settle fails the operation if issuing it failed, otherwise makes sure
// the guest is polled until it completes.
func (e *WazeroEngine) settle(gt uint64, op string, err error) {
	if err == nil {
		e.ensurePump()
		return
	}
	e.asyncMu.Lock()
	p, ok := e.asyncs[gt]
	delete(e.asyncs, gt)
	e.asyncMu.Unlock()
	if !ok {
		// The guest completed before failing; the callback already ran.
		return
	}
	if errors.KindOf(err) != errors.KindShutdown {
		err = errors.AsyncCall(op, err)
	}
	p.cb(p.token, nil, err)
}

func (e *WazeroEngine) outstanding() int {
	e.asyncMu.Lock()
	defer e.asyncMu.Unlock()
	return len(e.asyncs)
}

func (e *WazeroEngine) ensurePump() {
	if e.outstanding() == 0 || !e.pumping.CompareAndSwap(false, true) {
		return
	}
	go e.pump()
}

// pump polls the guest while operations are outstanding. A failing poll
// fails every outstanding operation, since none of them can complete.
func (e *WazeroEngine) pump() {
	for {
		if err := e.pollUntilIdle(); err != nil {
			n := e.failOutstanding(func(op string) error {
				if errors.KindOf(err) == errors.KindShutdown {
					return errors.Shutdown(op)
				}
				return errors.AsyncCall(op, err)
			})
			Logger().Warn("guest poll failed, outstanding operations failed",
				zap.Int("count", n), zap.Error(err))
		}
		e.pumping.Store(false)
		if e.closed.Load() || e.outstanding() == 0 || !e.pumping.CompareAndSwap(false, true) {
			return
		}
	}
}

func (e *WazeroEngine) pollUntilIdle() error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for e.outstanding() > 0 && !e.closed.Load() {
		select {
		case <-e.closeCh:
			return nil
		case <-ticker.C:
		}
		if e.poll == nil {
			continue
		}
		err := e.guest("poll", func(ctx context.Context) error {
			_, err := e.poll.Call(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// hostComplete is fc_complete(token i64, ptr i32, len i32).
func (e *WazeroEngine) hostComplete(_ context.Context, mod api.Module, stack []uint64) {
	token := stack[0]
	ptr, size := api.DecodeU32(stack[1]), api.DecodeU32(stack[2])

	var c completion
	c.token = token
	if size > 0 {
		view, ok := mod.Memory().Read(ptr, size)
		if !ok {
			c.err = guestError("completion buffer out of range")
		} else {
			c.result, c.err = decodeEnvelope(slices.Clone(view))
		}
	}
	e.completions = append(e.completions, c)
}

// hostCall is fc_host_call(host i32, method_ptr, method_len, args_ptr,
// args_len i32) -> i64. The result envelope is allocated in guest memory
// and owned by the guest.
func (e *WazeroEngine) hostCall(ctx context.Context, mod api.Module, stack []uint64) {
	id := api.DecodeU32(stack[0])
	method, _ := readString(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	args, _ := mod.Memory().Read(api.DecodeU32(stack[3]), api.DecodeU32(stack[4]))
	args = slices.Clone(args)

	e.hostMu.RLock()
	fn := e.hosts[id]
	e.hostMu.RUnlock()

	var out []byte
	var err error
	if fn == nil {
		err = errors.NotFound(errors.PhaseHost, "host adapter", fmt.Sprint(id))
	} else {
		out, err = callHost(fn, method, args)
	}
	if err != nil {
		Logger().Debug("host call failed", zap.String("method", method), zap.Error(err))
	}

	env := encodeEnvelope(out, err)
	if len(env) == 0 {
		stack[0] = 0
		return
	}
	ptr, size, werr := e.write(ctx, env)
	if werr != nil {
		Logger().Warn("host call result not written", zap.Error(werr))
		stack[0] = 0
		return
	}
	stack[0] = packPtrLen(ptr, size)
}

func callHost(fn flagcore.HostFunc, method string, args []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Panic(errors.PhaseHost, r)
		}
	}()
	return fn(method, args)
}

// hostLog is fc_log(level i32, ptr i32, len i32).
func (e *WazeroEngine) hostLog(_ context.Context, mod api.Module, stack []uint64) {
	msg, ok := readString(mod, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	if !ok {
		return
	}
	l := Logger().With(zap.String("source", "guest"))
	switch api.DecodeU32(stack[0]) {
	case levelDebug:
		l.Debug(msg)
	case levelWarn:
		l.Warn(msg)
	case levelError:
		l.Error(msg)
	default:
		l.Info(msg)
	}
}

func readString(mod api.Module, ptr, size uint32) (string, bool) {
	if size == 0 {
		return "", true
	}
	b, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return "", false
	}
	return string(b), true
}
