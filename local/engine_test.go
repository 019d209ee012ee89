package local

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/flagcore"
	fcerrors "github.com/wippyai/flagcore/errors"
	"github.com/wippyai/flagcore/model"
)

func testSpecs() *model.SpecsDocument {
	return &model.SpecsDocument{
		Gates: map[string]model.GateSpec{
			"on_gate":  {Value: true, RuleID: "rule_on"},
			"off_gate": {Value: false, RuleID: "rule_off"},
		},
		Configs: map[string]model.ConfigSpec{
			"colors": {Value: model.Values{"primary": "blue"}, RuleID: "cfg"},
			"checkout": {
				Value:        model.Values{"variant": "b"},
				Groups:       map[string]model.Values{"Control": {"variant": "a"}},
				RuleID:       "exp",
				GroupName:    "Test",
				IsExperiment: true,
				Sticky:       true,
			},
		},
		Layers: map[string]model.LayerSpec{
			"ui": {Value: model.Values{"size": 12.0}, RuleID: "layer_rule", AllocatedExperiment: "checkout"},
		},
		ParamStores: map[string]model.ParamStoreSpec{
			"web": {Parameters: map[string]model.ParameterSpec{
				"title":   {RefType: model.ParamStatic, ParamType: "string", Value: "Welcome"},
				"banner":  {RefType: model.ParamGate, GateName: "on_gate", PassValue: "shown", FailValue: "hidden"},
				"legacy":  {RefType: model.ParamGate, GateName: "off_gate", PassValue: true, FailValue: false},
				"primary": {RefType: model.ParamConfig, ConfigName: "colors", ParamName: "primary"},
				"variant": {RefType: model.ParamExperiment, ExperimentName: "checkout", ParamName: "variant"},
				"size":    {RefType: model.ParamLayer, LayerName: "ui", ParamName: "size"},
				"absent":  {RefType: model.ParamConfig, ConfigName: "colors", ParamName: "secondary"},
				"odd":     {RefType: "segment"},
			}},
		},
		Time: 1700000000000,
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

type asyncResult struct {
	err error
	res []byte
}

func await(t *testing.T, issue func(flagcore.Token, flagcore.Callback)) ([]byte, error) {
	t.Helper()
	ch := make(chan asyncResult, 2)
	issue(1, func(_ flagcore.Token, res []byte, err error) {
		ch <- asyncResult{res: res, err: err}
	})
	select {
	case r := <-ch:
		return r.res, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("callback never fired")
		return nil, nil
	}
}

type recordingHost struct {
	mu      sync.Mutex
	calls   []string
	respond func(method string, args []byte) ([]byte, error)
}

func (h *recordingHost) fn(method string, args []byte) ([]byte, error) {
	h.mu.Lock()
	h.calls = append(h.calls, method)
	h.mu.Unlock()
	if h.respond != nil {
		return h.respond(method, args)
	}
	return nil, nil
}

func (h *recordingHost) methods() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

type fixture struct {
	e      *Engine
	client flagcore.Ref
	user   flagcore.Ref
}

func newFixture(t *testing.T, opts model.OptionsData) *fixture {
	t.Helper()
	e := New(Config{Specs: testSpecs()})
	t.Cleanup(e.Close)

	optsRef, err := e.Create(flagcore.KindOptions, mustJSON(t, opts))
	require.NoError(t, err)
	client, err := e.Create(flagcore.KindClient, mustJSON(t, model.ClientConfig{SDKKey: "secret-key", Options: uint64(optsRef)}))
	require.NoError(t, err)
	user, err := e.Create(flagcore.KindUser, mustJSON(t, model.UserData{UserID: "u1", CustomIDs: map[string]string{"companyID": "c1"}}))
	require.NoError(t, err)
	return &fixture{e: e, client: client, user: user}
}

func (f *fixture) initialize(t *testing.T) model.InitializeDetails {
	t.Helper()
	res, err := await(t, func(tk flagcore.Token, cb flagcore.Callback) {
		f.e.OperateAsync(f.client, model.OpInitialize, nil, tk, cb)
	})
	require.NoError(t, err)
	var details model.InitializeDetails
	require.NoError(t, json.Unmarshal(res, &details))
	return details
}

func (f *fixture) eval(t *testing.T, op, name string, out any) {
	t.Helper()
	res, err := f.e.Operate(f.client, op, mustJSON(t, model.EvalArgs{Name: name, User: uint64(f.user)}))
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(res, out))
	}
}

func TestCreate_RefsAreTypedAndNeverReused(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	a, err := e.Create(flagcore.KindUser, nil)
	require.NoError(t, err)
	e.Release(flagcore.KindUser, a)
	b, err := e.Create(flagcore.KindUser, nil)
	require.NoError(t, err)

	assert.Equal(t, flagcore.KindUser, a.Kind())
	assert.NotEqual(t, a, b)
	assert.Equal(t, Stats{Created: 2, Released: 1, Live: 1}, e.Stats())
}

func TestCreate_Errors(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	_, err := e.Create(flagcore.KindClient, mustJSON(t, model.ClientConfig{}))
	assert.ErrorIs(t, err, &fcerrors.Error{Kind: fcerrors.KindInvalidInput})

	_, err = e.Create(flagcore.KindDataStore, nil)
	assert.Error(t, err)

	_, err = e.CreateHost(flagcore.KindUser, func(string, []byte) ([]byte, error) { return nil, nil })
	assert.Error(t, err)

	_, err = e.Create(flagcore.KindUser, []byte("{"))
	assert.Error(t, err)

	user, err := e.Create(flagcore.KindUser, nil)
	require.NoError(t, err)
	_, err = e.Create(flagcore.KindClient, mustJSON(t, model.ClientConfig{SDKKey: "k", Options: uint64(user)}))
	assert.Error(t, err, "a user reference is not options")
}

func TestRelease_UnknownAndMismatched(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	ref, err := e.Create(flagcore.KindUser, nil)
	require.NoError(t, err)

	e.Release(flagcore.KindClient, ref)
	assert.Equal(t, 1, e.Stats().Live)

	e.Release(flagcore.KindUser, ref)
	e.Release(flagcore.KindUser, ref)
	assert.Equal(t, uint64(1), e.Stats().Released)
}

func TestInitializeAndEvaluate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.OptionsData{})
	details := f.initialize(t)
	assert.True(t, details.InitSuccess)
	assert.Equal(t, "Bootstrap", details.Source)

	var on bool
	f.eval(t, model.OpCheckGate, "on_gate", &on)
	assert.True(t, on)

	var gate model.FeatureGate
	f.eval(t, model.OpGetFeatureGate, "off_gate", &gate)
	assert.False(t, gate.Value)
	assert.Equal(t, "rule_off", gate.RuleID)

	var cfg model.DynamicConfig
	f.eval(t, model.OpGetDynamicConfig, "colors", &cfg)
	assert.Equal(t, "blue", cfg.Value.GetString("primary", ""))

	var exp model.Experiment
	f.eval(t, model.OpGetExperiment, "checkout", &exp)
	assert.Equal(t, "Test", exp.GroupName)

	var layer model.LayerData
	f.eval(t, model.OpGetLayer, "ui", &layer)
	assert.Equal(t, 12.0, layer.Value.GetNumber("size", 0))
	assert.Equal(t, "checkout", layer.AllocatedExperiment)

	var missing model.FeatureGate
	f.eval(t, model.OpGetFeatureGate, "nope", &missing)
	assert.False(t, missing.Value)
	assert.Empty(t, missing.RuleID)
}

func TestEvaluate_BeforeInitialize(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.OptionsData{})
	var on bool
	f.eval(t, model.OpCheckGate, "on_gate", &on)
	assert.False(t, on)
}

func TestOverrides(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.OptionsData{})
	f.initialize(t)

	set := func(op string, args model.OverrideArgs) {
		_, err := f.e.Operate(f.client, op, mustJSON(t, args))
		require.NoError(t, err)
	}

	set(model.OpOverrideGate, model.OverrideArgs{Name: "off_gate", Value: true})
	var on bool
	f.eval(t, model.OpCheckGate, "off_gate", &on)
	assert.True(t, on)

	set(model.OpOverrideLayer, model.OverrideArgs{Name: "ui", Value: map[string]any{"size": 20}, ID: "c1"})
	var layer model.LayerData
	f.eval(t, model.OpGetLayer, "ui", &layer)
	assert.Equal(t, 20.0, layer.Value.GetNumber("size", 0))
	assert.Equal(t, "override", layer.RuleID)

	_, err := f.e.Operate(f.client, model.OpRemoveOverride, mustJSON(t, model.OverrideArgs{Kind: model.OverrideLayer, Name: "ui", ID: "c1"}))
	require.NoError(t, err)
	f.eval(t, model.OpGetLayer, "ui", &layer)
	assert.Equal(t, 12.0, layer.Value.GetNumber("size", 0))

	_, err = f.e.Operate(f.client, model.OpRemoveAllOverrides, nil)
	require.NoError(t, err)
	f.eval(t, model.OpCheckGate, "off_gate", &on)
	assert.False(t, on)

	_, err = f.e.Operate(f.client, model.OpOverrideGate, mustJSON(t, model.OverrideArgs{Name: "g", Value: "yes"}))
	assert.ErrorIs(t, err, &fcerrors.Error{Kind: fcerrors.KindInvalidInput})
}

func TestOverrideExperimentByGroupName(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.OptionsData{})
	f.initialize(t)

	override := func(group, id string) error {
		_, err := f.e.Operate(f.client, model.OpOverrideExperimentByGroup,
			mustJSON(t, model.OverrideArgs{Name: "checkout", Value: group, ID: id}))
		return err
	}

	require.NoError(t, override("Control", ""))
	var exp model.Experiment
	f.eval(t, model.OpGetExperiment, "checkout", &exp)
	assert.Equal(t, "a", exp.Value.GetString("variant", ""))
	assert.Equal(t, "Control", exp.GroupName)
	assert.Equal(t, "override", exp.RuleID)

	require.NoError(t, override("Test", "u1"))
	f.eval(t, model.OpGetExperiment, "checkout", &exp)
	assert.Equal(t, "b", exp.Value.GetString("variant", ""))
	assert.Equal(t, "Test", exp.GroupName)

	require.NoError(t, override("Nobody", "u1"))
	f.eval(t, model.OpGetExperiment, "checkout", &exp)
	assert.Empty(t, exp.Value)
	assert.Equal(t, "Nobody", exp.GroupName)

	_, err := f.e.Operate(f.client, model.OpRemoveOverride,
		mustJSON(t, model.OverrideArgs{Kind: model.OverrideExperiment, Name: "checkout", ID: "u1"}))
	require.NoError(t, err)
	f.eval(t, model.OpGetExperiment, "checkout", &exp)
	assert.Equal(t, "Control", exp.GroupName)

	assert.ErrorIs(t, override("", ""), &fcerrors.Error{Kind: fcerrors.KindInvalidInput})
}

func TestParameterStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.OptionsData{})
	f.initialize(t)

	var store model.ParameterStore
	f.eval(t, model.OpGetParameterStore, "web", &store)
	assert.Equal(t, []string{"absent", "banner", "legacy", "odd", "primary", "size", "title", "variant"}, store.Parameters)

	f.eval(t, model.OpGetParameterStore, "unknown", &store)
	assert.Equal(t, "unknown", store.Name)
	assert.Empty(t, store.Parameters)

	param := func(storeName, name string) any {
		t.Helper()
		res, err := f.e.Operate(f.client, model.OpGetParameter,
			mustJSON(t, model.ParamArgs{Store: storeName, Name: name, User: uint64(f.user)}))
		require.NoError(t, err)
		if len(res) == 0 {
			return nil
		}
		var v any
		require.NoError(t, json.Unmarshal(res, &v))
		return v
	}

	assert.Equal(t, "Welcome", param("web", "title"))
	assert.Equal(t, "shown", param("web", "banner"))
	assert.Equal(t, false, param("web", "legacy"))
	assert.Equal(t, "blue", param("web", "primary"))
	assert.Equal(t, "b", param("web", "variant"))
	assert.Equal(t, 12.0, param("web", "size"))
	assert.Nil(t, param("web", "absent"))
	assert.Nil(t, param("web", "odd"))
	assert.Nil(t, param("web", "missing"))
	assert.Nil(t, param("unknown", "title"))

	_, err := f.e.Operate(f.client, model.OpOverrideGate, mustJSON(t, model.OverrideArgs{Name: "on_gate", Value: false}))
	require.NoError(t, err)
	assert.Equal(t, "hidden", param("web", "banner"))
}

func TestExposuresFlushedToEventLogger(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var received []model.Event
	logger := &recordingHost{respond: func(method string, args []byte) ([]byte, error) {
		var a model.LogEventsArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		mu.Lock()
		received = append(received, a.Events...)
		mu.Unlock()
		return nil, nil
	}}
	obs := &recordingHost{}

	e := New(Config{Specs: testSpecs()})
	defer e.Close()
	loggerRef, err := e.CreateHost(flagcore.KindEventLogger, logger.fn)
	require.NoError(t, err)
	obsRef, err := e.CreateHost(flagcore.KindObservability, obs.fn)
	require.NoError(t, err)

	f := &fixture{e: e}
	optsRef, err := e.Create(flagcore.KindOptions, mustJSON(t, model.OptionsData{EventLogger: uint64(loggerRef), ObservabilityClient: uint64(obsRef)}))
	require.NoError(t, err)
	f.client, err = e.Create(flagcore.KindClient, mustJSON(t, model.ClientConfig{SDKKey: "k", Options: uint64(optsRef)}))
	require.NoError(t, err)
	f.user, err = e.Create(flagcore.KindUser, mustJSON(t, model.UserData{UserID: "u1", PrivateAttributes: map[string]any{"secret": 1}}))
	require.NoError(t, err)
	f.initialize(t)

	f.eval(t, model.OpCheckGate, "on_gate", nil)
	_, err = f.e.Operate(f.client, model.OpCheckGate, mustJSON(t, model.EvalArgs{Name: "on_gate", User: uint64(f.user), DisableExposureLogging: true}))
	require.NoError(t, err)
	_, err = e.Operate(f.client, model.OpLogEvent, mustJSON(t, model.LogEventArgs{EventName: "purchase", User: uint64(f.user), Value: 9.99}))
	require.NoError(t, err)

	_, err = await(t, func(tk flagcore.Token, cb flagcore.Callback) {
		e.OperateAsync(f.client, model.OpFlushEvents, nil, tk, cb)
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, model.GateExposureEvent, received[0].EventName)
	assert.Equal(t, "true", received[0].Metadata["gateValue"])
	assert.Nil(t, received[0].User.PrivateAttributes)
	assert.Equal(t, "purchase", received[1].EventName)
	assert.Contains(t, obs.methods(), model.ObsInit)
	assert.Contains(t, obs.methods(), model.ObsIncrement)
}

func TestDataStoreSuppliesSpecs(t *testing.T) {
	t.Parallel()

	stored := string(mustJSON(t, model.SpecsDocument{Gates: map[string]model.GateSpec{"ds_gate": {Value: true}}}))
	ds := &recordingHost{respond: func(method string, _ []byte) ([]byte, error) {
		if method == model.DataStoreGet {
			return json.Marshal(model.DataStoreResponse{Result: &stored})
		}
		return nil, nil
	}}

	e := New(Config{Specs: testSpecs()})
	defer e.Close()
	dsRef, err := e.CreateHost(flagcore.KindDataStore, ds.fn)
	require.NoError(t, err)
	f := &fixture{e: e}
	optsRef, err := e.Create(flagcore.KindOptions, mustJSON(t, model.OptionsData{DataStore: uint64(dsRef)}))
	require.NoError(t, err)
	f.client, err = e.Create(flagcore.KindClient, mustJSON(t, model.ClientConfig{SDKKey: "k", Options: uint64(optsRef)}))
	require.NoError(t, err)
	f.user, err = e.Create(flagcore.KindUser, nil)
	require.NoError(t, err)

	details := f.initialize(t)
	assert.Equal(t, "DataStore", details.Source)

	var on bool
	f.eval(t, model.OpCheckGate, "ds_gate", &on)
	assert.True(t, on)
	assert.Equal(t, []string{model.DataStoreInitialize, model.DataStoreGet}, ds.methods())
}

func TestStickyExperimentUsesPersistentStorage(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	saved := map[string]model.UserPersistedValues{}
	storage := &recordingHost{respond: func(method string, args []byte) ([]byte, error) {
		var a model.StorageArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		switch method {
		case model.StorageLoad:
			return json.Marshal(saved[a.Key])
		case model.StorageSave:
			if saved[a.Key] == nil {
				saved[a.Key] = model.UserPersistedValues{}
			}
			saved[a.Key][a.ConfigName] = *a.Data
		}
		return nil, nil
	}}

	e := New(Config{Specs: testSpecs()})
	defer e.Close()
	stRef, err := e.CreateHost(flagcore.KindPersistentStorage, storage.fn)
	require.NoError(t, err)
	f := &fixture{e: e}
	optsRef, err := e.Create(flagcore.KindOptions, mustJSON(t, model.OptionsData{PersistentStorage: uint64(stRef)}))
	require.NoError(t, err)
	f.client, err = e.Create(flagcore.KindClient, mustJSON(t, model.ClientConfig{SDKKey: "k", Options: uint64(optsRef)}))
	require.NoError(t, err)
	f.user, err = e.Create(flagcore.KindUser, mustJSON(t, model.UserData{UserID: "u1"}))
	require.NoError(t, err)
	f.initialize(t)

	var first model.Experiment
	f.eval(t, model.OpGetExperiment, "checkout", &first)
	assert.Equal(t, "b", first.Value.GetString("variant", ""))

	mu.Lock()
	group := "Persisted"
	saved["u1:userID"] = model.UserPersistedValues{"checkout": {JSONValue: model.Values{"variant": "a"}, RuleID: "old", GroupName: &group}}
	mu.Unlock()

	var second model.Experiment
	f.eval(t, model.OpGetExperiment, "checkout", &second)
	assert.Equal(t, "a", second.Value.GetString("variant", ""))
	assert.Equal(t, "Persisted", second.GroupName)
}

func TestHostAdapterPanicRecovered(t *testing.T) {
	t.Parallel()

	e := New(Config{Specs: testSpecs()})
	defer e.Close()
	obsRef, err := e.CreateHost(flagcore.KindObservability, func(string, []byte) ([]byte, error) {
		panic("metrics backend down")
	})
	require.NoError(t, err)

	f := &fixture{e: e}
	optsRef, err := e.Create(flagcore.KindOptions, mustJSON(t, model.OptionsData{ObservabilityClient: uint64(obsRef)}))
	require.NoError(t, err)
	f.client, err = e.Create(flagcore.KindClient, mustJSON(t, model.ClientConfig{SDKKey: "k", Options: uint64(optsRef)}))
	require.NoError(t, err)

	details := f.initialize(t)
	assert.True(t, details.InitSuccess)
}

func TestShutdownSequence(t *testing.T) {
	t.Parallel()

	flushed := make(chan struct{}, 1)
	e := New(Config{Specs: testSpecs()})
	defer e.Close()
	loggerRef, err := e.CreateHost(flagcore.KindEventLogger, func(string, []byte) ([]byte, error) {
		flushed <- struct{}{}
		return nil, nil
	})
	require.NoError(t, err)
	f := &fixture{e: e}
	optsRef, err := e.Create(flagcore.KindOptions, mustJSON(t, model.OptionsData{EventLogger: uint64(loggerRef)}))
	require.NoError(t, err)
	f.client, err = e.Create(flagcore.KindClient, mustJSON(t, model.ClientConfig{SDKKey: "k", Options: uint64(optsRef)}))
	require.NoError(t, err)
	f.user, err = e.Create(flagcore.KindUser, nil)
	require.NoError(t, err)
	f.initialize(t)
	f.eval(t, model.OpCheckGate, "on_gate", nil)

	_, err = await(t, func(tk flagcore.Token, cb flagcore.Callback) {
		e.PrepareShutdown(f.client, tk, cb)
	})
	require.NoError(t, err)
	select {
	case <-flushed:
	default:
		t.Fatal("prepare must flush buffered events")
	}

	_, err = await(t, func(tk flagcore.Token, cb flagcore.Callback) {
		e.OperateAsync(f.client, model.OpInitialize, nil, tk, cb)
	})
	assert.ErrorIs(t, err, fcerrors.ErrShutdown)

	e.FinalizeShutdown(f.client)
	_, err = e.Operate(f.client, model.OpCheckGate, mustJSON(t, model.EvalArgs{Name: "on_gate", User: uint64(f.user)}))
	assert.ErrorIs(t, err, fcerrors.ErrShutdown)
}

func TestAsyncOnUnknownRefStillCallsBack(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	_, err := await(t, func(tk flagcore.Token, cb flagcore.Callback) {
		e.OperateAsync(flagcore.MakeRef(flagcore.KindClient, 99), model.OpInitialize, nil, tk, cb)
	})
	assert.ErrorIs(t, err, fcerrors.ErrNotFound)

	_, err = await(t, func(tk flagcore.Token, cb flagcore.Callback) {
		e.PrepareShutdown(flagcore.MakeRef(flagcore.KindClient, 99), tk, cb)
	})
	assert.Error(t, err)
}

func TestConcurrentAsyncOperations(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.OptionsData{})
	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for n := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := make(chan struct{})
			f.e.OperateAsync(f.client, model.OpInitialize, nil, flagcore.Token(n+1), func(_ flagcore.Token, _ []byte, err error) {
				if err != nil {
					errs <- err
				}
				close(done)
			})
			<-done
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestUnsupportedOperation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.OptionsData{})
	_, err := f.e.Operate(f.client, "evaluate_rules", nil)
	assert.Error(t, err)

	_, err = await(t, func(tk flagcore.Token, cb flagcore.Callback) {
		f.e.OperateAsync(f.client, "sync_specs", nil, tk, cb)
	})
	assert.True(t, errors.Is(err, &fcerrors.Error{Kind: fcerrors.KindUnsupported}))
}

func TestSpawn_BoundedByMaxAsync(t *testing.T) {
	e := New(Config{MaxAsync: 2})

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	release := make(chan struct{})
	for range 8 {
		wg.Add(1)
		e.spawn(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		})
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(2), peak.Load())

	close(release)
	wg.Wait()
	assert.Equal(t, int64(2), peak.Load())
}
