package client

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/bridge"
	"github.com/wippyai/flagcore/errors"
	"github.com/wippyai/flagcore/handle"
	"github.com/wippyai/flagcore/model"
	"github.com/wippyai/flagcore/shutdown"
)

// Client is an engine client object.
//
// Synchronous methods return copies decoded from the engine's reply.
// Initialize, FlushEvents and Shutdown return futures. After Shutdown was
// called every method fails with a shutdown error; after Close every method
// fails with a use-after-release error. Close does not imply Shutdown.
type Client struct {
	resource
	b       flagcore.Boundary
	options *Options
	bridge  *bridge.Bridge
	ctrl    *shutdown.Controller
}

// New creates a client. opts may be nil.
func New(b flagcore.Boundary, sdkKey string, opts *Options) (*Client, error) {
	if sdkKey == "" {
		return nil, errors.InvalidInput(errors.PhaseConfig, "empty sdk key")
	}

	cfg := model.ClientConfig{SDKKey: sdkKey}
	var h *handle.Handle
	create := func() error {
		config, err := json.Marshal(cfg)
		if err != nil {
			return errors.Encode("create_client", err)
		}
		h, err = handle.Create(b, flagcore.KindClient, config)
		return err
	}

	var err error
	if opts != nil {
		err = borrow(opts.h, func(ref flagcore.Ref) error {
			cfg.Options = uint64(ref)
			return create()
		})
	} else {
		err = create()
	}
	if err != nil {
		return nil, err
	}

	c := &Client{
		b:       b,
		options: opts,
		bridge:  bridge.New("client:" + h.Ref().String()),
	}
	c.ctrl = shutdown.New(shutdownHooks(b, h, c.bridge))
	c.resource = track(c, h)
	return c, nil
}

// shutdownHooks must not capture the Client, so an unreferenced client can
// still be collected while its controller is idle.
func shutdownHooks(b flagcore.Boundary, h *handle.Handle, br *bridge.Bridge) shutdown.Hooks {
	return shutdown.Hooks{
		Prepare: func(token flagcore.Token, cb flagcore.Callback) {
			ref, err := h.Acquire()
			if err != nil {
				cb(token, nil, err)
				return
			}
			defer h.Return()
			b.PrepareShutdown(ref, token, cb)
		},
		Finalize: func() {
			if ref, err := h.Acquire(); err == nil {
				b.FinalizeShutdown(ref)
				h.Return()
			}
			if n := br.FailAll(errors.Shutdown("finalize")); n > 0 {
				Logger().Debug("failed outstanding operations at finalize", zap.Int("count", n))
			}
		},
	}
}

// Options returns the options the client was created with, or nil.
func (c *Client) Options() *Options { return c.options }

// ShutdownState returns the position in the shutdown sequence.
func (c *Client) ShutdownState() shutdown.State { return c.ctrl.State() }

// Pending returns the number of async operations awaiting completion.
func (c *Client) Pending() int { return c.bridge.Pending() }

// Initialize loads specs. The future fails if the engine could not
// initialize.
func (c *Client) Initialize() *bridge.Future[struct{}] {
	return bridge.Then(c.InitializeWithDetails(), func(d model.InitializeDetails) (struct{}, error) {
		if !d.InitSuccess {
			reason := "initialization failed"
			if d.FailureDetails != nil && d.FailureDetails.Reason != "" {
				reason = d.FailureDetails.Reason
			}
			return struct{}{}, errors.New(errors.PhaseAsync, errors.KindNotInitialized).
				Op(model.OpInitialize).
				Detail("%s", reason).
				Build()
		}
		return struct{}{}, nil
	})
}

// InitializeWithDetails loads specs and reports how it went.
func (c *Client) InitializeWithDetails() *bridge.Future[model.InitializeDetails] {
	return bridge.Then(c.async(model.OpInitialize, nil), func(res []byte) (model.InitializeDetails, error) {
		var d model.InitializeDetails
		if err := json.Unmarshal(res, &d); err != nil {
			return d, errors.Decode(model.OpInitialize, err)
		}
		return d, nil
	})
}

// FlushEvents delivers buffered events to the event logger.
func (c *Client) FlushEvents() *bridge.Future[struct{}] {
	return bridge.Then(c.async(model.OpFlushEvents, nil), func([]byte) (struct{}, error) {
		return struct{}{}, nil
	})
}

// Shutdown prepares and finalizes the engine client. Every call returns the
// same future.
func (c *Client) Shutdown() *bridge.Future[struct{}] {
	return c.ctrl.Shutdown()
}

// EvalOption adjusts a single evaluation.
type EvalOption func(*model.EvalArgs)

// DisableExposureLogging skips the exposure event of one evaluation.
func DisableExposureLogging() EvalOption {
	return func(a *model.EvalArgs) { a.DisableExposureLogging = true }
}

// CheckGate returns the gate value for user.
func (c *Client) CheckGate(user *User, name string, opts ...EvalOption) (bool, error) {
	var v bool
	err := c.evaluate(model.OpCheckGate, user, name, opts, &v)
	return v, err
}

// GetFeatureGate returns the full gate result for user.
func (c *Client) GetFeatureGate(user *User, name string, opts ...EvalOption) (model.FeatureGate, error) {
	g := model.FeatureGate{Name: name}
	err := c.evaluate(model.OpGetFeatureGate, user, name, opts, &g)
	return g, err
}

// GetDynamicConfig returns the config for user.
func (c *Client) GetDynamicConfig(user *User, name string, opts ...EvalOption) (model.DynamicConfig, error) {
	cfg := model.DynamicConfig{Name: name}
	err := c.evaluate(model.OpGetDynamicConfig, user, name, opts, &cfg)
	return cfg, err
}

// GetExperiment returns the experiment for user.
func (c *Client) GetExperiment(user *User, name string, opts ...EvalOption) (model.Experiment, error) {
	x := model.Experiment{Name: name}
	err := c.evaluate(model.OpGetExperiment, user, name, opts, &x)
	return x, err
}

// GetLayer returns the layer for user. Reading a parameter from the layer
// logs its exposure unless exposure logging was disabled.
func (c *Client) GetLayer(user *User, name string, opts ...EvalOption) (*Layer, error) {
	l := &Layer{client: c, user: user}
	l.Name = name
	err := c.evaluate(model.OpGetLayer, user, name, opts, &l.LayerData)
	if err != nil {
		return l, err
	}
	var args model.EvalArgs
	for _, opt := range opts {
		opt(&args)
	}
	l.exposures = !args.DisableExposureLogging
	return l, nil
}

// LogEvent logs a custom event.
func (c *Client) LogEvent(user *User, eventName string, value any, metadata map[string]string) error {
	return c.withUser(model.OpLogEvent, user, func(uref flagcore.Ref) (any, error) {
		return model.LogEventArgs{
			EventName: eventName,
			Value:     value,
			Metadata:  metadata,
			User:      uint64(uref),
		}, nil
	}, nil)
}

// ManuallyLogGateExposure logs a gate exposure without evaluating for the
// caller.
func (c *Client) ManuallyLogGateExposure(user *User, name string) error {
	return c.evaluate(model.OpLogGateExposure, user, name, nil, nil)
}

// ManuallyLogDynamicConfigExposure logs a dynamic config exposure.
func (c *Client) ManuallyLogDynamicConfigExposure(user *User, name string) error {
	return c.evaluate(model.OpLogConfigExposure, user, name, nil, nil)
}

// ManuallyLogExperimentExposure logs an experiment exposure.
func (c *Client) ManuallyLogExperimentExposure(user *User, name string) error {
	return c.evaluate(model.OpLogExperimentExposure, user, name, nil, nil)
}

// ManuallyLogLayerParameterExposure logs the exposure of one layer parameter.
func (c *Client) ManuallyLogLayerParameterExposure(user *User, layer, parameter string) error {
	return c.withUser(model.OpLogLayerParamExposure, user, func(uref flagcore.Ref) (any, error) {
		return model.LayerParamArgs{Layer: layer, Parameter: parameter, User: uint64(uref)}, nil
	}, nil)
}

// GetClientInitializeResponse returns the JSON payload for client SDKs.
func (c *Client) GetClientInitializeResponse(user *User) (string, error) {
	var raw json.RawMessage
	err := c.withUser(model.OpGetClientInitResponse, user, func(uref flagcore.Ref) (any, error) {
		return model.UserArgs{User: uint64(uref)}, nil
	}, &raw)
	return string(raw), err
}

// OverrideGate forces a gate value. Without id it applies to every user.
func (c *Client) OverrideGate(name string, value bool, id ...string) error {
	return c.override(model.OpOverrideGate, name, value, id)
}

// OverrideDynamicConfig forces a dynamic config value, for one ID or for
// every user.
func (c *Client) OverrideDynamicConfig(name string, value map[string]any, id ...string) error {
	return c.override(model.OpOverrideDynamicConfig, name, value, id)
}

// OverrideExperiment forces an experiment value.
func (c *Client) OverrideExperiment(name string, value map[string]any, id ...string) error {
	return c.override(model.OpOverrideExperiment, name, value, id)
}

// OverrideExperimentByGroupName forces an experiment to the values of one of
// its groups. A group the specs do not know yields empty values.
func (c *Client) OverrideExperimentByGroupName(name, group string, id ...string) error {
	return c.override(model.OpOverrideExperimentByGroup, name, group, id)
}

// OverrideLayer forces a layer value.
func (c *Client) OverrideLayer(name string, value map[string]any, id ...string) error {
	return c.override(model.OpOverrideLayer, name, value, id)
}

// RemoveGateOverride drops the gate override set for id, or the global one.
func (c *Client) RemoveGateOverride(name string, id ...string) error {
	return c.removeOverride(model.OverrideGate, name, id)
}

// RemoveDynamicConfigOverride drops a dynamic config override.
func (c *Client) RemoveDynamicConfigOverride(name string, id ...string) error {
	return c.removeOverride(model.OverrideConfig, name, id)
}

// RemoveExperimentOverride drops an experiment override.
func (c *Client) RemoveExperimentOverride(name string, id ...string) error {
	return c.removeOverride(model.OverrideExperiment, name, id)
}

// RemoveLayerOverride drops a layer override.
func (c *Client) RemoveLayerOverride(name string, id ...string) error {
	return c.removeOverride(model.OverrideLayer, name, id)
}

// RemoveAllOverrides drops every override of every kind.
func (c *Client) RemoveAllOverrides() error {
	_, err := c.call(model.OpRemoveAllOverrides, nil)
	return err
}

func (c *Client) override(op, name string, value any, id []string) error {
	_, err := c.call(op, model.OverrideArgs{Name: name, Value: value, ID: firstID(id)})
	return err
}

func (c *Client) removeOverride(kind model.OverrideKind, name string, id []string) error {
	_, err := c.call(model.OpRemoveOverride, model.OverrideArgs{Kind: kind, Name: name, ID: firstID(id)})
	return err
}

func firstID(id []string) string {
	if len(id) == 0 {
		return ""
	}
	return id[0]
}

func (c *Client) evaluate(op string, user *User, name string, opts []EvalOption, out any) error {
	return c.withUser(op, user, func(uref flagcore.Ref) (any, error) {
		args := model.EvalArgs{Name: name, User: uint64(uref)}
		for _, opt := range opts {
			opt(&args)
		}
		return args, nil
	}, out)
}

// withUser keeps user live while the engine call that references it runs.
func (c *Client) withUser(op string, user *User, build func(uref flagcore.Ref) (any, error), out any) error {
	if user == nil {
		return errors.InvalidInput(errors.PhaseCall, "nil user")
	}
	return borrow(user.h, func(uref flagcore.Ref) error {
		args, err := build(uref)
		if err != nil {
			return err
		}
		res, err := c.call(op, args)
		if err != nil || out == nil || len(res) == 0 {
			return err
		}
		if raw, ok := out.(*json.RawMessage); ok {
			*raw = append((*raw)[:0], res...)
			return nil
		}
		if err := json.Unmarshal(res, out); err != nil {
			return errors.Decode(op, err)
		}
		return nil
	})
}

// call runs a synchronous engine operation. The client handle is checked
// before the shutdown gate so a released client never reaches the engine.
func (c *Client) call(op string, args any) ([]byte, error) {
	var payload []byte
	if args != nil {
		var err error
		payload, err = json.Marshal(args)
		if err != nil {
			return nil, errors.Encode(op, err)
		}
	}

	ref, err := c.h.Acquire()
	if err != nil {
		return nil, err
	}
	defer c.h.Return()

	exit, err := c.ctrl.Enter(op)
	if err != nil {
		return nil, err
	}
	defer exit()

	res, err := c.b.Operate(ref, op, payload)
	if err != nil {
		return nil, wrapNative(op, err)
	}
	return res, nil
}

func (c *Client) async(op string, args any) *bridge.Future[[]byte] {
	var payload []byte
	if args != nil {
		var err error
		payload, err = json.Marshal(args)
		if err != nil {
			return bridge.Failed[[]byte](errors.Encode(op, err))
		}
	}

	ref, err := c.h.Acquire()
	if err != nil {
		return bridge.Failed[[]byte](err)
	}
	defer c.h.Return()

	exit, err := c.ctrl.Enter(op)
	if err != nil {
		return bridge.Failed[[]byte](err)
	}
	defer exit()

	return c.bridge.Invoke(op, func(token flagcore.Token, cb flagcore.Callback) {
		c.b.OperateAsync(ref, op, payload, token, cb)
	}).Future()
}

func wrapNative(op string, err error) error {
	switch errors.KindOf(err) {
	case errors.KindShutdown, errors.KindNativeCall:
		return err
	}
	return errors.NativeCall(op, err)
}
