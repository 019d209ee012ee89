package local

import (
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/flagcore/errors"
	"github.com/wippyai/flagcore/model"
)

const overrideRuleID = "override"

func (i *instance) operate(op string, args []byte) ([]byte, error) {
	switch i.current() {
	case stateFinalized, stateClosed:
		return nil, errors.Shutdown(op)
	}

	switch op {
	case model.OpCheckGate:
		return evalOp(i, op, args, func(u *model.UserData, a model.EvalArgs) (any, error) {
			g := i.gate(u, a.Name, i.exposures(a))
			return g.Value, nil
		})
	case model.OpGetFeatureGate:
		return evalOp(i, op, args, func(u *model.UserData, a model.EvalArgs) (any, error) {
			return i.gate(u, a.Name, i.exposures(a)), nil
		})
	case model.OpGetDynamicConfig:
		return evalOp(i, op, args, func(u *model.UserData, a model.EvalArgs) (any, error) {
			return i.config(u, a.Name, i.exposures(a)), nil
		})
	case model.OpGetExperiment:
		return evalOp(i, op, args, func(u *model.UserData, a model.EvalArgs) (any, error) {
			return i.experiment(u, a.Name, i.exposures(a)), nil
		})
	case model.OpGetLayer:
		return evalOp(i, op, args, func(u *model.UserData, a model.EvalArgs) (any, error) {
			return i.layer(u, a.Name), nil
		})
	case model.OpLogGateExposure:
		return evalOp(i, op, args, func(u *model.UserData, a model.EvalArgs) (any, error) {
			g := i.gate(u, a.Name, false)
			i.logGateExposure(u, g, true)
			return nil, nil
		})
	case model.OpLogConfigExposure:
		return evalOp(i, op, args, func(u *model.UserData, a model.EvalArgs) (any, error) {
			c := i.config(u, a.Name, false)
			i.logConfigExposure(u, c.Name, c.RuleID, true)
			return nil, nil
		})
	case model.OpLogExperimentExposure:
		return evalOp(i, op, args, func(u *model.UserData, a model.EvalArgs) (any, error) {
			x := i.experiment(u, a.Name, false)
			i.logConfigExposure(u, x.Name, x.RuleID, true)
			return nil, nil
		})
	case model.OpLogLayerParamExposure:
		var a model.LayerParamArgs
		if err := decodeArgs(op, args, &a); err != nil {
			return nil, err
		}
		u, err := i.e.user(a.User)
		if err != nil {
			return nil, err
		}
		if i.opts.exposureLogging() {
			i.logLayerExposure(u, i.layer(u, a.Layer), a.Parameter)
		}
		return nil, nil
	case model.OpLogEvent:
		var a model.LogEventArgs
		if err := decodeArgs(op, args, &a); err != nil {
			return nil, err
		}
		if a.EventName == "" {
			return nil, errors.InvalidInput(errors.PhaseCall, "event without a name")
		}
		u, err := i.e.user(a.User)
		if err != nil {
			return nil, err
		}
		i.enqueue(model.Event{
			EventName: a.EventName,
			Value:     a.Value,
			Metadata:  a.Metadata,
			User:      u.Public(),
			Time:      i.nowMillis(),
		})
		return nil, nil
	case model.OpGetClientInitResponse:
		var a model.UserArgs
		if err := decodeArgs(op, args, &a); err != nil {
			return nil, err
		}
		u, err := i.e.user(a.User)
		if err != nil {
			return nil, err
		}
		return json.Marshal(i.clientInitResponse(u))
	case model.OpOverrideGate, model.OpOverrideDynamicConfig, model.OpOverrideExperiment, model.OpOverrideLayer:
		var a model.OverrideArgs
		if err := decodeArgs(op, args, &a); err != nil {
			return nil, err
		}
		a.Kind = overrideKindFor(op)
		return nil, i.overrides.set(a)
	case model.OpOverrideExperimentByGroup:
		var a model.OverrideArgs
		if err := decodeArgs(op, args, &a); err != nil {
			return nil, err
		}
		return nil, i.overrides.setGroup(a)
	case model.OpGetParameterStore:
		return evalOp(i, op, args, func(_ *model.UserData, a model.EvalArgs) (any, error) {
			return i.paramStore(a.Name), nil
		})
	case model.OpGetParameter:
		var a model.ParamArgs
		if err := decodeArgs(op, args, &a); err != nil {
			return nil, err
		}
		u, err := i.e.user(a.User)
		if err != nil {
			return nil, err
		}
		v, ok := i.parameter(u, a.Store, a.Name, !a.DisableExposureLogging && i.opts.exposureLogging())
		if !ok {
			return nil, nil
		}
		return json.Marshal(v)
	case model.OpRemoveOverride:
		var a model.OverrideArgs
		if err := decodeArgs(op, args, &a); err != nil {
			return nil, err
		}
		i.overrides.remove(a.Kind, a.Name, a.ID)
		return nil, nil
	case model.OpRemoveAllOverrides:
		i.overrides.removeAll()
		return nil, nil
	}
	return nil, errors.Unsupported(errors.PhaseCall, op)
}

func evalOp(i *instance, op string, args []byte, fn func(*model.UserData, model.EvalArgs) (any, error)) ([]byte, error) {
	var a model.EvalArgs
	if err := decodeArgs(op, args, &a); err != nil {
		return nil, err
	}
	u, err := i.e.user(a.User)
	if err != nil {
		return nil, err
	}
	out, err := fn(u, a)
	if err != nil || out == nil {
		return nil, err
	}
	return json.Marshal(out)
}

func decodeArgs(op string, args []byte, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return errors.Wrap(errors.PhaseDecode, errors.KindInvalidInput, err, "decode arguments of "+op)
	}
	return nil
}

func overrideKindFor(op string) model.OverrideKind {
	switch op {
	case model.OpOverrideGate:
		return model.OverrideGate
	case model.OpOverrideDynamicConfig:
		return model.OverrideConfig
	case model.OpOverrideExperiment:
		return model.OverrideExperiment
	default:
		return model.OverrideLayer
	}
}

func (i *instance) exposures(a model.EvalArgs) bool {
	return !a.DisableExposureLogging && i.opts.exposureLogging()
}

func (i *instance) gate(u *model.UserData, name string, expose bool) model.FeatureGate {
	g := model.FeatureGate{Name: name}
	if v, ok := i.overrides.lookup(model.OverrideGate, name, u); ok {
		g.Value, _ = v.(bool)
		g.RuleID = overrideRuleID
	} else if specs := i.specs.Load(); specs != nil {
		if s, ok := specs.Gates[name]; ok {
			g.Value = s.Value
			g.RuleID = s.RuleID
			g.IDType = s.IDType
		}
	}
	if expose {
		i.logGateExposure(u, g, false)
	}
	return g
}

func (i *instance) config(u *model.UserData, name string, expose bool) model.DynamicConfig {
	c := model.DynamicConfig{Name: name, Value: model.Values{}}
	if v, ok := i.overrides.lookup(model.OverrideConfig, name, u); ok {
		c.Value = overrideValues(v)
		c.RuleID = overrideRuleID
	} else if specs := i.specs.Load(); specs != nil {
		if s, ok := specs.Configs[name]; ok {
			c.Value = s.Value.Clone()
			c.RuleID = s.RuleID
			c.IDType = s.IDType
		}
	}
	if expose {
		i.logConfigExposure(u, c.Name, c.RuleID, false)
	}
	return c
}

func (i *instance) experiment(u *model.UserData, name string, expose bool) model.Experiment {
	x := model.Experiment{Name: name, Value: model.Values{}}
	if v, ok := i.overrides.lookup(model.OverrideExperiment, name, u); ok {
		if group, ok := v.(groupOverride); ok {
			x = i.experimentGroup(name, string(group))
		} else {
			x.Value = overrideValues(v)
		}
		x.RuleID = overrideRuleID
	} else if specs := i.specs.Load(); specs != nil {
		if s, ok := specs.Configs[name]; ok {
			x.Value = s.Value.Clone()
			x.RuleID = s.RuleID
			x.IDType = s.IDType
			x.GroupName = s.GroupName
			if s.Sticky {
				x = i.sticky(u, x)
			}
		}
	}
	if expose {
		i.logConfigExposure(u, x.Name, x.RuleID, false)
	}
	return x
}

// experimentGroup returns the experiment as served to group. A group the
// specs do not know yields empty values.
func (i *instance) experimentGroup(name, group string) model.Experiment {
	x := model.Experiment{Name: name, Value: model.Values{}, GroupName: group}
	if specs := i.specs.Load(); specs != nil {
		if s, ok := specs.Configs[name]; ok {
			x.IDType = s.IDType
			if v, ok := s.GroupValue(group); ok {
				x.Value = v.Clone()
			}
		}
	}
	return x
}

// sticky returns the persisted assignment for the user, persisting x when
// there is none yet.
func (i *instance) sticky(u *model.UserData, x model.Experiment) model.Experiment {
	storage := i.opts.storage
	unitID := u.UnitID(x.IDType)
	if storage == nil || unitID == "" {
		return x
	}

	key := model.StorageKey(unitID, x.IDType)
	var stored model.UserPersistedValues
	if storage.callLogged(model.StorageLoad, model.StorageArgs{Key: key}, &stored) {
		if sv, ok := stored[x.Name]; ok {
			x.Value = sv.JSONValue.Clone()
			x.RuleID = sv.RuleID
			x.GroupName = ""
			if sv.GroupName != nil {
				x.GroupName = *sv.GroupName
			}
			return x
		}
	}

	sv := model.StickyValues{
		Value:     true,
		JSONValue: x.Value.Clone(),
		RuleID:    x.RuleID,
		Time:      i.nowMillis(),
	}
	if x.GroupName != "" {
		group := x.GroupName
		sv.GroupName = &group
	}
	storage.callLogged(model.StorageSave, model.StorageArgs{Key: key, ConfigName: x.Name, Data: &sv}, nil)
	return x
}

func (i *instance) layer(u *model.UserData, name string) model.LayerData {
	l := model.LayerData{Name: name, Value: model.Values{}}
	if v, ok := i.overrides.lookup(model.OverrideLayer, name, u); ok {
		l.Value = overrideValues(v)
		l.RuleID = overrideRuleID
	} else if specs := i.specs.Load(); specs != nil {
		if s, ok := specs.Layers[name]; ok {
			l.Value = s.Value.Clone()
			l.RuleID = s.RuleID
			l.IDType = s.IDType
			l.AllocatedExperiment = s.AllocatedExperiment
		}
	}
	return l
}

func (i *instance) paramStore(name string) model.ParameterStore {
	st := model.ParameterStore{Name: name, Parameters: []string{}}
	if specs := i.specs.Load(); specs != nil {
		if s, ok := specs.ParamStores[name]; ok {
			st.Parameters = sortedKeys(s.Parameters)
		}
	}
	return st
}

// parameter resolves one store parameter for u. Referenced entities are
// evaluated like a direct call, including their exposure events.
func (i *instance) parameter(u *model.UserData, store, name string, expose bool) (any, bool) {
	specs := i.specs.Load()
	if specs == nil {
		return nil, false
	}
	p, ok := specs.ParamStores[store].Parameters[name]
	if !ok {
		return nil, false
	}
	switch p.RefType {
	case model.ParamStatic:
		return p.Value, p.Value != nil
	case model.ParamGate:
		v := p.FailValue
		if i.gate(u, p.GateName, expose).Value {
			v = p.PassValue
		}
		return v, v != nil
	case model.ParamConfig:
		v, ok := i.config(u, p.ConfigName, expose).Value[p.ParamName]
		return v, ok
	case model.ParamExperiment:
		v, ok := i.experiment(u, p.ExperimentName, expose).Value[p.ParamName]
		return v, ok
	case model.ParamLayer:
		l := i.layer(u, p.LayerName)
		v, ok := l.Value[p.ParamName]
		if ok && expose {
			i.logLayerExposure(u, l, p.ParamName)
		}
		return v, ok
	}
	Logger().Debug("unknown parameter reference",
		zap.String("store", store),
		zap.String("parameter", name),
		zap.String("ref_type", string(p.RefType)))
	return nil, false
}

func overrideValues(v any) model.Values {
	m, _ := v.(model.Values)
	return m.Clone()
}

func (i *instance) logGateExposure(u *model.UserData, g model.FeatureGate, manual bool) {
	meta := map[string]string{
		"gate":      g.Name,
		"gateValue": boolString(g.Value),
		"ruleID":    g.RuleID,
	}
	if manual {
		meta["isManualExposure"] = "true"
	}
	i.enqueue(model.Event{
		EventName: model.GateExposureEvent,
		User:      u.Public(),
		Metadata:  meta,
		Time:      i.nowMillis(),
	})
}

func (i *instance) logConfigExposure(u *model.UserData, name, ruleID string, manual bool) {
	meta := map[string]string{
		"config": name,
		"ruleID": ruleID,
	}
	if manual {
		meta["isManualExposure"] = "true"
	}
	i.enqueue(model.Event{
		EventName: model.ConfigExposureEvent,
		User:      u.Public(),
		Metadata:  meta,
		Time:      i.nowMillis(),
	})
}

func (i *instance) logLayerExposure(u *model.UserData, l model.LayerData, param string) {
	i.enqueue(model.Event{
		EventName: model.LayerExposureEvent,
		User:      u.Public(),
		Metadata: map[string]string{
			"config":              l.Name,
			"ruleID":              l.RuleID,
			"allocatedExperiment": l.AllocatedExperiment,
			"parameterName":       param,
			"isExplicitParameter": "false",
		},
		Time: i.nowMillis(),
	})
}

func (i *instance) clientInitResponse(u *model.UserData) model.ClientInitializeResponse {
	resp := model.ClientInitializeResponse{
		FeatureGates:   map[string]model.FeatureGate{},
		DynamicConfigs: map[string]model.Experiment{},
		LayerConfigs:   map[string]model.LayerData{},
		User:           u.Public(),
	}
	specs := i.specs.Load()
	if specs == nil {
		return resp
	}
	resp.Time = specs.Time
	resp.HasUpdates = true

	for _, name := range sortedKeys(specs.Gates) {
		resp.FeatureGates[name] = i.gate(u, name, false)
	}
	for _, name := range sortedKeys(specs.Configs) {
		if specs.Configs[name].IsExperiment {
			resp.DynamicConfigs[name] = i.experiment(u, name, false)
			continue
		}
		c := i.config(u, name, false)
		resp.DynamicConfigs[name] = model.Experiment{Name: c.Name, Value: c.Value, RuleID: c.RuleID, IDType: c.IDType}
	}
	for _, name := range sortedKeys(specs.Layers) {
		resp.LayerConfigs[name] = i.layer(u, name)
	}
	return resp
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
