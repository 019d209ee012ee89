package model

import (
	"encoding/json"
	"maps"
)

// SpecsDocument is the static data an engine serves values from.
// Values are returned as stored; there is no rule evaluation.
type SpecsDocument struct {
	Gates       map[string]GateSpec       `json:"gates,omitempty" yaml:"gates,omitempty"`
	Configs     map[string]ConfigSpec     `json:"configs,omitempty" yaml:"configs,omitempty"`
	Layers      map[string]LayerSpec      `json:"layers,omitempty" yaml:"layers,omitempty"`
	ParamStores map[string]ParamStoreSpec `json:"param_stores,omitempty" yaml:"param_stores,omitempty"`
	Time        int64                     `json:"time" yaml:"time"`
}

// GateSpec is a stored gate value.
type GateSpec struct {
	RuleID string `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
	IDType string `json:"id_type,omitempty" yaml:"id_type,omitempty"`
	Value  bool   `json:"value" yaml:"value"`
}

// ConfigSpec is a stored dynamic config or experiment. Value is served as
// group GroupName; Groups holds the values of the other groups of an
// experiment, which an override by group name can select.
type ConfigSpec struct {
	Value        Values            `json:"value,omitempty" yaml:"value,omitempty"`
	Groups       map[string]Values `json:"groups,omitempty" yaml:"groups,omitempty"`
	RuleID       string            `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
	IDType       string            `json:"id_type,omitempty" yaml:"id_type,omitempty"`
	GroupName    string            `json:"group_name,omitempty" yaml:"group_name,omitempty"`
	IsExperiment bool              `json:"is_experiment,omitempty" yaml:"is_experiment,omitempty"`
	Sticky       bool              `json:"sticky,omitempty" yaml:"sticky,omitempty"`
}

// GroupValue returns the values of the named group.
func (c ConfigSpec) GroupValue(group string) (Values, bool) {
	if group != "" && group == c.GroupName {
		return c.Value, true
	}
	v, ok := c.Groups[group]
	return v, ok
}

// LayerSpec is a stored layer.
type LayerSpec struct {
	Value               Values `json:"value,omitempty" yaml:"value,omitempty"`
	RuleID              string `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
	IDType              string `json:"id_type,omitempty" yaml:"id_type,omitempty"`
	AllocatedExperiment string `json:"allocated_experiment,omitempty" yaml:"allocated_experiment,omitempty"`
}

// ParamRefType names what a store parameter reads its value from.
type ParamRefType string

const (
	ParamStatic     ParamRefType = "static"
	ParamGate       ParamRefType = "gate"
	ParamConfig     ParamRefType = "dynamic_config"
	ParamExperiment ParamRefType = "experiment"
	ParamLayer      ParamRefType = "layer"
)

// ParameterSpec is one parameter of a store. Which fields apply depends on
// RefType: static parameters carry Value, gate parameters pick PassValue or
// FailValue, and config, experiment and layer parameters read ParamName
// from the named entity.
type ParameterSpec struct {
	Value          any          `json:"value,omitempty" yaml:"value,omitempty"`
	PassValue      any          `json:"pass_value,omitempty" yaml:"pass_value,omitempty"`
	FailValue      any          `json:"fail_value,omitempty" yaml:"fail_value,omitempty"`
	RefType        ParamRefType `json:"ref_type" yaml:"ref_type"`
	ParamType      string       `json:"param_type,omitempty" yaml:"param_type,omitempty"`
	GateName       string       `json:"gate_name,omitempty" yaml:"gate_name,omitempty"`
	ConfigName     string       `json:"config_name,omitempty" yaml:"config_name,omitempty"`
	ExperimentName string       `json:"experiment_name,omitempty" yaml:"experiment_name,omitempty"`
	LayerName      string       `json:"layer_name,omitempty" yaml:"layer_name,omitempty"`
	ParamName      string       `json:"param_name,omitempty" yaml:"param_name,omitempty"`
}

// ParamStoreSpec is a named set of parameters.
type ParamStoreSpec struct {
	Parameters map[string]ParameterSpec `json:"parameters" yaml:"parameters"`
}

// ParseSpecs decodes a JSON specs document.
func ParseSpecs(data []byte) (*SpecsDocument, error) {
	var doc SpecsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Clone returns a copy that shares no maps with d.
func (d *SpecsDocument) Clone() *SpecsDocument {
	if d == nil {
		return nil
	}
	out := &SpecsDocument{
		Gates:   maps.Clone(d.Gates),
		Configs: make(map[string]ConfigSpec, len(d.Configs)),
		Layers:  make(map[string]LayerSpec, len(d.Layers)),
		Time:    d.Time,
	}
	for k, c := range d.Configs {
		c.Value = c.Value.Clone()
		if c.Groups != nil {
			groups := make(map[string]Values, len(c.Groups))
			for g, v := range c.Groups {
				groups[g] = v.Clone()
			}
			c.Groups = groups
		}
		out.Configs[k] = c
	}
	if d.ParamStores != nil {
		out.ParamStores = make(map[string]ParamStoreSpec, len(d.ParamStores))
		for k, st := range d.ParamStores {
			params := make(map[string]ParameterSpec, len(st.Parameters))
			for name, p := range st.Parameters {
				p.Value = cloneAny(p.Value)
				p.PassValue = cloneAny(p.PassValue)
				p.FailValue = cloneAny(p.FailValue)
				params[name] = p
			}
			out.ParamStores[k] = ParamStoreSpec{Parameters: params}
		}
	}
	for k, l := range d.Layers {
		l.Value = l.Value.Clone()
		out.Layers[k] = l
	}
	return out
}
