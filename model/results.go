package model

import "encoding/json"

// FeatureGate is the evaluation result of a gate.
type FeatureGate struct {
	Name   string `json:"name"`
	RuleID string `json:"rule_id"`
	IDType string `json:"id_type"`
	Value  bool   `json:"value"`
}

// DynamicConfig is the evaluation result of a dynamic config.
type DynamicConfig struct {
	Value  Values `json:"value"`
	Name   string `json:"name"`
	RuleID string `json:"rule_id"`
	IDType string `json:"id_type"`
}

// Experiment is the evaluation result of an experiment.
type Experiment struct {
	Value     Values `json:"value"`
	Name      string `json:"name"`
	RuleID    string `json:"rule_id"`
	IDType    string `json:"id_type"`
	GroupName string `json:"group_name,omitempty"`
}

// LayerData is the evaluation result of a layer. Its values travel under
// "__value" so a layer cannot be mistaken for a config.
type LayerData struct {
	Value               Values `json:"__value"`
	Name                string `json:"name"`
	RuleID              string `json:"rule_id"`
	IDType              string `json:"id_type"`
	AllocatedExperiment string `json:"allocated_experiment_name,omitempty"`
}

// ParameterStore describes a parameter store: its name and the names of
// its parameters, sorted. An unknown store has no parameters.
type ParameterStore struct {
	Name       string   `json:"name"`
	Parameters []string `json:"parameters"`
}

// FailureDetails describes why initialization did not succeed.
type FailureDetails struct {
	Error  map[string]any `json:"error,omitempty"`
	Reason string         `json:"reason"`
}

// InitializeDetails is the result of an initialize call.
type InitializeDetails struct {
	FailureDetails    *FailureDetails `json:"failure_details,omitempty"`
	Source            string          `json:"source"`
	Duration          float64         `json:"duration"`
	InitSuccess       bool            `json:"init_success"`
	IsConfigSpecReady bool            `json:"is_config_spec_ready"`
}

// ClientInitializeResponse is the payload a server hands to client SDKs.
type ClientInitializeResponse struct {
	FeatureGates   map[string]FeatureGate `json:"feature_gates"`
	DynamicConfigs map[string]Experiment  `json:"dynamic_configs"`
	LayerConfigs   map[string]LayerData   `json:"layer_configs"`
	User           UserData               `json:"user"`
	Time           int64                  `json:"time"`
	HasUpdates     bool                   `json:"has_updates"`
}

// Raw is a JSON value that is passed through undecoded.
type Raw = json.RawMessage
