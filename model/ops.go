package model

// Client operation names.
const (
	OpInitialize                = "initialize"
	OpFlushEvents               = "flush_events"
	OpCheckGate                 = "check_gate"
	OpGetFeatureGate            = "get_feature_gate"
	OpGetDynamicConfig          = "get_dynamic_config"
	OpGetExperiment             = "get_experiment"
	OpGetLayer                  = "get_layer"
	OpLogLayerParamExposure     = "log_layer_param_exposure"
	OpLogEvent                  = "log_event"
	OpLogGateExposure           = "log_gate_exposure"
	OpLogConfigExposure         = "log_config_exposure"
	OpLogExperimentExposure     = "log_experiment_exposure"
	OpGetClientInitResponse     = "get_client_init_response"
	OpOverrideGate              = "override_gate"
	OpOverrideDynamicConfig     = "override_dynamic_config"
	OpOverrideExperiment        = "override_experiment"
	OpOverrideLayer             = "override_layer"
	OpOverrideExperimentByGroup = "override_experiment_by_group_name"
	OpGetParameterStore         = "get_parameter_store"
	OpGetParameter              = "get_parameter_from_store"
	OpRemoveOverride            = "remove_override"
	OpRemoveAllOverrides        = "remove_all_overrides"
)

// EvalArgs selects a named entity for a user.
type EvalArgs struct {
	Name                   string `json:"name"`
	User                   uint64 `json:"user"`
	DisableExposureLogging bool   `json:"disable_exposure_logging,omitempty"`
}

// LayerParamArgs logs the exposure of one layer parameter.
type LayerParamArgs struct {
	Layer     string `json:"layer"`
	Parameter string `json:"parameter"`
	User      uint64 `json:"user"`
}

// ParamArgs reads one parameter of a parameter store.
type ParamArgs struct {
	Store                  string `json:"store"`
	Name                   string `json:"name"`
	User                   uint64 `json:"user"`
	DisableExposureLogging bool   `json:"disable_exposure_logging,omitempty"`
}

// LogEventArgs logs a custom event.
type LogEventArgs struct {
	Metadata  map[string]string `json:"metadata,omitempty"`
	Value     any               `json:"value,omitempty"`
	EventName string            `json:"event_name"`
	User      uint64            `json:"user"`
}

// OverrideKind names the entity type an override applies to.
type OverrideKind string

const (
	OverrideGate       OverrideKind = "gate"
	OverrideConfig     OverrideKind = "dynamic_config"
	OverrideExperiment OverrideKind = "experiment"
	OverrideLayer      OverrideKind = "layer"
)

// OverrideArgs sets a local override. An empty ID applies to every user.
// For an override by group name, Value is the group name.
type OverrideArgs struct {
	Value any          `json:"value"`
	Kind  OverrideKind `json:"kind"`
	Name  string       `json:"name"`
	ID    string       `json:"id,omitempty"`
}

// UserArgs carries only a user reference.
type UserArgs struct {
	User uint64 `json:"user"`
}
