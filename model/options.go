package model

// OptionsData is the configuration an engine options object is created from.
// Numeric settings use -1 for "engine default".
type OptionsData struct {
	Specs                       *SpecsDocument `json:"specs,omitempty"`
	Environment                 string         `json:"environment,omitempty"`
	SpecsURL                    string         `json:"specs_url,omitempty"`
	LogEventURL                 string         `json:"log_event_url,omitempty"`
	OutputLogLevel              string         `json:"output_log_level,omitempty"`
	EventLoggingFlushIntervalMs int32          `json:"event_logging_flush_interval_ms"`
	EventLoggingMaxQueueSize    int32          `json:"event_logging_max_queue_size"`
	SpecsSyncIntervalMs         int32          `json:"specs_sync_interval_ms"`
	DisableAllLogging           bool           `json:"disable_all_logging,omitempty"`
	DisableExposureLogging      bool           `json:"disable_exposure_logging,omitempty"`

	// Host adapter references. Zero means absent.
	DataStore           uint64 `json:"data_store,omitempty"`
	PersistentStorage   uint64 `json:"persistent_storage,omitempty"`
	ObservabilityClient uint64 `json:"observability_client,omitempty"`
	EventLogger         uint64 `json:"event_logger,omitempty"`
	OutputLogger        uint64 `json:"output_logger,omitempty"`
}

// Defaults for unset numeric options.
const (
	DefaultFlushIntervalMs = 60_000
	DefaultMaxQueueSize    = 2000
)

// FlushInterval resolves the configured flush interval.
func (o *OptionsData) FlushInterval() int32 {
	if o.EventLoggingFlushIntervalMs <= 0 {
		return DefaultFlushIntervalMs
	}
	return o.EventLoggingFlushIntervalMs
}

// MaxQueueSize resolves the configured event queue bound.
func (o *OptionsData) MaxQueueSize() int {
	if o.EventLoggingMaxQueueSize <= 0 {
		return DefaultMaxQueueSize
	}
	return int(o.EventLoggingMaxQueueSize)
}

// ClientConfig is the configuration an engine client object is created from.
type ClientConfig struct {
	SDKKey  string `json:"sdk_key"`
	Options uint64 `json:"options,omitempty"`
}
