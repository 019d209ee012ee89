package model

// Host adapter method names, by adapter.
const (
	DataStoreInitialize      = "initialize"
	DataStoreGet             = "get"
	DataStoreSet             = "set"
	DataStoreShutdown        = "shutdown"
	DataStoreSupportsPolling = "supports_polling"

	StorageLoad   = "load"
	StorageSave   = "save"
	StorageDelete = "delete"

	ObsInit      = "init"
	ObsIncrement = "increment"
	ObsGauge     = "gauge"
	ObsDist      = "dist"
	ObsError     = "error"

	EventLoggerLogEvents = "log_events"

	OutputLoggerLog = "log"
)

// DataStoreArgs are the arguments of data store calls.
type DataStoreArgs struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
	Time  uint64 `json:"time,omitempty"`
}

// DataStoreResponse is the result of a data store get.
type DataStoreResponse struct {
	Result *string `json:"result"`
	Time   uint64  `json:"time,omitempty"`
}

// StorageArgs are the arguments of persistent storage calls.
type StorageArgs struct {
	Data       *StickyValues `json:"data,omitempty"`
	Key        string        `json:"key"`
	ConfigName string        `json:"config_name,omitempty"`
}

// MetricArgs are the arguments of observability metric calls.
type MetricArgs struct {
	Tags   map[string]string `json:"tags,omitempty"`
	Metric string            `json:"metric"`
	Value  float64           `json:"value"`
}

// ObsErrorArgs are the arguments of an observability error report.
type ObsErrorArgs struct {
	Tag   string `json:"tag"`
	Error string `json:"error"`
}

// LogEventsArgs are the arguments of an event logger flush.
type LogEventsArgs struct {
	Events []Event `json:"events"`
}

// LogLineArgs are the arguments of an output logger call.
type LogLineArgs struct {
	Level   string `json:"level"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// Metric names reported by engines.
const (
	MetricInitDuration   = "initialization"
	MetricEventsFlushed  = "events_successfully_sent_count"
	MetricEventsDropped  = "events_dropped_count"
	MetricSpecsSyncError = "config_sync_error"
)
