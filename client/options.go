package client

import (
	"encoding/json"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/errors"
	"github.com/wippyai/flagcore/handle"
	"github.com/wippyai/flagcore/model"
)

// Capabilities records which host adapters an Options object carries.
// It is resolved once, when the options are built.
type Capabilities struct {
	DataStore         bool
	PersistentStorage bool
	Observability     bool
	EventLogger       bool
	OutputLogger      bool
}

// Options is an engine options object.
type Options struct {
	resource
	data model.OptionsData
	caps Capabilities

	// Adapters are kept reachable for as long as the options are.
	dataStore *DataStore
	storage   *PersistentStorage
	obs       *ObservabilityClient
	eventLog  *EventLogger
	outputLog *OutputLogger
}

// Data returns the options configuration.
func (o *Options) Data() model.OptionsData { return o.data }

// Capabilities returns the adapters present on o.
func (o *Options) Capabilities() Capabilities { return o.caps }

// OptionsBuilder collects options. Numeric settings default to -1, which
// leaves the engine default in place.
type OptionsBuilder struct {
	data      model.OptionsData
	dataStore *DataStore
	storage   *PersistentStorage
	obs       *ObservabilityClient
	eventLog  *EventLogger
	outputLog *OutputLogger
}

// NewOptionsBuilder returns a builder with engine defaults.
func NewOptionsBuilder() *OptionsBuilder {
	return &OptionsBuilder{data: model.OptionsData{
		EventLoggingFlushIntervalMs: -1,
		EventLoggingMaxQueueSize:    -1,
		SpecsSyncIntervalMs:         -1,
	}}
}

func (b *OptionsBuilder) WithEnvironment(env string) *OptionsBuilder {
	b.data.Environment = env
	return b
}

func (b *OptionsBuilder) WithSpecsURL(url string) *OptionsBuilder {
	b.data.SpecsURL = url
	return b
}

func (b *OptionsBuilder) WithLogEventURL(url string) *OptionsBuilder {
	b.data.LogEventURL = url
	return b
}

func (b *OptionsBuilder) WithEventLoggingFlushIntervalMs(ms int32) *OptionsBuilder {
	b.data.EventLoggingFlushIntervalMs = ms
	return b
}

func (b *OptionsBuilder) WithEventLoggingMaxQueueSize(n int32) *OptionsBuilder {
	b.data.EventLoggingMaxQueueSize = n
	return b
}

func (b *OptionsBuilder) WithSpecsSyncIntervalMs(ms int32) *OptionsBuilder {
	b.data.SpecsSyncIntervalMs = ms
	return b
}

func (b *OptionsBuilder) WithOutputLogLevel(level string) *OptionsBuilder {
	b.data.OutputLogLevel = level
	return b
}

func (b *OptionsBuilder) WithDisableAllLogging(v bool) *OptionsBuilder {
	b.data.DisableAllLogging = v
	return b
}

func (b *OptionsBuilder) WithDisableExposureLogging(v bool) *OptionsBuilder {
	b.data.DisableExposureLogging = v
	return b
}

// WithSpecs bootstraps the client with a specs document.
func (b *OptionsBuilder) WithSpecs(doc *model.SpecsDocument) *OptionsBuilder {
	b.data.Specs = doc
	return b
}

func (b *OptionsBuilder) WithDataStore(d *DataStore) *OptionsBuilder {
	b.dataStore = d
	return b
}

func (b *OptionsBuilder) WithPersistentStorage(s *PersistentStorage) *OptionsBuilder {
	b.storage = s
	return b
}

func (b *OptionsBuilder) WithObservabilityClient(o *ObservabilityClient) *OptionsBuilder {
	b.obs = o
	return b
}

func (b *OptionsBuilder) WithEventLogger(l *EventLogger) *OptionsBuilder {
	b.eventLog = l
	return b
}

func (b *OptionsBuilder) WithOutputLogger(l *OutputLogger) *OptionsBuilder {
	b.outputLog = l
	return b
}

// Build creates the engine options object. Every adapter must still be live.
func (b *OptionsBuilder) Build(bd flagcore.Boundary) (*Options, error) {
	data := b.data
	var caps Capabilities

	// Hold each adapter for the duration of Create so none is released
	// while the engine resolves it.
	var held []*handle.Handle
	defer func() {
		for _, h := range held {
			h.Return()
		}
	}()
	acquire := func(r *resource, dst *uint64, present *bool) error {
		ref, err := r.h.Acquire()
		if err != nil {
			return err
		}
		held = append(held, r.h)
		*dst = uint64(ref)
		*present = true
		return nil
	}

	var steps []func() error
	if b.dataStore != nil {
		steps = append(steps, func() error { return acquire(&b.dataStore.resource, &data.DataStore, &caps.DataStore) })
	}
	if b.storage != nil {
		steps = append(steps, func() error {
			return acquire(&b.storage.resource, &data.PersistentStorage, &caps.PersistentStorage)
		})
	}
	if b.obs != nil {
		steps = append(steps, func() error {
			return acquire(&b.obs.resource, &data.ObservabilityClient, &caps.Observability)
		})
	}
	if b.eventLog != nil {
		steps = append(steps, func() error { return acquire(&b.eventLog.resource, &data.EventLogger, &caps.EventLogger) })
	}
	if b.outputLog != nil {
		steps = append(steps, func() error { return acquire(&b.outputLog.resource, &data.OutputLogger, &caps.OutputLogger) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	config, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Encode("create_options", err)
	}
	h, err := handle.Create(bd, flagcore.KindOptions, config)
	if err != nil {
		return nil, err
	}

	o := &Options{
		data:      data,
		caps:      caps,
		dataStore: b.dataStore,
		storage:   b.storage,
		obs:       b.obs,
		eventLog:  b.eventLog,
		outputLog: b.outputLog,
	}
	o.resource = track(o, h)
	return o, nil
}
