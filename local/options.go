package local

import (
	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/model"
)

// options is a resolved options object. Host adapters are looked up once,
// when the options are created; a client keeps using them after the options
// object itself was released.
type options struct {
	data      model.OptionsData
	dataStore *hostObject
	storage   *hostObject
	obs       *hostObject
	eventLog  *hostObject
	outputLog *hostObject
}

func defaultOptions() *options {
	return &options{data: model.OptionsData{
		EventLoggingFlushIntervalMs: -1,
		EventLoggingMaxQueueSize:    -1,
		SpecsSyncIntervalMs:         -1,
	}}
}

func (e *Engine) newOptions(config []byte) (*options, error) {
	o := defaultOptions()
	if err := decodeConfig(config, &o.data); err != nil {
		return nil, err
	}

	adapters := []struct {
		dst  **hostObject
		ref  uint64
		kind flagcore.Kind
	}{
		{&o.dataStore, o.data.DataStore, flagcore.KindDataStore},
		{&o.storage, o.data.PersistentStorage, flagcore.KindPersistentStorage},
		{&o.obs, o.data.ObservabilityClient, flagcore.KindObservability},
		{&o.eventLog, o.data.EventLogger, flagcore.KindEventLogger},
		{&o.outputLog, o.data.OutputLogger, flagcore.KindOutputLogger},
	}
	for _, a := range adapters {
		if a.ref == 0 {
			continue
		}
		h, err := lookup[*hostObject](e.objects, flagcore.Ref(a.ref), a.kind)
		if err != nil {
			return nil, err
		}
		*a.dst = h
	}
	return o, nil
}

func (o *options) exposureLogging() bool {
	return !o.data.DisableAllLogging && !o.data.DisableExposureLogging
}
