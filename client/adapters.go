package client

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/errors"
	"github.com/wippyai/flagcore/handle"
	"github.com/wippyai/flagcore/model"
)

// DataStoreAdapter stores specs outside the process, shared between
// instances.
type DataStoreAdapter interface {
	Initialize() error
	Get(key string) (*model.DataStoreResponse, error)
	Set(key, value string, time uint64) error
	Shutdown() error
	SupportsPollingUpdatesFor(key string) bool
}

// PersistentStorageAdapter keeps sticky experiment assignments.
type PersistentStorageAdapter interface {
	Load(key string) (model.UserPersistedValues, error)
	Save(key, configName string, data model.StickyValues) error
	Delete(key, configName string) error
}

// ObservabilityAdapter receives engine metrics.
type ObservabilityAdapter interface {
	Init() error
	Increment(metric string, value float64, tags map[string]string)
	Gauge(metric string, value float64, tags map[string]string)
	Dist(metric string, value float64, tags map[string]string)
	Error(tag, message string)
}

// EventLoggerAdapter delivers flushed events.
type EventLoggerAdapter interface {
	LogEvents(events []model.Event) error
}

// EventLoggerFunc adapts a function to EventLoggerAdapter.
type EventLoggerFunc func(events []model.Event) error

func (f EventLoggerFunc) LogEvents(events []model.Event) error { return f(events) }

// DataStore is a data store registered with the engine.
type DataStore struct{ resource }

// PersistentStorage is a sticky-value store registered with the engine.
type PersistentStorage struct{ resource }

// ObservabilityClient is a metrics sink registered with the engine.
type ObservabilityClient struct{ resource }

// EventLogger is an event sink registered with the engine.
type EventLogger struct{ resource }

// OutputLogger forwards engine log lines to a zap logger.
type OutputLogger struct{ resource }

// NewDataStore registers impl with the engine.
func NewDataStore(b flagcore.Boundary, impl DataStoreAdapter) (*DataStore, error) {
	h, err := createHost(b, flagcore.KindDataStore, impl, dataStoreDispatch(impl))
	if err != nil {
		return nil, err
	}
	d := &DataStore{}
	d.resource = track(d, h)
	return d, nil
}

// NewPersistentStorage registers impl with the engine.
func NewPersistentStorage(b flagcore.Boundary, impl PersistentStorageAdapter) (*PersistentStorage, error) {
	h, err := createHost(b, flagcore.KindPersistentStorage, impl, storageDispatch(impl))
	if err != nil {
		return nil, err
	}
	s := &PersistentStorage{}
	s.resource = track(s, h)
	return s, nil
}

// NewObservabilityClient registers impl with the engine.
func NewObservabilityClient(b flagcore.Boundary, impl ObservabilityAdapter) (*ObservabilityClient, error) {
	h, err := createHost(b, flagcore.KindObservability, impl, observabilityDispatch(impl))
	if err != nil {
		return nil, err
	}
	o := &ObservabilityClient{}
	o.resource = track(o, h)
	return o, nil
}

// NewEventLogger registers impl with the engine.
func NewEventLogger(b flagcore.Boundary, impl EventLoggerAdapter) (*EventLogger, error) {
	h, err := createHost(b, flagcore.KindEventLogger, impl, func(method string, args []byte) ([]byte, error) {
		if method != model.EventLoggerLogEvents {
			return nil, errors.Unsupported(errors.PhaseHost, method)
		}
		var a model.LogEventsArgs
		if err := decodeHostArgs(method, args, &a); err != nil {
			return nil, err
		}
		return nil, impl.LogEvents(a.Events)
	})
	if err != nil {
		return nil, err
	}
	l := &EventLogger{}
	l.resource = track(l, h)
	return l, nil
}

// NewOutputLogger registers a zap logger as the engine's log output.
func NewOutputLogger(b flagcore.Boundary, l *zap.Logger) (*OutputLogger, error) {
	if l == nil {
		l = Logger()
	}
	h, err := createHost(b, flagcore.KindOutputLogger, l, func(method string, args []byte) ([]byte, error) {
		if method != model.OutputLoggerLog {
			return nil, errors.Unsupported(errors.PhaseHost, method)
		}
		var a model.LogLineArgs
		if err := decodeHostArgs(method, args, &a); err != nil {
			return nil, err
		}
		fields := []zap.Field{zap.String("tag", a.Tag)}
		switch a.Level {
		case "error":
			l.Error(a.Message, fields...)
		case "warn":
			l.Warn(a.Message, fields...)
		case "debug":
			l.Debug(a.Message, fields...)
		default:
			l.Info(a.Message, fields...)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	o := &OutputLogger{}
	o.resource = track(o, h)
	return o, nil
}

func createHost(b flagcore.Boundary, kind flagcore.Kind, impl any, fn flagcore.HostFunc) (*handle.Handle, error) {
	if impl == nil {
		return nil, errors.InvalidInput(errors.PhaseCreate, kind.String()+" implementation is nil")
	}
	return handle.CreateHost(b, kind, fn)
}

func decodeHostArgs(method string, args []byte, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return errors.Wrap(errors.PhaseHost, errors.KindInvalidData, err, "decode arguments of "+method)
	}
	return nil
}

func dataStoreDispatch(impl DataStoreAdapter) flagcore.HostFunc {
	return func(method string, args []byte) ([]byte, error) {
		var a model.DataStoreArgs
		if err := decodeHostArgs(method, args, &a); err != nil {
			return nil, err
		}
		switch method {
		case model.DataStoreInitialize:
			return nil, impl.Initialize()
		case model.DataStoreGet:
			resp, err := impl.Get(a.Key)
			if err != nil {
				return nil, err
			}
			if resp == nil {
				resp = &model.DataStoreResponse{}
			}
			return json.Marshal(resp)
		case model.DataStoreSet:
			return nil, impl.Set(a.Key, a.Value, a.Time)
		case model.DataStoreShutdown:
			return nil, impl.Shutdown()
		case model.DataStoreSupportsPolling:
			return json.Marshal(impl.SupportsPollingUpdatesFor(a.Key))
		}
		return nil, errors.Unsupported(errors.PhaseHost, method)
	}
}

func storageDispatch(impl PersistentStorageAdapter) flagcore.HostFunc {
	return func(method string, args []byte) ([]byte, error) {
		var a model.StorageArgs
		if err := decodeHostArgs(method, args, &a); err != nil {
			return nil, err
		}
		switch method {
		case model.StorageLoad:
			values, err := impl.Load(a.Key)
			if err != nil {
				return nil, err
			}
			return json.Marshal(values)
		case model.StorageSave:
			if a.Data == nil {
				return nil, errors.InvalidInput(errors.PhaseHost, "save without data")
			}
			return nil, impl.Save(a.Key, a.ConfigName, *a.Data)
		case model.StorageDelete:
			return nil, impl.Delete(a.Key, a.ConfigName)
		}
		return nil, errors.Unsupported(errors.PhaseHost, method)
	}
}

func observabilityDispatch(impl ObservabilityAdapter) flagcore.HostFunc {
	return func(method string, args []byte) ([]byte, error) {
		if method == model.ObsInit {
			return nil, impl.Init()
		}
		if method == model.ObsError {
			var a model.ObsErrorArgs
			if err := decodeHostArgs(method, args, &a); err != nil {
				return nil, err
			}
			impl.Error(a.Tag, a.Error)
			return nil, nil
		}

		var a model.MetricArgs
		if err := decodeHostArgs(method, args, &a); err != nil {
			return nil, err
		}
		switch method {
		case model.ObsIncrement:
			impl.Increment(a.Metric, a.Value, a.Tags)
		case model.ObsGauge:
			impl.Gauge(a.Metric, a.Value, a.Tags)
		case model.ObsDist:
			impl.Dist(a.Metric, a.Value, a.Tags)
		default:
			return nil, errors.Unsupported(errors.PhaseHost, method)
		}
		return nil, nil
	}
}
