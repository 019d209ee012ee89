package local

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/errors"
	"github.com/wippyai/flagcore/model"
)

const specsKey = "flagcore|specs"

type instanceState uint32

const (
	stateRunning instanceState = iota
	statePreparing
	stateFinalized
	stateClosed
)

// instance is an engine-side client.
type instance struct {
	e         *Engine
	opts      *options
	overrides *overrides
	queue     *eventQueue
	specs     atomic.Pointer[model.SpecsDocument]
	sdkKey    string

	// workMu orders work.Add against state changes so prepare never misses
	// an operation that was admitted before it.
	workMu sync.Mutex
	work   sync.WaitGroup
	state  atomic.Uint32

	tickerOnce sync.Once
	stopOnce   sync.Once
	stop       chan struct{}
}

func (e *Engine) newInstance(config []byte) (*instance, error) {
	var cfg model.ClientConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	if cfg.SDKKey == "" {
		return nil, errors.InvalidInput(errors.PhaseCreate, "empty sdk key")
	}

	opts := defaultOptions()
	if cfg.Options != 0 {
		o, err := lookup[*options](e.objects, flagcore.Ref(cfg.Options), flagcore.KindOptions)
		if err != nil {
			return nil, err
		}
		opts = o
	}

	return &instance{
		e:         e,
		opts:      opts,
		sdkKey:    cfg.SDKKey,
		overrides: newOverrides(),
		queue:     newEventQueue(opts.data.MaxQueueSize()),
		stop:      make(chan struct{}),
	}, nil
}

func (i *instance) current() instanceState {
	return instanceState(i.state.Load())
}

// begin admits a unit of background work.
func (i *instance) begin() bool {
	i.workMu.Lock()
	defer i.workMu.Unlock()
	if i.current() != stateRunning {
		return false
	}
	i.work.Add(1)
	return true
}

func (i *instance) operateAsync(op string, args []byte, token flagcore.Token, cb flagcore.Callback) {
	var run func() ([]byte, error)
	switch op {
	case model.OpInitialize:
		run = i.initialize
	case model.OpFlushEvents:
		run = func() ([]byte, error) { return nil, i.flush() }
	default:
		cb(token, nil, errors.Unsupported(errors.PhaseAsync, op))
		return
	}

	if !i.begin() {
		cb(token, nil, errors.Shutdown(op))
		return
	}
	i.e.spawn(func() {
		defer i.work.Done()
		res, err := run()
		cb(token, res, err)
	})
}

func (i *instance) initialize() ([]byte, error) {
	start := i.e.cfg.Now()
	i.opts.obs.callLogged(model.ObsInit, nil, nil)
	i.opts.dataStore.callLogged(model.DataStoreInitialize, nil, nil)

	specs, source := i.loadSpecs()
	if specs != nil {
		i.specs.Store(specs)
	}
	i.startTicker()

	duration := float64(i.e.cfg.Now().Sub(start).Microseconds()) / 1000
	details := model.InitializeDetails{
		Duration:          duration,
		InitSuccess:       specs != nil,
		IsConfigSpecReady: specs != nil,
		Source:            source,
	}
	if specs == nil {
		details.FailureDetails = &model.FailureDetails{Reason: "no specs available"}
	}

	i.opts.obs.callLogged(model.ObsDist, model.MetricArgs{
		Metric: model.MetricInitDuration,
		Value:  duration,
		Tags: map[string]string{
			"source":  source,
			"success": boolString(details.InitSuccess),
		},
	}, nil)
	i.log("info", "initialized from "+source)

	return json.Marshal(details)
}

func (i *instance) loadSpecs() (*model.SpecsDocument, string) {
	if ds := i.opts.dataStore; ds != nil {
		var resp model.DataStoreResponse
		if ds.callLogged(model.DataStoreGet, model.DataStoreArgs{Key: specsKey}, &resp) && resp.Result != nil {
			doc, err := model.ParseSpecs([]byte(*resp.Result))
			if err == nil {
				return doc, "DataStore"
			}
			i.opts.obs.callLogged(model.ObsError, model.ObsErrorArgs{
				Tag:   model.MetricSpecsSyncError,
				Error: err.Error(),
			}, nil)
		}
	}

	doc := i.opts.data.Specs
	if doc == nil {
		doc = i.e.cfg.Specs
	}
	if doc == nil {
		return nil, "NoValues"
	}
	doc = doc.Clone()

	if ds := i.opts.dataStore; ds != nil {
		if raw, err := json.Marshal(doc); err == nil {
			ds.callLogged(model.DataStoreSet, model.DataStoreArgs{
				Key:   specsKey,
				Value: string(raw),
				Time:  uint64(doc.Time),
			}, nil)
		}
	}
	return doc, "Bootstrap"
}

func (i *instance) startTicker() {
	i.tickerOnce.Do(func() {
		interval := time.Duration(i.opts.data.FlushInterval()) * time.Millisecond
		go func() {
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				select {
				case <-t.C:
					if !i.begin() {
						return
					}
					if err := i.flush(); err != nil {
						Logger().Debug("scheduled flush failed", zap.Error(err))
					}
					i.work.Done()
				case <-i.stop:
					return
				}
			}
		}()
	})
}

func (i *instance) stopTicker() {
	i.stopOnce.Do(func() { close(i.stop) })
}

func (i *instance) flush() error {
	events := i.queue.drain()
	if len(events) == 0 {
		return nil
	}

	if i.opts.eventLog == nil {
		Logger().Debug("no event logger, dropping events", zap.Int("count", len(events)))
		i.opts.obs.callLogged(model.ObsIncrement, model.MetricArgs{
			Metric: model.MetricEventsDropped,
			Value:  float64(len(events)),
		}, nil)
		return nil
	}

	if err := i.opts.eventLog.call(model.EventLoggerLogEvents, model.LogEventsArgs{Events: events}, nil); err != nil {
		i.opts.obs.callLogged(model.ObsIncrement, model.MetricArgs{
			Metric: model.MetricEventsDropped,
			Value:  float64(len(events)),
		}, nil)
		return err
	}
	i.opts.obs.callLogged(model.ObsIncrement, model.MetricArgs{
		Metric: model.MetricEventsFlushed,
		Value:  float64(len(events)),
	}, nil)
	return nil
}

// enqueue buffers an event and schedules a flush when the queue is full.
func (i *instance) enqueue(ev model.Event) {
	if i.opts.data.DisableAllLogging {
		return
	}
	if !i.queue.push(ev) {
		return
	}
	if !i.begin() {
		return
	}
	i.e.spawn(func() {
		defer i.work.Done()
		if err := i.flush(); err != nil {
			Logger().Debug("queue flush failed", zap.Error(err))
		}
	})
}

func (i *instance) prepareShutdown(token flagcore.Token, cb flagcore.Callback) {
	i.workMu.Lock()
	if i.current() != stateRunning {
		i.workMu.Unlock()
		cb(token, nil, nil)
		return
	}
	i.state.Store(uint32(statePreparing))
	i.workMu.Unlock()
	i.stopTicker()

	go func() {
		i.work.Wait()
		err := i.flush()
		i.opts.dataStore.callLogged(model.DataStoreShutdown, nil, nil)
		i.log("info", "shutdown prepared")
		cb(token, nil, err)
	}()
}

func (i *instance) finalize() {
	i.workMu.Lock()
	i.state.Store(uint32(stateFinalized))
	i.workMu.Unlock()
	i.stopTicker()

	if dropped := i.queue.drain(); len(dropped) > 0 {
		Logger().Warn("events dropped at finalize", zap.Int("count", len(dropped)))
	}
	i.specs.Store(nil)
	i.overrides.removeAll()
}

// close runs when the client reference is released.
func (i *instance) close() {
	i.workMu.Lock()
	prev := i.current()
	i.state.Store(uint32(stateClosed))
	i.workMu.Unlock()
	i.stopTicker()

	if prev == stateRunning {
		if n := i.queue.len(); n > 0 {
			Logger().Debug("client released without shutdown", zap.Int("queued_events", n))
		}
	}
}

func (i *instance) log(level, msg string) {
	if i.opts.outputLog != nil {
		i.opts.outputLog.callLogged(model.OutputLoggerLog, model.LogLineArgs{
			Level:   level,
			Tag:     "flagcore",
			Message: msg,
		}, nil)
		return
	}
	Logger().Debug(msg, zap.String("level", level))
}

func (i *instance) nowMillis() int64 {
	return i.e.cfg.Now().UnixMilli()
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// eventQueue buffers events until the next flush.
type eventQueue struct {
	events []model.Event
	max    int
	mu     sync.Mutex
}

func newEventQueue(max int) *eventQueue {
	return &eventQueue{max: max}
}

// push appends ev and reports whether the queue reached its bound.
func (q *eventQueue) push(ev model.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return len(q.events) >= q.max
}

func (q *eventQueue) drain() []model.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
