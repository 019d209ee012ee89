package main

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/adapters/pgstorage"
	"github.com/wippyai/flagcore/adapters/redisstore"
	"github.com/wippyai/flagcore/bridge"
	"github.com/wippyai/flagcore/cleaner"
	"github.com/wippyai/flagcore/client"
	"github.com/wippyai/flagcore/config"
	"github.com/wippyai/flagcore/engine"
	"github.com/wippyai/flagcore/local"
	"github.com/wippyai/flagcore/model"
)

// stack is an initialized client together with everything it runs on.
type stack struct {
	boundary flagcore.Boundary
	client   *client.Client
	specs    *model.SpecsDocument
	logger   *zap.Logger
	engine   string
	closers  []func()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}

func setLoggers(l *zap.Logger) {
	client.SetLogger(l.Named("client"))
	bridge.SetLogger(l.Named("bridge"))
	cleaner.SetLogger(l.Named("cleaner"))
	local.SetLogger(l.Named("local"))
	engine.SetLogger(l.Named("engine"))
}

// openStack builds the engine, the adapters the settings ask for and an
// initialized client.
func openStack(ctx context.Context, s config.Settings, logger *zap.Logger) (_ *stack, err error) {
	st := &stack{logger: logger}
	defer func() {
		if err != nil {
			st.close(ctx)
		}
	}()

	if s.SpecsFile != "" {
		if st.specs, err = config.LoadSpecs(s.SpecsFile); err != nil {
			return nil, err
		}
	}

	if err := st.openEngine(ctx, s); err != nil {
		return nil, err
	}

	noFile := s
	noFile.SpecsFile = ""
	builder, err := noFile.OptionsBuilder()
	if err != nil {
		return nil, err
	}
	if st.specs != nil {
		builder.WithSpecs(st.specs)
	}
	if err := st.attachAdapters(ctx, s, builder); err != nil {
		return nil, err
	}

	opts, err := builder.Build(st.boundary)
	if err != nil {
		return nil, fmt.Errorf("build options: %w", err)
	}
	c, err := client.New(st.boundary, s.SDKKey, opts)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	st.client = c

	details, err := c.InitializeWithDetails().Await(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	logger.Info("client initialized",
		zap.String("engine", st.engine),
		zap.String("source", details.Source),
		zap.Bool("success", details.InitSuccess))
	return st, nil
}

func (st *stack) openEngine(ctx context.Context, s config.Settings) error {
	if s.EngineModule == "" {
		e := local.New(local.Config{Specs: st.specs})
		st.boundary = e
		st.engine = "local"
		st.closers = append(st.closers, e.Close)
		return nil
	}
	e, err := engine.LoadWazeroEngine(ctx, s.EngineModule, &engine.Config{MemoryLimitPages: s.EngineMemoryPages})
	if err != nil {
		return fmt.Errorf("load engine module: %w", err)
	}
	st.boundary = e
	st.engine = s.EngineModule
	st.closers = append(st.closers, func() { _ = e.Close(context.Background()) })
	return nil
}

func (st *stack) attachAdapters(ctx context.Context, s config.Settings, b *client.OptionsBuilder) error {
	out, err := client.NewOutputLogger(st.boundary, st.logger.Named("output"))
	if err != nil {
		return err
	}
	b.WithOutputLogger(out)

	events, err := client.NewEventLogger(st.boundary, client.EventLoggerFunc(func(evs []model.Event) error {
		for _, ev := range evs {
			st.logger.Info("event",
				zap.String("name", ev.EventName),
				zap.String("user", ev.User.UserID),
				zap.Any("metadata", ev.Metadata))
		}
		return nil
	}))
	if err != nil {
		return err
	}
	b.WithEventLogger(events)

	if s.RedisURL != "" {
		cfg := redisstore.Config{
			ConnectionURL:  s.RedisURL,
			KeyPrefix:      "flagcore:",
			RetryAttempts:  3,
			RetryInterval:  defaultRetryInterval,
			ConnectTimeout: defaultConnectTimeout,
		}
		store, err := redisstore.Open(ctx, cfg, redisstore.WithLogger(st.logger.Named("redis")))
		if err != nil {
			return fmt.Errorf("open redis data store: %w", err)
		}
		ds, err := client.NewDataStore(st.boundary, store)
		if err != nil {
			_ = store.Shutdown()
			return err
		}
		b.WithDataStore(ds)
	}

	if s.PostgresURL != "" {
		cfg := pgstorage.Config{
			ConnectionString:  s.PostgresURL,
			Table:             "flagcore_sticky_values",
			MaxOpenConns:      4,
			MaxIdleConns:      1,
			HealthCheckPeriod: defaultHealthCheck,
			RetryAttempts:     3,
			RetryInterval:     defaultRetryInterval,
		}
		pool, err := pgstorage.Connect(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		st.closers = append(st.closers, pool.Close)
		storage, err := pgstorage.New(pool, cfg)
		if err != nil {
			return err
		}
		if err := storage.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure sticky table: %w", err)
		}
		ps, err := client.NewPersistentStorage(st.boundary, storage)
		if err != nil {
			return err
		}
		b.WithPersistentStorage(ps)
	}
	return nil
}

// close shuts the client down and releases the engine. Safe on a partially
// built stack.
func (st *stack) close(ctx context.Context) {
	if st.client != nil {
		if _, err := st.client.Shutdown().Await(ctx); err != nil {
			st.logger.Warn("client shutdown", zap.Error(err))
		}
		_ = st.client.Close()
	}
	for i := len(st.closers) - 1; i >= 0; i-- {
		st.closers[i]()
	}
	st.closers = nil
}

// entity is something the explorer can evaluate.
type entity struct {
	kind string
	name string
}

func (st *stack) entities() []entity {
	if st.specs == nil {
		return nil
	}
	var out []entity
	for name := range st.specs.Gates {
		out = append(out, entity{kind: "gate", name: name})
	}
	for name, c := range st.specs.Configs {
		kind := "config"
		if c.IsExperiment {
			kind = "experiment"
		}
		out = append(out, entity{kind: kind, name: name})
	}
	for name := range st.specs.Layers {
		out = append(out, entity{kind: "layer", name: name})
	}
	for name := range st.specs.ParamStores {
		out = append(out, entity{kind: "param_store", name: name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].kind != out[j].kind {
			return out[i].kind < out[j].kind
		}
		return out[i].name < out[j].name
	})
	return out
}

// evaluate runs one evaluation for userID and returns the result value.
func (st *stack) evaluate(e entity, userID string) (any, error) {
	user, err := client.NewUserBuilder().WithUserID(userID).Build(st.boundary)
	if err != nil {
		return nil, err
	}
	defer user.Close()

	switch e.kind {
	case "gate":
		return st.client.GetFeatureGate(user, e.name)
	case "config":
		return st.client.GetDynamicConfig(user, e.name)
	case "experiment":
		return st.client.GetExperiment(user, e.name)
	case "layer":
		l, err := st.client.GetLayer(user, e.name)
		if err != nil {
			return nil, err
		}
		return l.LayerData, nil
	case "param_store":
		ps, err := st.client.GetParameterStore(user, e.name)
		if err != nil {
			return nil, err
		}
		values := make(map[string]any, len(ps.Parameters))
		for _, p := range ps.Parameters {
			values[p] = ps.GetInterface(p, nil)
		}
		return values, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", e.kind)
	}
}
