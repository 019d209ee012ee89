package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wippyai/flagcore/config"
	"github.com/wippyai/flagcore/model"
	"github.com/wippyai/flagcore/shutdown"
)

const specsYAML = `
time: 1700000000
gates:
  new_checkout:
    value: true
    rule_id: rollout
configs:
  pricing:
    value: {currency: EUR, discount: 0.1}
  button_color:
    is_experiment: true
    group_name: blue
    value: {color: blue}
layers:
  homepage:
    value: {hero: big}
param_stores:
  checkout_params:
    parameters:
      currency:
        ref_type: dynamic_config
        config_name: pricing
        param_name: currency
      banner:
        ref_type: gate
        gate_name: new_checkout
        pass_value: shown
        fail_value: hidden
`

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	path := filepath.Join(t.TempDir(), "specs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(specsYAML), 0o600))

	s := config.Defaults()
	s.SDKKey = "secret-cli"
	s.SpecsFile = path
	return s
}

func TestOpenStack_LocalEngine(t *testing.T) {
	ctx := context.Background()
	st, err := openStack(ctx, testSettings(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "local", st.engine)
	assert.Equal(t, []entity{
		{kind: "config", name: "pricing"},
		{kind: "experiment", name: "button_color"},
		{kind: "gate", name: "new_checkout"},
		{kind: "layer", name: "homepage"},
		{kind: "param_store", name: "checkout_params"},
	}, st.entities())

	v, err := st.evaluate(entity{kind: "gate", name: "new_checkout"}, "u1")
	require.NoError(t, err)
	gate, ok := v.(model.FeatureGate)
	require.True(t, ok)
	assert.True(t, gate.Value)

	v, err = st.evaluate(entity{kind: "config", name: "pricing"}, "u1")
	require.NoError(t, err)
	cfg, ok := v.(model.DynamicConfig)
	require.True(t, ok)
	assert.Equal(t, "EUR", cfg.Value.GetString("currency", ""))

	v, err = st.evaluate(entity{kind: "layer", name: "homepage"}, "u1")
	require.NoError(t, err)
	layer, ok := v.(model.LayerData)
	require.True(t, ok)
	assert.Equal(t, "big", layer.Value.GetString("hero", ""))

	v, err = st.evaluate(entity{kind: "param_store", name: "checkout_params"}, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"banner": "shown", "currency": "EUR"}, v)

	_, err = st.evaluate(entity{kind: "segment", name: "x"}, "u1")
	assert.Error(t, err)

	c := st.client
	st.close(ctx)
	assert.Equal(t, shutdown.Finalized, c.ShutdownState())
	assert.True(t, c.Released())
}

func TestOpenStack_MissingSpecsFile(t *testing.T) {
	s := testSettings(t)
	s.SpecsFile = filepath.Join(t.TempDir(), "missing.json")
	_, err := openStack(context.Background(), s, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestOpenStack_MissingEngineModule(t *testing.T) {
	s := testSettings(t)
	s.EngineModule = filepath.Join(t.TempDir(), "missing.wasm")
	_, err := openStack(context.Background(), s, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestAppendNames(t *testing.T) {
	got := appendNames(nil, "gate", " a, ,b ")
	assert.Equal(t, []entity{{kind: "gate", name: "a"}, {kind: "gate", name: "b"}}, got)
	assert.Nil(t, appendNames(nil, "gate", ""))
}

func TestServe_RequiresUser(t *testing.T) {
	st := &stack{}
	err := serve(st, request{entities: []entity{{kind: "gate", name: "a"}}})
	assert.Error(t, err)
}
