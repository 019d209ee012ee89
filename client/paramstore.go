package client

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/model"
)

// ParameterStore is a parameter store bound to the client and user that
// fetched it. Each read resolves the parameter in the engine, so reads see
// overrides and specs updates made after the store was fetched.
type ParameterStore struct {
	model.ParameterStore
	client *Client
	user   *User
	opts   []EvalOption
}

// GetParameterStore returns the named store for user. opts apply to every
// read from the store.
func (c *Client) GetParameterStore(user *User, name string, opts ...EvalOption) (*ParameterStore, error) {
	s := &ParameterStore{client: c, user: user, opts: opts}
	s.Name = name
	err := c.evaluate(model.OpGetParameterStore, user, name, opts, &s.ParameterStore)
	return s, err
}

// GetString returns the string parameter name, or fallback.
func (s *ParameterStore) GetString(name, fallback string) string {
	return storeValue(s, name, fallback)
}

// GetBoolean returns the boolean parameter name, or fallback.
func (s *ParameterStore) GetBoolean(name string, fallback bool) bool {
	return storeValue(s, name, fallback)
}

// GetFloat64 returns the numeric parameter name, or fallback.
func (s *ParameterStore) GetFloat64(name string, fallback float64) float64 {
	return storeValue(s, name, fallback)
}

// GetInt64 returns the parameter name if it is an integer, or fallback.
func (s *ParameterStore) GetInt64(name string, fallback int64) int64 {
	return storeValue(s, name, fallback)
}

// GetInt returns the integer parameter name, or fallback.
func (s *ParameterStore) GetInt(name string, fallback int) int {
	return storeValue(s, name, fallback)
}

// GetMap returns the object parameter name, or fallback.
func (s *ParameterStore) GetMap(name string, fallback map[string]any) map[string]any {
	return storeValue(s, name, fallback)
}

// GetSlice returns the list parameter name, or fallback.
func (s *ParameterStore) GetSlice(name string, fallback []any) []any {
	return storeValue(s, name, fallback)
}

// GetInterface returns the parameter name with whatever JSON type it has.
func (s *ParameterStore) GetInterface(name string, fallback any) any {
	return storeValue(s, name, fallback)
}

func storeValue[T any](s *ParameterStore, name string, fallback T) T {
	v, err := getParameter(s.client, s.user, s.Name, name, fallback, s.opts)
	if err != nil {
		Logger().Debug("parameter store read failed",
			zap.String("store", s.Name),
			zap.String("parameter", name),
			zap.Error(err))
		return fallback
	}
	return v
}

// GetStringFromParameterStore reads one string parameter of a store. A
// missing parameter or one of another type yields fallback.
func (c *Client) GetStringFromParameterStore(user *User, store, name, fallback string, opts ...EvalOption) (string, error) {
	return getParameter(c, user, store, name, fallback, opts)
}

// GetBooleanFromParameterStore reads one boolean parameter of a store.
func (c *Client) GetBooleanFromParameterStore(user *User, store, name string, fallback bool, opts ...EvalOption) (bool, error) {
	return getParameter(c, user, store, name, fallback, opts)
}

// GetFloat64FromParameterStore reads one numeric parameter of a store.
func (c *Client) GetFloat64FromParameterStore(user *User, store, name string, fallback float64, opts ...EvalOption) (float64, error) {
	return getParameter(c, user, store, name, fallback, opts)
}

// GetInt64FromParameterStore reads one integer parameter of a store. A
// number with a fraction yields fallback.
func (c *Client) GetInt64FromParameterStore(user *User, store, name string, fallback int64, opts ...EvalOption) (int64, error) {
	return getParameter(c, user, store, name, fallback, opts)
}

// GetIntFromParameterStore reads one integer parameter of a store.
func (c *Client) GetIntFromParameterStore(user *User, store, name string, fallback int, opts ...EvalOption) (int, error) {
	return getParameter(c, user, store, name, fallback, opts)
}

// GetMapFromParameterStore reads one object parameter of a store.
func (c *Client) GetMapFromParameterStore(user *User, store, name string, fallback map[string]any, opts ...EvalOption) (map[string]any, error) {
	return getParameter(c, user, store, name, fallback, opts)
}

// GetInterfaceFromParameterStore reads one parameter of a store without a
// type check.
func (c *Client) GetInterfaceFromParameterStore(user *User, store, name string, fallback any, opts ...EvalOption) (any, error) {
	return getParameter(c, user, store, name, fallback, opts)
}

// getParameter decodes the engine's value into T. Errors are returned with
// fallback; a value that does not decode into T is not an error.
func getParameter[T any](c *Client, user *User, store, name string, fallback T, opts []EvalOption) (T, error) {
	var raw json.RawMessage
	err := c.withUser(model.OpGetParameter, user, func(uref flagcore.Ref) (any, error) {
		var eval model.EvalArgs
		for _, opt := range opts {
			opt(&eval)
		}
		return model.ParamArgs{
			Store:                  store,
			Name:                   name,
			User:                   uint64(uref),
			DisableExposureLogging: eval.DisableExposureLogging,
		}, nil
	}, &raw)
	if err != nil || len(raw) == 0 || string(raw) == "null" {
		return fallback, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return fallback, nil
	}
	return v, nil
}
