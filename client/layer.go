package client

import (
	"go.uber.org/zap"

	"github.com/wippyai/flagcore/model"
)

// Layer is a layer result bound to the client and user that produced it.
type Layer struct {
	model.LayerData
	client    *Client
	user      *User
	exposures bool
}

// GetString returns the string parameter key, or fallback. Reading a
// parameter that exists logs its exposure.
func (l *Layer) GetString(key, fallback string) string {
	l.expose(key)
	return l.Value.GetString(key, fallback)
}

// GetNumber returns the numeric parameter key, or fallback.
func (l *Layer) GetNumber(key string, fallback float64) float64 {
	l.expose(key)
	return l.Value.GetNumber(key, fallback)
}

// GetBool returns the boolean parameter key, or fallback.
func (l *Layer) GetBool(key string, fallback bool) bool {
	l.expose(key)
	return l.Value.GetBool(key, fallback)
}

// GetSlice returns the list parameter key, or fallback.
func (l *Layer) GetSlice(key string, fallback []any) []any {
	l.expose(key)
	return l.Value.GetSlice(key, fallback)
}

// GetMap returns the object parameter key, or fallback.
func (l *Layer) GetMap(key string, fallback map[string]any) map[string]any {
	l.expose(key)
	return l.Value.GetMap(key, fallback)
}

func (l *Layer) expose(param string) {
	if !l.exposures || l.client == nil {
		return
	}
	if _, ok := l.Value[param]; !ok {
		return
	}
	if err := l.client.ManuallyLogLayerParameterExposure(l.user, l.Name, param); err != nil {
		Logger().Debug("layer parameter exposure not logged",
			zap.String("layer", l.Name),
			zap.String("parameter", param),
			zap.Error(err))
	}
}
