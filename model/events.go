package model

// Exposure event names.
const (
	GateExposureEvent   = "flagcore::gate_exposure"
	ConfigExposureEvent = "flagcore::config_exposure"
	LayerExposureEvent  = "flagcore::layer_exposure"
)

// Event is a logged event, custom or exposure.
type Event struct {
	Metadata           map[string]string   `json:"metadata,omitempty"`
	Value              any                 `json:"value,omitempty"`
	User               UserData            `json:"user"`
	EventName          string              `json:"event_name"`
	SecondaryExposures []SecondaryExposure `json:"secondary_exposures,omitempty"`
	Time               int64               `json:"time"`
}

// IsExposure reports whether e was generated by an evaluation.
func (e *Event) IsExposure() bool {
	switch e.EventName {
	case GateExposureEvent, ConfigExposureEvent, LayerExposureEvent:
		return true
	}
	return false
}
