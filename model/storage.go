package model

// SecondaryExposure records a gate evaluated while evaluating something else.
type SecondaryExposure struct {
	Gate      string `json:"gate"`
	GateValue string `json:"gateValue"`
	RuleID    string `json:"ruleID"`
}

// StickyValues is a persisted experiment assignment.
type StickyValues struct {
	JSONValue          Values              `json:"json_value,omitempty"`
	GroupName          *string             `json:"group_name,omitempty"`
	ConfigVersion      *int64              `json:"config_version,omitempty"`
	RuleID             string              `json:"rule_id"`
	SecondaryExposures []SecondaryExposure `json:"secondary_exposures,omitempty"`
	Time               int64               `json:"time"`
	Value              bool                `json:"value"`
}

// UserPersistedValues maps config names to sticky values for one storage key.
type UserPersistedValues map[string]StickyValues

// StorageKey builds the persistent storage key for a unit ID and ID type.
func StorageKey(unitID, idType string) string {
	if idType == "" {
		idType = "userID"
	}
	return unitID + ":" + idType
}
