package model

// UserData is the configuration an engine user object is created from.
type UserData struct {
	Custom            map[string]any    `json:"custom,omitempty" yaml:"custom,omitempty"`
	PrivateAttributes map[string]any    `json:"private_attributes,omitempty" yaml:"private_attributes,omitempty"`
	Environment       map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	CustomIDs         map[string]string `json:"custom_ids,omitempty" yaml:"custom_ids,omitempty"`
	UserID            string            `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Email             string            `json:"email,omitempty" yaml:"email,omitempty"`
	IPAddress         string            `json:"ip,omitempty" yaml:"ip,omitempty"`
	UserAgent         string            `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	Country           string            `json:"country,omitempty" yaml:"country,omitempty"`
	Locale            string            `json:"locale,omitempty" yaml:"locale,omitempty"`
	AppVersion        string            `json:"app_version,omitempty" yaml:"app_version,omitempty"`
}

// UnitID returns the identifier used for idType. An empty or "userID" type
// selects UserID, anything else is looked up in CustomIDs.
func (u *UserData) UnitID(idType string) string {
	if idType == "" || idType == "userID" || idType == "user_id" {
		return u.UserID
	}
	return u.CustomIDs[idType]
}

// IDs returns every identifier of the user, UserID first.
func (u *UserData) IDs() []string {
	ids := make([]string, 0, 1+len(u.CustomIDs))
	if u.UserID != "" {
		ids = append(ids, u.UserID)
	}
	for _, id := range u.CustomIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Public returns a copy without private attributes, suitable for events.
func (u UserData) Public() UserData {
	u.PrivateAttributes = nil
	return u
}
