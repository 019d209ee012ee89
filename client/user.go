package client

import (
	"encoding/json"
	"maps"

	"github.com/google/uuid"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/errors"
	"github.com/wippyai/flagcore/handle"
	"github.com/wippyai/flagcore/model"
)

// StableIDKey is the custom ID key WithGeneratedStableID writes.
const StableIDKey = "stableID"

// User is an engine user object.
type User struct {
	resource
	model.UserData
}

// UserBuilder collects user attributes.
type UserBuilder struct {
	data model.UserData
}

// NewUserBuilder returns an empty builder.
func NewUserBuilder() *UserBuilder {
	return &UserBuilder{}
}

func (b *UserBuilder) WithUserID(id string) *UserBuilder {
	b.data.UserID = id
	return b
}

func (b *UserBuilder) WithEmail(email string) *UserBuilder {
	b.data.Email = email
	return b
}

func (b *UserBuilder) WithIPAddress(ip string) *UserBuilder {
	b.data.IPAddress = ip
	return b
}

func (b *UserBuilder) WithUserAgent(ua string) *UserBuilder {
	b.data.UserAgent = ua
	return b
}

func (b *UserBuilder) WithCountry(country string) *UserBuilder {
	b.data.Country = country
	return b
}

func (b *UserBuilder) WithLocale(locale string) *UserBuilder {
	b.data.Locale = locale
	return b
}

func (b *UserBuilder) WithAppVersion(v string) *UserBuilder {
	b.data.AppVersion = v
	return b
}

func (b *UserBuilder) WithCustom(custom map[string]any) *UserBuilder {
	b.data.Custom = maps.Clone(custom)
	return b
}

func (b *UserBuilder) WithPrivateAttributes(attrs map[string]any) *UserBuilder {
	b.data.PrivateAttributes = maps.Clone(attrs)
	return b
}

func (b *UserBuilder) WithEnvironment(env map[string]string) *UserBuilder {
	b.data.Environment = maps.Clone(env)
	return b
}

func (b *UserBuilder) WithCustomIDs(ids map[string]string) *UserBuilder {
	if b.data.CustomIDs == nil {
		b.data.CustomIDs = make(map[string]string, len(ids))
	}
	maps.Copy(b.data.CustomIDs, ids)
	return b
}

// WithGeneratedStableID assigns a random stable ID unless one is set.
func (b *UserBuilder) WithGeneratedStableID() *UserBuilder {
	if b.data.CustomIDs[StableIDKey] != "" {
		return b
	}
	return b.WithCustomIDs(map[string]string{StableIDKey: uuid.NewString()})
}

// Data returns the collected attributes.
func (b *UserBuilder) Data() model.UserData {
	return b.data
}

// Build creates the engine user.
func (b *UserBuilder) Build(bd flagcore.Boundary) (*User, error) {
	return NewUser(bd, b.data)
}

// NewUser creates an engine user from data.
func NewUser(b flagcore.Boundary, data model.UserData) (*User, error) {
	if data.UserID == "" && len(data.CustomIDs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseConfig, "user needs a user ID or a custom ID")
	}
	config, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Encode("create_user", err)
	}
	h, err := handle.Create(b, flagcore.KindUser, config)
	if err != nil {
		return nil, err
	}
	u := &User{UserData: data}
	u.resource = track(u, h)
	return u, nil
}
