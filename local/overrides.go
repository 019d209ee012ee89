package local

import (
	"sync"

	"github.com/wippyai/flagcore/errors"
	"github.com/wippyai/flagcore/model"
)

// overrides holds local overrides by kind, name and ID. The empty ID applies
// to every user.
type overrides struct {
	m  map[model.OverrideKind]map[string]map[string]any
	mu sync.RWMutex
}

func newOverrides() *overrides {
	return &overrides{m: make(map[model.OverrideKind]map[string]map[string]any)}
}

func (o *overrides) set(args model.OverrideArgs) error {
	switch args.Kind {
	case model.OverrideGate:
		if _, ok := args.Value.(bool); !ok {
			return errors.InvalidInput(errors.PhaseCall, "gate override value must be a bool")
		}
	case model.OverrideConfig, model.OverrideExperiment, model.OverrideLayer:
		m, ok := args.Value.(map[string]any)
		if !ok {
			return errors.InvalidInput(errors.PhaseCall, "override value must be an object")
		}
		args.Value = model.Values(m).Clone()
	default:
		return errors.InvalidInput(errors.PhaseCall, "unknown override kind "+string(args.Kind))
	}
	if args.Name == "" {
		return errors.InvalidInput(errors.PhaseCall, "override without a name")
	}
	o.put(args.Kind, args.Name, args.ID, args.Value)
	return nil
}

// groupOverride forces an experiment to the values of a named group. The
// group is resolved against the specs at evaluation time.
type groupOverride string

func (o *overrides) setGroup(args model.OverrideArgs) error {
	group, _ := args.Value.(string)
	if group == "" {
		return errors.InvalidInput(errors.PhaseCall, "group override value must be a group name")
	}
	if args.Name == "" {
		return errors.InvalidInput(errors.PhaseCall, "override without a name")
	}
	o.put(model.OverrideExperiment, args.Name, args.ID, groupOverride(group))
	return nil
}

func (o *overrides) put(kind model.OverrideKind, name, id string, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	byName := o.m[kind]
	if byName == nil {
		byName = make(map[string]map[string]any)
		o.m[kind] = byName
	}
	byID := byName[name]
	if byID == nil {
		byID = make(map[string]any)
		byName[name] = byID
	}
	byID[id] = value
}

// remove drops one override. An empty kind removes the name from every kind.
func (o *overrides) remove(kind model.OverrideKind, name, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, byName := range o.m {
		if kind != "" && k != kind {
			continue
		}
		if byID := byName[name]; byID != nil {
			delete(byID, id)
			if len(byID) == 0 {
				delete(byName, name)
			}
		}
	}
}

func (o *overrides) removeAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.m = make(map[model.OverrideKind]map[string]map[string]any)
}

// lookup returns the override for user: a match on any of the user's IDs
// first, then the global one.
func (o *overrides) lookup(kind model.OverrideKind, name string, user *model.UserData) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	byID := o.m[kind][name]
	if len(byID) == 0 {
		return nil, false
	}
	for _, id := range user.IDs() {
		if v, ok := byID[id]; ok {
			return v, true
		}
	}
	v, ok := byID[""]
	return v, ok
}
