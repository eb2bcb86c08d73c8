package operation

import (
	"fmt"

	"assist_worker/core/domain"
	"assist_worker/pkg/apperr"
)

// ProfileTable maps each operation kind to its inference profile. It is
// filled once at construction and only read afterwards.
type ProfileTable struct {
	profiles map[domain.OperationKind]domain.InferenceProfile
}

// NewProfileTable copies and validates profiles. Every operation kind must
// have an entry.
func NewProfileTable(profiles map[domain.OperationKind]domain.InferenceProfile) (*ProfileTable, error) {
	t := &ProfileTable{profiles: make(map[domain.OperationKind]domain.InferenceProfile, len(profiles))}
	for _, kind := range domain.AllOperations {
		p, ok := profiles[kind]
		if !ok {
			return nil, apperr.ConfigError(fmt.Sprintf("no inference profile for operation %s", kind))
		}
		if err := p.Validate(); err != nil {
			return nil, apperr.ConfigError(fmt.Sprintf("inference profile for %s: %v", kind, err))
		}
		t.profiles[kind] = p
	}
	return t, nil
}

// Lookup returns the profile of kind.
func (t *ProfileTable) Lookup(kind domain.OperationKind) (domain.InferenceProfile, bool) {
	p, ok := t.profiles[kind]
	return p, ok
}

// All returns a copy of the table.
func (t *ProfileTable) All() map[domain.OperationKind]domain.InferenceProfile {
	out := make(map[domain.OperationKind]domain.InferenceProfile, len(t.profiles))
	for k, v := range t.profiles {
		out[k] = v
	}
	return out
}
