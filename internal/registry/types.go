package registry

import "time"

// Environment classifies what a site is used for.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Valid reports whether e is one of the known environments.
func (e Environment) Valid() bool {
	switch e {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return true
	}
	return false
}

// Purpose records whether a site is expected to outlive its current task.
type Purpose string

const (
	PurposeTemporary Purpose = "temporary"
	PurposePermanent Purpose = "permanent"
)

// Valid reports whether p is one of the known purposes.
func (p Purpose) Valid() bool {
	return p == PurposeTemporary || p == PurposePermanent
}

// Field is one recipe-specific extension field. The registry treats these
// as opaque key/value pairs and round-trips them verbatim.
type Field struct {
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value" json:"value"`
}

// SiteEntry represents one managed site in the registry
type SiteEntry struct {
	Name        string      `yaml:"name" json:"name"`               // Unique site name (registry key)
	Directory   string      `yaml:"directory" json:"directory"`     // Absolute path to the site root
	Recipe      string      `yaml:"recipe" json:"recipe"`           // Provisioning template used
	Environment Environment `yaml:"environment" json:"environment"` // development | staging | production
	Purpose     Purpose     `yaml:"purpose" json:"purpose"`         // temporary | permanent
	Created     time.Time   `yaml:"created" json:"created"`         // Set once at creation, never mutated
	Extra       []Field     `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// Clone returns a deep copy of the entry.
func (e *SiteEntry) Clone() *SiteEntry {
	c := *e
	if e.Extra != nil {
		c.Extra = make([]Field, len(e.Extra))
		copy(c.Extra, e.Extra)
	}
	return &c
}

// ExtraValue returns the value of the named extension field.
func (e *SiteEntry) ExtraValue(key string) (string, bool) {
	for _, f := range e.Extra {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// SetExtra sets or replaces an extension field, preserving field order.
func (e *SiteEntry) SetExtra(key, value string) {
	for i, f := range e.Extra {
		if f.Key == key {
			e.Extra[i].Value = value
			return
		}
	}
	e.Extra = append(e.Extra, Field{Key: key, Value: value})
}

// UnsetExtra removes an extension field. Returns false if it was absent.
func (e *SiteEntry) UnsetExtra(key string) bool {
	for i, f := range e.Extra {
		if f.Key == key {
			e.Extra = append(e.Extra[:i], e.Extra[i+1:]...)
			return true
		}
	}
	return false
}
