package types

import "strings"

// MonitorType names the kind of check an upstream monitor performs.
type MonitorType string

const (
	MonitorTypePush    MonitorType = "push"
	MonitorTypeHTTP    MonitorType = "http"
	MonitorTypePort    MonitorType = "port"
	MonitorTypeGamedig MonitorType = "gamedig"
	MonitorTypeOther   MonitorType = "other"
)

// NormalizeMonitorType trims and lower-cases a type name without folding it
// onto the known set.
func NormalizeMonitorType(raw string) MonitorType {
	return MonitorType(strings.ToLower(strings.TrimSpace(raw)))
}

// ParseMonitorType maps a raw type string onto the known set. Anything that is
// not explicitly recognised is reported as MonitorTypeOther.
func ParseMonitorType(raw string) MonitorType {
	switch t := NormalizeMonitorType(raw); t {
	case MonitorTypePush, MonitorTypeHTTP, MonitorTypePort, MonitorTypeGamedig:
		return t
	default:
		return MonitorTypeOther
	}
}

// Tag is a name/value label attached to a monitor. A nil Value means the tag
// was attached without a value.
type Tag struct {
	Name  string  `json:"name" yaml:"name"`
	Value *string `json:"value" yaml:"value"`
}

// NewTag is a convenience constructor for a tag carrying a value.
func NewTag(name, value string) Tag {
	return Tag{Name: name, Value: &value}
}

// MonitorDefinition represents a single monitor as published by the feed.
type MonitorDefinition struct {
	ID      string      `json:"id" yaml:"id"`
	Name    string      `json:"name" yaml:"name"`
	Type    MonitorType `json:"type" yaml:"type"`
	RawType string      `json:"raw_type,omitempty" yaml:"raw_type,omitempty"`
	Active  bool        `json:"active" yaml:"active"`
	Tags    []Tag       `json:"tags" yaml:"tags"`
}

// Kind is the normalized type as published upstream. Definitions built
// without a raw type fall back to Type.
func (d MonitorDefinition) Kind() MonitorType {
	if strings.TrimSpace(d.RawType) != "" {
		return NormalizeMonitorType(d.RawType)
	}
	return NormalizeMonitorType(string(d.Type))
}

// FindTag returns the first tag with the given name in definition order.
func (d MonitorDefinition) FindTag(name string) (Tag, bool) {
	for _, tag := range d.Tags {
		if tag.Name == name {
			return tag, true
		}
	}
	return Tag{}, false
}

// Clone returns a deep copy so callers can hand definitions across goroutines.
func (d MonitorDefinition) Clone() MonitorDefinition {
	out := d
	if d.Tags != nil {
		out.Tags = make([]Tag, len(d.Tags))
		for i, tag := range d.Tags {
			out.Tags[i] = Tag{Name: tag.Name}
			if tag.Value != nil {
				v := *tag.Value
				out.Tags[i].Value = &v
			}
		}
	}
	return out
}
