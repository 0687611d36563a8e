package item

import (
	"context"
	"encoding/json"
)

// ExpandState governs whether and how an item's children are discovered.
type ExpandState int

const (
	NotExpandable ExpandState = iota
	Expandable
	BusyExpanding
	Expanded
)

var expandNames = map[ExpandState]string{
	NotExpandable: "not_expandable",
	Expandable:    "expandable",
	BusyExpanding: "busy_expanding",
	Expanded:      "expanded",
}

var expandFromName = map[string]ExpandState{
	"not_expandable": NotExpandable,
	"expandable":     Expandable,
	"busy_expanding": BusyExpanding,
	"expanded":       Expanded,
}

func (e ExpandState) String() string {
	if s, ok := expandNames[e]; ok {
		return s
	}
	return "unknown"
}

func (e ExpandState) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

func (e *ExpandState) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := expandFromName[s]; ok {
		*e = v
	}
	return nil
}

// Snapshot is the provider-owned metadata carried in Add and Retire
// operations. It is a value; consumers may retain it.
type Snapshot struct {
	ID    string   `json:"id"`
	Label string   `json:"label"`
	URI   string   `json:"uri,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// Clone returns a copy with an independent Tags slice.
func (s Snapshot) Clone() Snapshot {
	if len(s.Tags) > 0 {
		s.Tags = append([]string(nil), s.Tags...)
	}
	return s
}

// Apply sets the named mutable property. Unknown keys and mismatched value
// types are ignored; the id is immutable.
func (s *Snapshot) Apply(key string, value any) {
	switch key {
	case "label":
		if v, ok := value.(string); ok {
			s.Label = v
		}
	case "uri":
		if v, ok := value.(string); ok {
			s.URI = v
		}
	case "tags":
		switch v := value.(type) {
		case []string:
			s.Tags = append([]string(nil), v...)
		case []any:
			tags := make([]string, 0, len(v))
			for _, t := range v {
				if ts, ok := t.(string); ok {
					tags = append(tags, ts)
				}
			}
			s.Tags = tags
		}
	}
}

// Item is the contract a discovery provider's test items must satisfy.
// Implementations own their child collections; the session only reads them
// at registration time and otherwise learns about changes through Subscribe.
type Item interface {
	// ID returns the stable external id, unique within one hierarchy.
	ID() string

	// Snapshot returns the current metadata. Snapshot().ID must equal ID().
	Snapshot() Snapshot

	// Expandable reports whether the item can have discovered children.
	Expandable() bool

	// Children returns the children known to the provider right now.
	Children() []Item

	// Discover asynchronously populates children, reporting busy/idle
	// transitions through progress. It must stop mutating and reporting
	// once ctx is cancelled, and must report idle (progress(false)) or
	// return an error before returning.
	Discover(ctx context.Context, progress func(busy bool)) error

	// Subscribe registers an observer for push events and returns a
	// function that detaches it.
	Subscribe(obs Observer) (unsubscribe func())
}

// Observer is the push channel a session installs on each tracked item.
type Observer interface {
	ChildCreated(child Item)
	Deleted(id string)
	Invalidated()
	PropertyChanged(key string, value any)
}
