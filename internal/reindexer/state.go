package reindexer

import (
	"encoding/json"
	"fmt"
	"time"
)

// StateKey returns the coordination key holding tenant's reindexing state.
func StateKey(tenant string) string {
	return "reindexing/" + tenant
}

// fields keeps JSON members this version does not know, so a rewrite does
// not drop what a newer writer stored.
type fields map[string]json.RawMessage

// State is the persisted reindexing record of one tenant.
type State struct {
	Clusters map[string]*ClusterState

	extra fields
}

// ClusterState holds the progress of each document type in a cluster.
type ClusterState struct {
	Types map[string]*Progress

	extra fields
}

// NewState returns an empty state.
func NewState() *State {
	return &State{Clusters: make(map[string]*ClusterState)}
}

// DecodeState parses a persisted state blob. An empty blob is an empty state.
func DecodeState(data []byte) (*State, error) {
	s := NewState()
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode reindexing state: %w", err)
	}
	return s, nil
}

// Encode serialises s. Object keys are sorted, so equal states encode to
// equal bytes.
func (s *State) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reindexing state: %w", err)
	}
	return data, nil
}

// Progress returns the record of typ in cluster, or nil.
func (s *State) Progress(cluster, typ string) *Progress {
	c, ok := s.Clusters[cluster]
	if !ok {
		return nil
	}
	return c.Types[typ]
}

// SetProgress stores p as the record of typ in cluster.
func (s *State) SetProgress(cluster, typ string, p *Progress) {
	if s.Clusters == nil {
		s.Clusters = make(map[string]*ClusterState)
	}
	c, ok := s.Clusters[cluster]
	if !ok {
		c = &ClusterState{}
		s.Clusters[cluster] = c
	}
	if c.Types == nil {
		c.Types = make(map[string]*Progress)
	}
	c.Types[typ] = p
}

func (s *State) MarshalJSON() ([]byte, error) {
	clusters := s.Clusters
	if clusters == nil {
		clusters = map[string]*ClusterState{}
	}
	return marshalObject(s.extra, map[string]any{"clusters": clusters})
}

func (s *State) UnmarshalJSON(data []byte) error {
	raw, err := unmarshalObject(data)
	if err != nil {
		return err
	}
	s.Clusters = make(map[string]*ClusterState)
	if err := takeMember(raw, "clusters", &s.Clusters); err != nil {
		return err
	}
	if s.Clusters == nil {
		s.Clusters = make(map[string]*ClusterState)
	}
	s.extra = raw
	return nil
}

func (c *ClusterState) MarshalJSON() ([]byte, error) {
	types := c.Types
	if types == nil {
		types = map[string]*Progress{}
	}
	return marshalObject(c.extra, map[string]any{"types": types})
}

func (c *ClusterState) UnmarshalJSON(data []byte) error {
	raw, err := unmarshalObject(data)
	if err != nil {
		return err
	}
	c.Types = make(map[string]*Progress)
	if err := takeMember(raw, "types", &c.Types); err != nil {
		return err
	}
	if c.Types == nil {
		c.Types = make(map[string]*Progress)
	}
	c.extra = raw
	return nil
}

func (p *Progress) MarshalJSON() ([]byte, error) {
	return marshalObject(p.extra, map[string]any{
		"state":       p.State,
		"startedAtMs": epochMillis(p.StartedAt),
		"endedAtMs":   epochMillis(p.EndedAt),
		"cursor":      p.Cursor,
		"message":     p.Message,
	})
}

func (p *Progress) UnmarshalJSON(data []byte) error {
	raw, err := unmarshalObject(data)
	if err != nil {
		return err
	}

	var (
		state            ProgressState
		startedAt, ended *int64
		cursor           *string
	)
	if err := takeMember(raw, "state", &state); err != nil {
		return err
	}
	if !state.Valid() {
		return fmt.Errorf("unknown progress state %q", state)
	}
	if err := takeMember(raw, "startedAtMs", &startedAt); err != nil {
		return err
	}
	if err := takeMember(raw, "endedAtMs", &ended); err != nil {
		return err
	}
	if err := takeMember(raw, "cursor", &cursor); err != nil {
		return err
	}
	*p = Progress{State: state}
	if err := takeMember(raw, "message", &p.Message); err != nil {
		return err
	}
	p.StartedAt = fromEpochMillis(startedAt)
	p.EndedAt = fromEpochMillis(ended)
	if cursor != nil {
		p.Cursor = *cursor
	}
	p.extra = raw
	return nil
}

// marshalObject encodes known members over the preserved unknown ones.
func marshalObject(extra fields, known map[string]any) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(extra)+len(known))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range known {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %q: %w", k, err)
		}
		out[k] = data
	}
	return json.Marshal(out)
}

func unmarshalObject(data []byte) (fields, error) {
	var raw fields
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = fields{}
	}
	return raw, nil
}

// takeMember decodes and removes key from raw. Absent keys leave v untouched.
func takeMember(raw fields, key string, v any) error {
	data, ok := raw[key]
	if !ok {
		return nil
	}
	delete(raw, key)
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid %q: %w", key, err)
	}
	return nil
}

func epochMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromEpochMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
