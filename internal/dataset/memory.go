package dataset

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Sample is one dataset entry.
type Sample struct {
	ID             string         `yaml:"id" json:"id"`
	Filepath       string         `yaml:"filepath" json:"filepath"`
	Tags           []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
	Fields         map[string]any `yaml:"fields,omitempty" json:"fields,omitempty"`
	LastModifiedAt time.Time      `yaml:"last_modified_at" json:"last_modified_at"`
}

// Manifest is the on-disk form of a Memory dataset.
type Manifest struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	MediaType string   `yaml:"media_type"`
	Schema    []string `yaml:"schema,omitempty"`
	Samples   []Sample `yaml:"samples"`
}

// Memory is a Dataset held in memory. It is safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	id        string
	name      string
	mediaType string
	schema    map[string]bool
	samples   []*Sample
	index     map[string]*Sample
	now       func() time.Time
}

// NewMemory creates an empty in-memory dataset.
func NewMemory(id, name, mediaType string) *Memory {
	return &Memory{
		id:        id,
		name:      name,
		mediaType: mediaType,
		schema:    make(map[string]bool),
		index:     make(map[string]*Sample),
		now:       time.Now,
	}
}

// LoadManifest reads a YAML (or JSON) manifest into a Memory dataset.
func LoadManifest(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("parse manifest: dataset id is required")
	}
	if m.MediaType == "" {
		m.MediaType = MediaImage
	}

	ds := NewMemory(m.ID, m.Name, m.MediaType)
	for _, f := range m.Schema {
		ds.schema[f] = true
	}
	ds.AddSamples(m.Samples...)
	return ds, nil
}

// Manifest returns a snapshot of the dataset in manifest form.
func (m *Memory) Manifest() Manifest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	man := Manifest{ID: m.id, Name: m.name, MediaType: m.mediaType}
	for f := range m.schema {
		man.Schema = append(man.Schema, f)
	}
	slices.Sort(man.Schema)
	for _, s := range m.samples {
		c := *s
		c.Fields = maps.Clone(s.Fields)
		c.Tags = slices.Clone(s.Tags)
		man.Samples = append(man.Samples, c)
	}
	return man
}

// Save writes the dataset to path as a YAML manifest.
func (m *Memory) Save(path string) error {
	man := m.Manifest()
	data, err := yaml.Marshal(&man)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// SetClock replaces the time source used for modification timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// AddSamples appends samples, stamping a zero LastModifiedAt with the clock.
func (m *Memory) AddSamples(samples ...Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range samples {
		s := s
		if s.LastModifiedAt.IsZero() {
			s.LastModifiedAt = m.now()
		}
		if s.Fields == nil {
			s.Fields = make(map[string]any)
		}
		for f := range s.Fields {
			m.schema[f] = true
		}
		m.samples = append(m.samples, &s)
		m.index[s.ID] = &s
	}
}

// ClearField unsets field on every sample. The field stays in the schema.
func (m *Memory) ClearField(field string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, s := range m.samples {
		if _, ok := s.Fields[field]; ok {
			delete(s.Fields, field)
			s.LastModifiedAt = now
		}
	}
}

// Sample returns a copy of the sample with the given id.
func (m *Memory) Sample(id string) (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.index[id]
	if !ok {
		return Sample{}, false
	}
	return *s, true
}

func (m *Memory) ID() string        { return m.id }
func (m *Memory) Name() string      { return m.name }
func (m *Memory) MediaType() string { return m.mediaType }

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples), nil
}

func (m *Memory) HasField(_ context.Context, field string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schema[field], nil
}

func (m *Memory) CountExists(_ context.Context, field string, exists bool) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, s := range m.samples {
		if _, ok := s.Fields[field]; ok == exists {
			n++
		}
	}
	return n, nil
}

func (m *Memory) MaxLastModified(context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest time.Time
	for _, s := range m.samples {
		if s.LastModifiedAt.After(latest) {
			latest = s.LastModifiedAt
		}
	}
	return latest, nil
}

// numeric returns the float values of field in dataset order.
// Caller must hold the read lock.
func (m *Memory) numeric(field string) ([]float64, error) {
	if !m.schema[field] {
		return nil, fmt.Errorf("%w: %s", ErrFieldMissing, field)
	}
	out := make([]float64, 0, len(m.samples))
	for _, s := range m.samples {
		if f, ok := ToFloat(s.Fields[field]); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *Memory) Bounds(_ context.Context, field string) (float64, float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vals, err := m.numeric(field)
	if err != nil {
		return 0, 0, err
	}
	if len(vals) == 0 {
		return 0, 0, fmt.Errorf("%w: %s", ErrNoValues, field)
	}
	return slices.Min(vals), slices.Max(vals), nil
}

func (m *Memory) Histogram(_ context.Context, field string, bins int) ([]int, []float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vals, err := m.numeric(field)
	if err != nil {
		return nil, nil, err
	}
	counts, edges := BuildHistogram(vals, bins)
	return counts, edges, nil
}

func (m *Memory) CountInRange(_ context.Context, field string, lower, upper float64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, s := range m.samples {
		if f, ok := ToFloat(s.Fields[field]); ok && f >= lower && f <= upper {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Values(_ context.Context, field string) ([]FieldValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []FieldValue
	for _, s := range m.samples {
		if v, ok := s.Fields[field]; ok && v != nil {
			out = append(out, FieldValue{SampleID: s.ID, Value: v})
		}
	}
	return out, nil
}

func (m *Memory) SetValues(_ context.Context, field string, values map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.schema[field] = true
	for id, v := range values {
		s, ok := m.index[id]
		if !ok {
			return fmt.Errorf("set %s: unknown sample %q", field, id)
		}
		s.Fields[field] = v
		s.LastModifiedAt = now
	}
	return nil
}

func (m *Memory) SamplePaths(_ context.Context, missingField string) ([]SamplePath, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SamplePath, 0, len(m.samples))
	for _, s := range m.samples {
		if missingField != "" {
			if _, ok := s.Fields[missingField]; ok {
				continue
			}
		}
		out = append(out, SamplePath{ID: s.ID, Filepath: s.Filepath})
	}
	return out, nil
}

func (m *Memory) Select(_ context.Context, view View) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Sample
	for _, s := range m.samples {
		if matches(s, view) {
			matched = append(matched, s)
		}
	}
	if view.SortBy != "" {
		slices.SortStableFunc(matched, func(a, b *Sample) int {
			return cmp.Compare(fmt.Sprint(a.Fields[view.SortBy]), fmt.Sprint(b.Fields[view.SortBy]))
		})
	}

	ids := make([]string, len(matched))
	for i, s := range matched {
		ids[i] = s.ID
	}
	return ids, nil
}

func matches(s *Sample, view View) bool {
	switch view.Kind {
	case ViewRange:
		f, ok := ToFloat(s.Fields[view.Field])
		return ok && f >= view.Lower && f <= view.Upper
	case ViewIn:
		v, ok := s.Fields[view.Field].(string)
		return ok && slices.Contains(view.Values, v)
	}
	return true
}

func (m *Memory) Tag(_ context.Context, ids []string, tags []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for _, id := range ids {
		s, ok := m.index[id]
		if !ok {
			continue
		}
		for _, tag := range tags {
			if !slices.Contains(s.Tags, tag) {
				s.Tags = append(s.Tags, tag)
			}
		}
		s.LastModifiedAt = now
		n++
	}
	return n, nil
}
