package ingest

// Mapping is an ordered field name -> value collection for one
// sub-record. It remembers which fields the extractor actually found,
// so an empty value and a missing element on the page stay
// distinguishable downstream.
type Mapping struct {
	keys   []string
	values map[string]string
}

func NewMapping() *Mapping {
	return &Mapping{values: map[string]string{}}
}

// MappingOf builds a mapping from alternating field, value pairs.
// Mostly useful in tests.
func MappingOf(pairs ...string) *Mapping {
	m := NewMapping()
	for i := 0; i+1 < len(pairs); i += 2 {
		m.Set(pairs[i], pairs[i+1])
	}
	return m
}

// Set records a field value, keeping first-insertion order on repeat
// assignment.
func (m *Mapping) Set(field, value string) {
	if _, ok := m.values[field]; !ok {
		m.keys = append(m.keys, field)
	}
	m.values[field] = value
}

// Get returns the value and whether the field was present at all.
func (m *Mapping) Get(field string) (string, bool) {
	v, ok := m.values[field]
	return v, ok
}

// Value returns the field value, or "" when the field is absent.
func (m *Mapping) Value(field string) string {
	return m.values[field]
}

func (m *Mapping) Has(field string) bool {
	_, ok := m.values[field]
	return ok
}

func (m *Mapping) Len() int {
	return len(m.keys)
}

// Fields returns the field names in insertion order.
func (m *Mapping) Fields() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}
