// Package rename holds the rename map of a packet program and the two phases
// that operate on it: building the symbol table from a function body and
// substituting canonical names back into the body.
package rename

import (
	"fmt"
	"sort"
	"strings"
)

// Category says which legend section an entry belongs to.
type Category int

const (
	// State is persistent or indexed program state.
	State Category = iota
	// Packet is a per-packet field: dot-accessed and not indexed.
	Packet
	// Constant is a single-line constant definition; its replacement is the
	// literal value.
	Constant
)

func (c Category) String() string {
	switch c {
	case State:
		return "state"
	case Packet:
		return "packet"
	case Constant:
		return "constant"
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Classify returns Packet for identifiers that contain '.' and no '[', and
// State for everything else.
func Classify(ident string) Category {
	if strings.Contains(ident, ".") && !strings.Contains(ident, "[") {
		return Packet
	}
	return State
}

// Entry is one rename binding.
type Entry struct {
	Original    string
	Replacement string
	Category    Category
	// Index is the sequence number within the category, or -1 for constants.
	Index int
	// Line is the 1-based source line where the original was first seen.
	Line int
}

// DefaultAggregate is the parameter every canonical name hangs off.
const DefaultAggregate = "state_and_packet"

// Map is the rename map of one run. Keys are unique; entries are never
// merged, removed or renumbered once inserted.
type Map struct {
	aggregate string
	entries   map[string]*Entry
	order     []string
	next      map[Category]int
}

// NewMap returns an empty map whose canonical names use aggregate.
func NewMap(aggregate string) *Map {
	if aggregate == "" {
		aggregate = DefaultAggregate
	}
	return &Map{
		aggregate: aggregate,
		entries:   make(map[string]*Entry),
		next:      make(map[Category]int),
	}
}

// Aggregate returns the aggregate parameter name.
func (m *Map) Aggregate() string {
	return m.aggregate
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.order)
}

// Lookup returns the entry for original.
func (m *Map) Lookup(original string) (Entry, bool) {
	e, ok := m.entries[original]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// BindConstant records name -> value. A later definition of the same name
// replaces the earlier value, as the preprocessor would.
func (m *Map) BindConstant(name, value string, line int) {
	if e, ok := m.entries[name]; ok {
		e.Replacement = value
		e.Category = Constant
		e.Index = -1
		e.Line = line
		return
	}
	m.entries[name] = &Entry{
		Original:    name,
		Replacement: value,
		Category:    Constant,
		Index:       -1,
		Line:        line,
	}
	m.order = append(m.order, name)
}

// Insert classifies and numbers original if it is not already present.
// It reports whether a new entry was created.
func (m *Map) Insert(original string, line int) (Entry, bool) {
	if e, ok := m.entries[original]; ok {
		return *e, false
	}
	cat := Classify(original)
	idx := m.next[cat]
	m.next[cat] = idx + 1

	e := &Entry{
		Original:    original,
		Replacement: m.canonical(cat, idx),
		Category:    cat,
		Index:       idx,
		Line:        line,
	}
	m.entries[original] = e
	m.order = append(m.order, original)
	return *e, true
}

func (m *Map) canonical(cat Category, idx int) string {
	if cat == Packet {
		return fmt.Sprintf("%s.pkt_%d", m.aggregate, idx)
	}
	return fmt.Sprintf("%s.state_%d", m.aggregate, idx)
}

// Entries returns all entries in insertion order.
func (m *Map) Entries() []Entry {
	out := make([]Entry, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, *m.entries[k])
	}
	return out
}

// ByCategory returns the entries of one category sorted by original text.
func (m *Map) ByCategory(cat Category) []Entry {
	var out []Entry
	for _, k := range m.order {
		if e := m.entries[k]; e.Category == cat {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Original < out[j].Original
	})
	return out
}

// Count returns the number of entries in cat.
func (m *Map) Count(cat Category) int {
	n := 0
	for _, e := range m.entries {
		if e.Category == cat {
			n++
		}
	}
	return n
}

// LongestFirst returns every key ordered by descending length. Keys of equal
// length are ordered bytewise so the order is stable across runs.
func (m *Map) LongestFirst() []string {
	keys := make([]string, len(m.order))
	copy(keys, m.order)
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}
