package manifest

import (
	"encoding/json"
	"os"

	"github.com/robert-at-pretension-io/sk-rewrite/internal/rename"
)

// Tables is the relational view of one rewrite.
// Each slice is a relation (table) with flat rows.
type Tables struct {
	Source       string      `json:"source"`
	Function     FunctionRow `json:"function"`
	Constants    []Row       `json:"constants"`
	PacketFields []Row       `json:"packet_fields"`
	StateFields  []Row       `json:"state_fields"`
	Counts       Counts      `json:"counts"`
}

// FunctionRow locates the rewritten function in the source.
type FunctionRow struct {
	Keyword   string `json:"keyword"`
	Aggregate string `json:"aggregate"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Row is one rename binding.
type Row struct {
	Original  string `json:"original"`
	Canonical string `json:"canonical"`
	Index     int    `json:"index"`
	Line      int    `json:"line"`
}

// Counts are the sizes the target pipeline has to accommodate.
type Counts struct {
	PacketFields int `json:"packet_fields"`
	StateFields  int `json:"state_fields"`
	Constants    int `json:"constants"`
}

// BuildTables flattens a rename map into relations. Rows are ordered by
// original identifier, matching the legend.
func BuildTables(source string, fn FunctionRow, m *rename.Map) Tables {
	tables := emptyTables()
	tables.Source = source
	tables.Function = fn
	tables.Function.Aggregate = m.Aggregate()

	tables.Constants = rows(m, rename.Constant)
	tables.PacketFields = rows(m, rename.Packet)
	tables.StateFields = rows(m, rename.State)

	tables.Counts = Counts{
		PacketFields: len(tables.PacketFields),
		StateFields:  len(tables.StateFields),
		Constants:    len(tables.Constants),
	}
	return tables
}

func rows(m *rename.Map, cat rename.Category) []Row {
	out := []Row{}
	for _, e := range m.ByCategory(cat) {
		out = append(out, Row{
			Original:  e.Original,
			Canonical: e.Replacement,
			Index:     e.Index,
			Line:      e.Line,
		})
	}
	return out
}

// ReadTables decodes a manifest written by WriteJSON.
func ReadTables(path string) (Tables, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tables{}, err
	}
	defer func() { _ = f.Close() }()

	var tables Tables
	if err := json.NewDecoder(f).Decode(&tables); err != nil {
		return Tables{}, err
	}
	return tables, nil
}

// WriteJSON writes data as indented JSON.
func WriteJSON(path string, data interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
