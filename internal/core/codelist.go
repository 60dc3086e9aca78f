package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"

	"github.com/JonMunkholm/wis2box-migrate/internal/failure"
)

// CodelistSet is the immutable set of mapping tables used by one run.
// Both migrators share it read-only.
type CodelistSet struct {
	names []string
	lists map[string]Codelist
}

// NewCodelistSet builds a set from in-memory tables. Names without a table
// behave as empty codelists.
func NewCodelistSet(names []string, lists map[string]Codelist) *CodelistSet {
	s := &CodelistSet{
		names: append([]string(nil), names...),
		lists: make(map[string]Codelist, len(names)),
	}
	for _, name := range names {
		s.lists[name] = maps.Clone(lists[name])
	}
	return s
}

// LoadCodelists reads <name>.json from fsys for every name. It is all or
// nothing: the first missing or malformed table fails the whole load with
// failure.ResourceNotFound.
func LoadCodelists(fsys fs.FS, names []string) (*CodelistSet, error) {
	lists := make(map[string]Codelist, len(names))

	for _, name := range names {
		resource := name + ".json"

		data, err := fs.ReadFile(fsys, resource)
		if err != nil {
			return nil, failure.New(failure.ResourceNotFound, resource, err)
		}

		var list Codelist
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, failure.New(failure.ResourceNotFound, resource, fmt.Errorf("malformed codelist: %w", err))
		}
		if list == nil {
			return nil, failure.New(failure.ResourceNotFound, resource, errors.New("malformed codelist: not an object"))
		}

		lists[name] = list
	}

	return &CodelistSet{names: append([]string(nil), names...), lists: lists}, nil
}

// Names returns the codelist names in load order.
func (s *CodelistSet) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of entries in the named codelist.
func (s *CodelistSet) Len(name string) int {
	return len(s.lists[name])
}

// Has reports whether name is a known codelist.
func (s *CodelistSet) Has(name string) bool {
	_, ok := s.lists[name]
	return ok
}

// Lookup maps value through the named codelist. Values without an entry,
// including values that were already migrated, come back unchanged. This
// identity fallback is what makes re-running a migration a no-op.
func (s *CodelistSet) Lookup(name, value string) string {
	if mapped, ok := s.lists[name][value]; ok {
		return mapped
	}
	return value
}

// MissingColumns returns the codelists that have no column in header.
func (s *CodelistSet) MissingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[col] = true
	}

	var missing []string
	for _, name := range s.names {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// ApplyRow returns a copy of row with every codelist column rewritten.
// Other columns, and the column order, are untouched.
func (s *CodelistSet) ApplyRow(header, row []string) []string {
	out := append([]string(nil), row...)
	for i, col := range header {
		if i >= len(out) || !s.Has(col) {
			continue
		}
		out[i] = s.Lookup(col, out[i])
	}
	return out
}

// ApplyFields returns a shallow copy of fields with every codelist field
// rewritten, plus the codelists the record does not carry. Only string
// values are mapped; nested values are shared with the input, not copied,
// and never modified.
func (s *CodelistSet) ApplyFields(fields map[string]any) (map[string]any, []string) {
	out := maps.Clone(fields)
	if out == nil {
		out = make(map[string]any)
	}

	var missing []string
	for _, name := range s.names {
		v, ok := fields[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if str, ok := v.(string); ok {
			out[name] = s.Lookup(name, str)
		}
	}
	return out, missing
}
