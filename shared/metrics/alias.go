package metrics

import (
	"sort"

	"github.com/pavitra93/go-shelter-platform/shared/models"
)

// AliasTable resolves historical identifiers to canonical ones. Ids the
// table has never seen resolve to themselves.
type AliasTable struct {
	canonical map[models.AliasKind]map[string]string
}

// NewAliasTable builds a table from stored alias rows
func NewAliasTable(rows ...models.EntityAlias) *AliasTable {
	t := &AliasTable{canonical: make(map[models.AliasKind]map[string]string)}
	for _, row := range rows {
		t.Add(row.Kind, row.CanonicalID, row.Alias)
	}
	return t
}

// Add records aliases for a canonical id. A canonical id that is itself a
// known alias is followed to its target first, so chains collapse.
func (t *AliasTable) Add(kind models.AliasKind, canonical string, aliases ...string) {
	m, ok := t.canonical[kind]
	if !ok {
		m = make(map[string]string)
		t.canonical[kind] = m
	}
	if target, ok := m[canonical]; ok {
		canonical = target
	}
	m[canonical] = canonical
	for _, alias := range aliases {
		if alias == "" {
			continue
		}
		m[alias] = canonical
	}
	// repoint anything that targeted one of the new aliases
	for alias, target := range m {
		for _, a := range aliases {
			if target == a {
				m[alias] = canonical
			}
		}
	}
}

// Resolve returns the canonical id for id
func (t *AliasTable) Resolve(kind models.AliasKind, id string) string {
	if t == nil {
		return id
	}
	if canonical, ok := t.canonical[kind][id]; ok {
		return canonical
	}
	return id
}

// Aliases returns every id that resolves to the canonical form of id,
// including the canonical id, sorted
func (t *AliasTable) Aliases(kind models.AliasKind, id string) []string {
	canonical := t.Resolve(kind, id)
	ids := []string{canonical}
	if t != nil {
		for alias, target := range t.canonical[kind] {
			if target == canonical && alias != canonical {
				ids = append(ids, alias)
			}
		}
	}
	sort.Strings(ids)
	return ids
}
