package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	registry   = make(map[string]Migration)
	registryMu sync.RWMutex
)

// NormalizeVersion turns a version string into a migration identifier by
// replacing each '.' with '_': "v1.0b7" becomes "v1_0b7".
func NormalizeVersion(version string) string {
	return strings.ReplaceAll(strings.TrimSpace(version), ".", "_")
}

// Register adds a migration to the registry under its normalized version.
// Panics if the version is empty or already registered.
func Register(m Migration) {
	registryMu.Lock()
	defer registryMu.Unlock()

	id := NormalizeVersion(m.Version())
	if id == "" {
		panic("migration registered without a version")
	}
	if _, exists := registry[id]; exists {
		panic(fmt.Sprintf("migration already registered: %s", m.Version()))
	}

	registry[id] = m
}

// Lookup returns the migration registered for version.
// Returns false if not found.
func Lookup(version string) (Migration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	m, ok := registry[NormalizeVersion(version)]
	return m, ok
}

// All returns all registered migrations sorted by identifier.
func All() []Migration {
	registryMu.RLock()
	defer registryMu.RUnlock()

	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]Migration, len(ids))
	for i, id := range ids {
		result[i] = registry[id]
	}
	return result
}

// Versions returns the versions of all registered migrations.
func Versions() []string {
	all := All()
	versions := make([]string, len(all))
	for i, m := range all {
		versions[i] = m.Version()
	}
	return versions
}

// Clear removes all registered migrations.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Migration)
}
