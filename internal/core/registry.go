package core

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry maps module IDs to their constructors. The application builds
// one explicitly; there is no package-level registry.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]ModuleInfo
}

// NewRegistry returns a registry holding the given modules.
func NewRegistry(instances ...Module) *Registry {
	r := &Registry{modules: make(map[string]ModuleInfo)}
	for _, m := range instances {
		r.Register(m)
	}
	return r
}

// Register adds a module by instantiating it to read its ModuleInfo.
// It panics if a module with the same ID is already registered or if the
// module info is invalid.
func (r *Registry) Register(instance Module) {
	info := instance.ModuleInfo()
	if info.ID == "" {
		panic("module ID must not be empty")
	}
	if info.New == nil {
		panic(fmt.Sprintf("module %s: New function must not be nil", info.ID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := string(info.ID)
	if _, exists := r.modules[id]; exists {
		panic(fmt.Sprintf("module already registered: %s", id))
	}
	r.modules[id] = info
}

// Get returns the ModuleInfo for the given ID, or false if not found.
func (r *Registry) Get(id string) (ModuleInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.modules[id]
	return info, ok
}

// Modules returns all registered modules sorted by ID.
func (r *Registry) Modules() []ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ModuleInfo, 0, len(r.modules))
	for _, info := range r.modules {
		result = append(result, info)
	}
	slices.SortFunc(result, func(a, b ModuleInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result
}

// ByNamespace returns all modules whose ID starts with the given namespace
// prefix (e.g., "broker" matches "broker.redis").
func (r *Registry) ByNamespace(namespace string) []ModuleInfo {
	prefix := namespace + "."

	var result []ModuleInfo
	for _, info := range r.Modules() {
		if strings.HasPrefix(string(info.ID), prefix) {
			result = append(result, info)
		}
	}
	return result
}
