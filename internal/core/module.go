package core

import "strings"

// ModuleID identifies a module, namespaced with dots ("memory.sqlite").
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ".")
	return ns
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID ModuleID

	// New returns a fresh, unconfigured instance.
	New func() Module
}

// Module is implemented by every module. Lifecycle hooks are optional
// interfaces; see lifecycle.go.
type Module interface {
	ModuleInfo() ModuleInfo
}
