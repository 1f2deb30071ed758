package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Configurable modules receive their section of the modules map before
// Provision. Modules without a section are not configured at all.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner modules apply defaults, open resources and register the
// services later modules look up.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator modules check their provisioned state. Validate runs right
// after Provision and has no side effects.
type Validator interface {
	Validate() error
}

// Starter modules launch listeners and goroutines. Start runs once every
// stage is loaded.
type Starter interface {
	Start() error
}

// Stopper modules release what they hold. Stop runs in reverse load order,
// including for modules that never had a Start.
type Stopper interface {
	Stop(ctx context.Context) error
}
