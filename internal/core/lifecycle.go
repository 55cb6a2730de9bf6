package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// ModuleID uniquely names a module (e.g. "gateway.bridge", "node.bridge").
type ModuleID string

// ModuleInfo describes a registered module: its ID and a constructor for
// fresh instances.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}

// Module is the minimal interface every module implements. Lifecycle
// behaviour is added through the optional interfaces below.
type Module interface {
	ModuleInfo() ModuleInfo
}

// Configurable is implemented by modules that accept YAML configuration.
// Called after instantiation and before Provision(). The node contains the
// raw YAML for this module's config section.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner is implemented by modules that need setup after instantiation.
// This is where modules should set defaults, validate raw config, and
// register services on the AppContext.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator is implemented by modules that can verify their configuration
// is complete and correct. Called after Provision(). Validate should be
// read-only.
type Validator interface {
	Validate() error
}

// Starter is implemented by modules that need to start background work
// (goroutines, listeners, connections). Called after all modules are
// provisioned and validated.
type Starter interface {
	Start() error
}

// Stopper is implemented by modules that need to clean up resources.
// Called during shutdown in reverse order of Start().
type Stopper interface {
	Stop(ctx context.Context) error
}
