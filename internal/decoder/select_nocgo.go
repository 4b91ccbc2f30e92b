//go:build !cgo

package decoder

import "fmt"

// LoadOptions configures model and context creation. Mirrors the cgo
// build's type so callers don't need a build-tag switch of their own.
type LoadOptions struct {
	ModelPath   string
	ContextSize int
	Threads     int
	GPULayers   int
}

// NewProductionBackend always fails in a non-cgo build: there is no
// native decoder to bind to. In such a build FakeBackend is the only
// Backend available; the CLI uses it when no model path is configured.
func NewProductionBackend(opts LoadOptions) (Backend, error) {
	return nil, fmt.Errorf("decoder: built without cgo, no native backend available (model %q)", opts.ModelPath)
}
