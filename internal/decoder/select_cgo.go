//go:build cgo

package decoder

// NewProductionBackend loads the real llama.cpp-backed Backend. Present
// only in cgo builds; non-cgo builds get NewProductionBackend from
// select_nocgo.go, which always errors.
func NewProductionBackend(opts LoadOptions) (Backend, error) {
	return NewCGOBackend(opts)
}
