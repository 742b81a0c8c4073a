//go:build !opencl
// +build !opencl

// Package native binds compute.Runtime to the system OpenCL ICD loader. This
// build carries no binding; rebuild with -tags opencl.
package native

import (
	"github.com/fxnlabs/clsgemm/internal/compute"
	"go.uber.org/zap"
)

// Available reports whether this build carries the OpenCL binding.
const Available = false

// Runtime is a placeholder so callers compile without the opencl tag.
type Runtime struct {
	compute.Runtime
}

// Open always fails with compute.ErrBackendUnavailable.
func Open(logger *zap.Logger) (*Runtime, error) {
	return nil, compute.ErrBackendUnavailable
}
