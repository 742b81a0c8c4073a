// Package kernels provides the OpenCL C sources shipped with clsgemm.
package kernels

import _ "embed"

// SgemmEntryPoint is the kernel function name in SgemmSource.
const SgemmEntryPoint = "Sgemm"

// SgemmSource is the default SGEMM kernel. Its private row buffer is sized
// by the K_DIM macro, which must be at least k.
//
//go:embed sgemm.cl
var SgemmSource string
