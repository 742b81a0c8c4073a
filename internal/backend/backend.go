// Package backend picks the compute runtime a run executes on.
package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fxnlabs/clsgemm/internal/compute"
	"github.com/fxnlabs/clsgemm/internal/compute/host"
	"github.com/fxnlabs/clsgemm/internal/compute/native"
	"go.uber.org/zap"
)

const (
	// OpenCL is the system OpenCL ICD loader. Needs a binary built with -tags opencl.
	OpenCL = "opencl"
	// Host is the in-process emulation runtime.
	Host = "host"
	// Auto tries OpenCL first and falls back to Host.
	Auto = "auto"
)

// Names lists the accepted backend names.
var Names = []string{Auto, OpenCL, Host}

// Open returns the runtime named by name. hostOpts configures the host
// runtime when it is chosen; nil means host.DefaultOptions().
func Open(name string, hostOpts *host.Options, logger *zap.Logger) (compute.Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(name) {
	case OpenCL:
		rt, err := native.Open(logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open OpenCL runtime: %w", err)
		}
		logger.Info("Using OpenCL runtime")
		return rt, nil
	case Host:
		logger.Info("Using host emulation runtime")
		return newHost(hostOpts, logger), nil
	case Auto, "":
		rt, err := native.Open(logger)
		if err == nil {
			logger.Info("Using OpenCL runtime")
			return rt, nil
		}
		if errors.Is(err, compute.ErrBackendUnavailable) && !native.Available {
			logger.Info("Using host emulation runtime (compiled without OpenCL support)")
		} else {
			logger.Warn("OpenCL runtime unavailable, falling back to host emulation", zap.Error(err))
		}
		return newHost(hostOpts, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q, want one of %s", name, strings.Join(Names, ", "))
	}
}

func newHost(opts *host.Options, logger *zap.Logger) *host.Runtime {
	if opts == nil {
		o := host.DefaultOptions()
		opts = &o
	}
	return host.New(*opts, logger)
}
