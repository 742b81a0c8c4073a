package sgemm

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fxnlabs/clsgemm/internal/compute"
	"github.com/fxnlabs/clsgemm/kernels"
	"go.uber.org/zap"
)

// KernelSource says where kernel source text comes from. Source wins over
// Path; with neither set the embedded default kernel is used.
type KernelSource struct {
	Path   string
	Source string
}

// LoadKernelSource returns the kernel source text.
func LoadKernelSource(src KernelSource) (string, error) {
	switch {
	case src.Source != "":
		return src.Source, nil
	case src.Path != "":
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return "", &Error{Kind: KindOther, Op: "load", Err: fmt.Errorf("failed to read kernel source: %w", err)}
		}
		if len(data) == 0 {
			return "", &Error{Kind: KindOther, Op: "load", Err: fmt.Errorf("kernel source %s is empty", src.Path)}
		}
		return string(data), nil
	default:
		return kernels.SgemmSource, nil
	}
}

// Program is a built program and the kernel created from it.
type Program struct {
	Program compute.Program
	Kernel  compute.Kernel
	Info    compute.BuildInfo
}

// Release frees the kernel, then the program.
func (p *Program) Release() error {
	var errs []error
	if p.Kernel != nil {
		errs = append(errs, p.Kernel.Release())
		p.Kernel = nil
	}
	if p.Program != nil {
		errs = append(errs, p.Program.Release())
		p.Program = nil
	}
	return errors.Join(errs...)
}

// CompileKernel builds source for dev and creates the entry kernel. A failed
// build is returned as KindBuildFailure with the compiler's log, options and
// status attached, and logged at error level.
func CompileKernel(ctx compute.Context, dev compute.Device, source, options, entry string, logger *zap.Logger) (*Program, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	prog, err := ctx.CreateProgram(source)
	if err != nil {
		return nil, runtimeError("compile", err)
	}
	out := &Program{Program: prog}

	buildErr := prog.Build(dev, options)
	info, infoErr := prog.BuildInfo(dev)
	if infoErr == nil {
		out.Info = info
	}
	if buildErr != nil {
		_ = out.Release()
		e := &Error{Kind: KindBuildFailure, Op: "compile", Err: buildErr}
		if infoErr != nil {
			logger.Error("Kernel build failed, diagnostics unavailable", zap.Error(buildErr), zap.NamedError("build_info_error", infoErr))
			return nil, e
		}
		e.Build = &BuildDiagnostics{Log: info.Log, Options: info.Options, Status: info.Status}
		logger.Error("Kernel build failed",
			zap.String("build_log", info.Log),
			zap.String("build_options", info.Options),
			zap.Stringer("build_status", info.Status),
			zap.Error(buildErr))
		return nil, e
	}

	out.Kernel, err = prog.CreateKernel(entry)
	if err != nil {
		_ = out.Release()
		return nil, &Error{Kind: KindBuildFailure, Op: "compile", Err: fmt.Errorf("kernel %q: %w", entry, err)}
	}
	logger.Debug("Kernel built", zap.String("entry", entry), zap.String("options", info.Options))
	return out, nil
}

// WithDimDefine appends -DK_DIM=k to options unless they already define
// K_DIM.
func WithDimDefine(options string, k int) string {
	fields := strings.Fields(options)
	for i, f := range fields {
		name := strings.TrimPrefix(f, "-D")
		if f == "-D" && i+1 < len(fields) {
			name = fields[i+1]
		} else if name == f {
			continue
		}
		if name == "K_DIM" || strings.HasPrefix(name, "K_DIM=") {
			return options
		}
	}
	def := "-DK_DIM=" + strconv.Itoa(k)
	if strings.TrimSpace(options) == "" {
		return def
	}
	return strings.TrimSpace(options) + " " + def
}
