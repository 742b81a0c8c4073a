package sgemm

import (
	"errors"
	"fmt"

	"github.com/fxnlabs/clsgemm/internal/compute"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindOther Kind = iota
	KindDeviceNotFound
	KindBuildFailure
	KindRuntimeDevice
)

func (k Kind) String() string {
	switch k {
	case KindDeviceNotFound:
		return "device_not_found"
	case KindBuildFailure:
		return "build_failure"
	case KindRuntimeDevice:
		return "runtime_device"
	default:
		return "other"
	}
}

var (
	// ErrDeviceNotFound means no platform matched with a GPU-class device.
	ErrDeviceNotFound = errors.New("no matching platform with a GPU device")

	// ErrZeroLocalSize means the device has more compute units than there
	// are rows, so floor(n/units) is zero.
	ErrZeroLocalSize = errors.New("local work-group size is zero")
)

// BuildDiagnostics is what the device compiler reported for a failed build.
type BuildDiagnostics struct {
	Log     string
	Options string
	Status  compute.BuildStatus
}

// Error is a failed pipeline stage.
type Error struct {
	Kind Kind
	// Op is the stage that failed: select, allocate, compile, dispatch, transfer.
	Op  string
	Err error
	// Build is set for KindBuildFailure when diagnostics could be read.
	Build *BuildDiagnostics
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or KindOther.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

func runtimeError(op string, err error) error {
	return &Error{Kind: KindRuntimeDevice, Op: op, Err: err}
}
