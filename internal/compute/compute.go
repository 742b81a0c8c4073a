// Package compute defines the handle types the SGEMM host driver needs from an
// OpenCL-style compute API.
//
// Two runtimes implement it: the native OpenCL binding (built with the
// "opencl" tag) and a host emulation used for tests and machines without a GPU.
// Every handle returned by these interfaces is owned by the caller and must be
// released exactly once.
package compute

import (
	"fmt"
	"strings"
	"time"
)

// DeviceType is a bit set of device classes, mirroring cl_device_type.
type DeviceType uint64

const (
	DeviceTypeDefault     DeviceType = 1 << 0
	DeviceTypeCPU         DeviceType = 1 << 1
	DeviceTypeGPU         DeviceType = 1 << 2
	DeviceTypeAccelerator DeviceType = 1 << 3
	DeviceTypeCustom      DeviceType = 1 << 4
	DeviceTypeAll         DeviceType = 0xFFFFFFFF
)

// Has reports whether all bits of other are set in t.
func (t DeviceType) Has(other DeviceType) bool {
	return t&other == other
}

func (t DeviceType) String() string {
	if t == DeviceTypeAll {
		return "ALL"
	}
	if t == DeviceTypeCustom {
		// custom devices never combine with another class
		return "CUSTOM"
	}
	var parts []string
	for _, f := range []struct {
		bit  DeviceType
		name string
	}{
		{DeviceTypeCPU, "CPU"},
		{DeviceTypeGPU, "GPU"},
		{DeviceTypeAccelerator, "ACCELERATOR"},
		{DeviceTypeDefault, "DEFAULT"},
	} {
		if t&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("UNKNOWN(%#x)", uint64(t))
	}
	return strings.Join(parts, " | ")
}

// MemFlags mirrors cl_mem_flags.
type MemFlags uint64

const (
	MemReadWrite    MemFlags = 1 << 0
	MemWriteOnly    MemFlags = 1 << 1
	MemReadOnly     MemFlags = 1 << 2
	MemUseHostPtr   MemFlags = 1 << 3
	MemAllocHostPtr MemFlags = 1 << 4
	MemCopyHostPtr  MemFlags = 1 << 5
)

// Has reports whether all bits of other are set in f.
func (f MemFlags) Has(other MemFlags) bool {
	return f&other == other
}

// BuildStatus mirrors cl_build_status.
type BuildStatus int32

const (
	BuildSuccess    BuildStatus = 0
	BuildNone       BuildStatus = -1
	BuildError      BuildStatus = -2
	BuildInProgress BuildStatus = -3
)

func (s BuildStatus) String() string {
	switch s {
	case BuildSuccess:
		return "CL_BUILD_SUCCESS"
	case BuildNone:
		return "CL_BUILD_NONE"
	case BuildError:
		return "CL_BUILD_ERROR"
	case BuildInProgress:
		return "CL_BUILD_IN_PROGRESS"
	default:
		return fmt.Sprintf("CL_BUILD_STATUS(%d)", int32(s))
	}
}

// BuildInfo holds the per-device build diagnostics of a program.
type BuildInfo struct {
	Log     string
	Options string
	Status  BuildStatus
}

// DeviceInfo contains the device properties the driver reports and uses.
type DeviceInfo struct {
	Name                     string
	Vendor                   string
	Version                  string
	DriverVersion            string
	OpenCLCVersion           string
	Type                     DeviceType
	Available                bool
	MaxComputeUnits          int
	MaxClockFrequencyMHz     int
	MaxWorkGroupSize         int
	GlobalMemSize            int64
	LocalMemSize             int64
	MaxMemAllocSize          int64
	ProfilingTimerResolution time.Duration
}

// PlatformInfo describes one platform.
type PlatformInfo struct {
	Name    string
	Vendor  string
	Version string
	Profile string
}

// Runtime is the entry point of a compute API implementation.
type Runtime interface {
	// Name identifies the implementation ("opencl", "host").
	Name() string

	// Platforms enumerates the available platforms in API order.
	Platforms() ([]Platform, error)

	// Close releases anything the runtime itself holds.
	Close() error
}

// Platform is a vendor implementation exposing devices.
type Platform interface {
	Info() PlatformInfo

	// Devices returns the devices matching the type mask. An empty result is
	// not an error.
	Devices(t DeviceType) ([]Device, error)
}

// Device is a compute device. It is not released; its lifetime is the platform's.
type Device interface {
	Info() DeviceInfo

	// NewContext creates a context containing only this device.
	NewContext() (Context, error)
}

// QueueProperties mirrors cl_command_queue_properties.
type QueueProperties uint64

const (
	QueueOutOfOrderExec QueueProperties = 1 << 0
	QueueProfiling      QueueProperties = 1 << 1
)

// Context owns memory objects, programs and queues for its devices.
type Context interface {
	// CreateBuffer allocates size bytes. When flags include MemCopyHostPtr,
	// host is copied into the buffer at creation and must hold size bytes.
	CreateBuffer(flags MemFlags, size int, host []float32) (Buffer, error)

	CreateQueue(dev Device, props QueueProperties) (Queue, error)

	CreateProgram(source string) (Program, error)

	Release() error
}

// Buffer is a device memory region.
type Buffer interface {
	// Size is the allocation size in bytes.
	Size() int
	Flags() MemFlags
	Release() error
}

// Queue is an in-order command queue.
type Queue interface {
	// EnqueueWriteBuffer copies src into buf. With blocking false the call
	// returns once the command is queued and src must stay untouched until
	// the queue is drained.
	EnqueueWriteBuffer(buf Buffer, blocking bool, src []float32) (Event, error)

	// EnqueueReadBuffer copies buf into dst.
	EnqueueReadBuffer(buf Buffer, blocking bool, dst []float32) (Event, error)

	// EnqueueNDRangeKernel launches k over a one or more dimensional range.
	// A nil local lets the implementation pick the work-group size.
	EnqueueNDRangeKernel(k Kernel, global, local []int) (Event, error)

	// Finish blocks until every queued command has completed.
	Finish() error

	Release() error
}

// Program is kernel source compiled for a device.
type Program interface {
	Build(dev Device, options string) error
	BuildInfo(dev Device) (BuildInfo, error)
	CreateKernel(name string) (Kernel, error)
	Release() error
}

// Kernel is a program entry point with bound arguments.
type Kernel interface {
	Name() string
	NumArgs() int
	SetArgUint32(index int, v uint32) error
	SetArgBuffer(index int, b Buffer) error

	// SetArgLocal reserves size bytes of work-group local memory.
	SetArgLocal(index int, size int) error

	Release() error
}

// Event tracks one enqueued command.
type Event interface {
	Wait() error

	// Profile returns the profiling counters. The queue must have been created
	// with QueueProfiling and the command must be complete.
	Profile() (Profile, error)

	Release() error
}

// Profile holds device timestamps in nanoseconds.
type Profile struct {
	Queued uint64
	Submit uint64
	Start  uint64
	End    uint64
}

// Elapsed is the execution time between start and end.
func (p Profile) Elapsed() time.Duration {
	if p.End < p.Start {
		return 0
	}
	return time.Duration(p.End - p.Start)
}

// Float32Size is the byte width of a cl_float.
const Float32Size = 4

// ByteSize returns the byte length of n float32 values.
func ByteSize(n int) int {
	return n * Float32Size
}
