// Package host implements compute.Runtime on the host CPU.
//
// It emulates the parts of an OpenCL platform the SGEMM driver touches:
// platform and device enumeration, contexts, buffers, an in-order profiling
// queue, program "builds" that check kernel source structure, and kernels
// backed by registered Go implementations. Machines without an OpenCL driver
// use it, and so do the tests.
package host

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxnlabs/clsgemm/internal/compute"
	"github.com/klauspost/cpuid/v2"
	"go.uber.org/zap"
)

// RuntimeName identifies the host runtime.
const RuntimeName = "host"

// DeviceSpec describes an emulated device.
type DeviceSpec struct {
	Name             string
	Vendor           string
	Type             compute.DeviceType
	ComputeUnits     int
	ClockMHz         int
	MaxWorkGroupSize int
	GlobalMemSize    int64
	LocalMemSize     int64
	MaxMemAllocSize  int64
}

// PlatformSpec describes an emulated platform and its devices.
type PlatformSpec struct {
	Name    string
	Vendor  string
	Version string
	Devices []DeviceSpec
}

// Options configures a Runtime.
type Options struct {
	Platforms []PlatformSpec

	// Kernels maps entry point names to their Go implementations.
	Kernels map[string]KernelImpl
}

// Stats counts objects created through a Runtime.
type Stats struct {
	Contexts       int64
	Buffers        int64
	BytesAllocated int64
	Programs       int64
	Kernels        int64
	Launches       int64
	LiveObjects    int64
}

// DefaultOptions describes one platform with a single GPU-class device backed
// by the host CPU.
func DefaultOptions() Options {
	units := cpuid.CPU.LogicalCores
	if units <= 0 {
		units = runtime.NumCPU()
	}
	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = runtime.GOARCH
	}
	return Options{
		Platforms: []PlatformSpec{{
			Name:    "Host Emulation Platform",
			Vendor:  "clsgemm",
			Version: "OpenCL 2.0 host",
			Devices: []DeviceSpec{{
				Name:             fmt.Sprintf("Emulated GPU (%s)", brand),
				Vendor:           cpuid.CPU.VendorString,
				Type:             compute.DeviceTypeGPU,
				ComputeUnits:     units,
				ClockMHz:         int(cpuid.CPU.Hz / 1_000_000),
				MaxWorkGroupSize: 8192,
				GlobalMemSize:    8 << 30,
				LocalMemSize:     64 << 10,
				MaxMemAllocSize:  2 << 30,
			}},
		}},
		Kernels: DefaultKernels(),
	}
}

// Runtime is the host compute.Runtime.
type Runtime struct {
	logger    *zap.Logger
	platforms []*platform
	kernels   map[string]KernelImpl
	epoch     time.Time

	mu     sync.Mutex
	closed bool
	stats  Stats
}

// New creates a host runtime.
func New(opts Options, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runtime{
		logger:  logger.Named("host"),
		kernels: opts.Kernels,
		epoch:   time.Now(),
	}
	if r.kernels == nil {
		r.kernels = DefaultKernels()
	}
	for _, ps := range opts.Platforms {
		p := &platform{spec: ps}
		for _, ds := range ps.Devices {
			p.devices = append(p.devices, &device{runtime: r, platform: p, spec: withDeviceDefaults(ds)})
		}
		r.platforms = append(r.platforms, p)
	}
	return r
}

func withDeviceDefaults(ds DeviceSpec) DeviceSpec {
	if ds.ComputeUnits <= 0 {
		ds.ComputeUnits = 1
	}
	if ds.MaxWorkGroupSize <= 0 {
		ds.MaxWorkGroupSize = 1024
	}
	if ds.LocalMemSize <= 0 {
		ds.LocalMemSize = 32 << 10
	}
	if ds.GlobalMemSize <= 0 {
		ds.GlobalMemSize = 1 << 30
	}
	if ds.MaxMemAllocSize <= 0 {
		ds.MaxMemAllocSize = ds.GlobalMemSize / 4
	}
	return ds
}

func (r *Runtime) Name() string {
	return RuntimeName
}

// Platforms returns the configured platforms in declaration order.
func (r *Runtime) Platforms() ([]compute.Platform, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, &compute.Error{Call: "clGetPlatformIDs", Status: compute.PlatformNotFoundKHR, Detail: "runtime closed"}
	}
	out := make([]compute.Platform, 0, len(r.platforms))
	for _, p := range r.platforms {
		out = append(out, p)
	}
	return out, nil
}

// Close marks the runtime closed. Objects still alive are reported.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.stats.LiveObjects != 0 {
		r.logger.Warn("host runtime closed with live objects", zap.Int64("live_objects", r.stats.LiveObjects))
	}
	return nil
}

// Stats returns a snapshot of the object counters.
func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Runtime) track(update func(*Stats)) {
	r.mu.Lock()
	update(&r.stats)
	r.mu.Unlock()
}

// now is the device clock in nanoseconds since the runtime was created.
func (r *Runtime) now() uint64 {
	return uint64(time.Since(r.epoch).Nanoseconds())
}

type platform struct {
	spec    PlatformSpec
	devices []*device
}

func (p *platform) Info() compute.PlatformInfo {
	return compute.PlatformInfo{
		Name:    p.spec.Name,
		Vendor:  p.spec.Vendor,
		Version: p.spec.Version,
		Profile: "FULL_PROFILE",
	}
}

func (p *platform) Devices(t compute.DeviceType) ([]compute.Device, error) {
	var out []compute.Device
	for _, d := range p.devices {
		if t == compute.DeviceTypeAll || d.spec.Type&t != 0 {
			out = append(out, d)
		}
	}
	return out, nil
}

type device struct {
	runtime  *Runtime
	platform *platform
	spec     DeviceSpec
}

func (d *device) Info() compute.DeviceInfo {
	return compute.DeviceInfo{
		Name:                     d.spec.Name,
		Vendor:                   d.spec.Vendor,
		Version:                  d.platform.spec.Version,
		DriverVersion:            runtime.Version(),
		OpenCLCVersion:           "OpenCL C 2.0",
		Type:                     d.spec.Type,
		Available:                true,
		MaxComputeUnits:          d.spec.ComputeUnits,
		MaxClockFrequencyMHz:     d.spec.ClockMHz,
		MaxWorkGroupSize:         d.spec.MaxWorkGroupSize,
		GlobalMemSize:            d.spec.GlobalMemSize,
		LocalMemSize:             d.spec.LocalMemSize,
		MaxMemAllocSize:          d.spec.MaxMemAllocSize,
		ProfilingTimerResolution: time.Nanosecond,
	}
}

func (d *device) NewContext() (compute.Context, error) {
	d.runtime.track(func(s *Stats) {
		s.Contexts++
		s.LiveObjects++
	})
	return &clContext{runtime: d.runtime, device: d}, nil
}

// refcount guards single release of an emulated object.
type refcount struct {
	released atomic.Bool
}

func (rc *refcount) release(r *Runtime, call string, status compute.Status) error {
	if !rc.released.CompareAndSwap(false, true) {
		return compute.NewError(call, status)
	}
	r.track(func(s *Stats) { s.LiveObjects-- })
	return nil
}

func (rc *refcount) alive() bool {
	return !rc.released.Load()
}
