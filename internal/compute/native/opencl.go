//go:build opencl
// +build opencl

// Package native binds compute.Runtime to the system OpenCL ICD loader.
package native

/*
#cgo linux LDFLAGS: -lOpenCL
#cgo windows LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL

#define CL_TARGET_OPENCL_VERSION 120
#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/fxnlabs/clsgemm/internal/compute"
	"go.uber.org/zap"
)

// Available reports whether this build carries the OpenCL binding.
const Available = true

// Runtime is the OpenCL compute.Runtime.
type Runtime struct {
	logger *zap.Logger
}

// Open checks that an ICD loader answers and returns the runtime.
func Open(logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var count C.cl_uint
	status := C.clGetPlatformIDs(0, nil, &count)
	if status != C.CL_SUCCESS {
		return nil, fmt.Errorf("%w: %v", compute.ErrBackendUnavailable, compute.NewError("clGetPlatformIDs", compute.Status(status)))
	}
	r := &Runtime{logger: logger.Named("native")}
	r.logger.Debug("OpenCL runtime opened", zap.Uint32("platforms", uint32(count)))
	return r, nil
}

func (r *Runtime) Name() string {
	return "opencl"
}

func (r *Runtime) Platforms() ([]compute.Platform, error) {
	var count C.cl_uint
	if err := check("clGetPlatformIDs", C.clGetPlatformIDs(0, nil, &count)); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	ids := make([]C.cl_platform_id, count)
	if err := check("clGetPlatformIDs", C.clGetPlatformIDs(count, &ids[0], nil)); err != nil {
		return nil, err
	}
	out := make([]compute.Platform, 0, len(ids))
	for _, id := range ids {
		out = append(out, &platform{id: id, logger: r.logger})
	}
	return out, nil
}

func (r *Runtime) Close() error {
	return nil
}

func check(call string, status C.cl_int) error {
	return compute.NewError(call, compute.Status(status))
}

type platform struct {
	id     C.cl_platform_id
	logger *zap.Logger
}

func (p *platform) info(param C.cl_platform_info) string {
	var size C.size_t
	if C.clGetPlatformInfo(p.id, param, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return ""
	}
	buf := make([]byte, size)
	if C.clGetPlatformInfo(p.id, param, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return ""
	}
	return C.GoStringN((*C.char)(unsafe.Pointer(&buf[0])), C.int(size-1))
}

func (p *platform) Info() compute.PlatformInfo {
	return compute.PlatformInfo{
		Name:    p.info(C.CL_PLATFORM_NAME),
		Vendor:  p.info(C.CL_PLATFORM_VENDOR),
		Version: p.info(C.CL_PLATFORM_VERSION),
		Profile: p.info(C.CL_PLATFORM_PROFILE),
	}
}

func (p *platform) Devices(t compute.DeviceType) ([]compute.Device, error) {
	var count C.cl_uint
	status := C.clGetDeviceIDs(p.id, C.cl_device_type(t), 0, nil, &count)
	if status == C.CL_DEVICE_NOT_FOUND {
		return nil, nil
	}
	if err := check("clGetDeviceIDs", status); err != nil {
		return nil, err
	}
	ids := make([]C.cl_device_id, count)
	if err := check("clGetDeviceIDs", C.clGetDeviceIDs(p.id, C.cl_device_type(t), count, &ids[0], nil)); err != nil {
		return nil, err
	}
	out := make([]compute.Device, 0, len(ids))
	for _, id := range ids {
		out = append(out, &device{id: id, logger: p.logger})
	}
	return out, nil
}

type device struct {
	id     C.cl_device_id
	logger *zap.Logger
}

func (d *device) str(param C.cl_device_info) string {
	var size C.size_t
	if C.clGetDeviceInfo(d.id, param, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return ""
	}
	buf := make([]byte, size)
	if C.clGetDeviceInfo(d.id, param, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return ""
	}
	return C.GoStringN((*C.char)(unsafe.Pointer(&buf[0])), C.int(size-1))
}

func (d *device) uint(param C.cl_device_info) uint64 {
	var v C.cl_uint
	if C.clGetDeviceInfo(d.id, param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v), nil) != C.CL_SUCCESS {
		return 0
	}
	return uint64(v)
}

func (d *device) ulong(param C.cl_device_info) uint64 {
	var v C.cl_ulong
	if C.clGetDeviceInfo(d.id, param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v), nil) != C.CL_SUCCESS {
		return 0
	}
	return uint64(v)
}

func (d *device) sizeT(param C.cl_device_info) uint64 {
	var v C.size_t
	if C.clGetDeviceInfo(d.id, param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v), nil) != C.CL_SUCCESS {
		return 0
	}
	return uint64(v)
}

func (d *device) Info() compute.DeviceInfo {
	var typ C.cl_device_type
	C.clGetDeviceInfo(d.id, C.CL_DEVICE_TYPE, C.size_t(unsafe.Sizeof(typ)), unsafe.Pointer(&typ), nil)
	var avail C.cl_bool
	C.clGetDeviceInfo(d.id, C.CL_DEVICE_AVAILABLE, C.size_t(unsafe.Sizeof(avail)), unsafe.Pointer(&avail), nil)
	return compute.DeviceInfo{
		Name:                     d.str(C.CL_DEVICE_NAME),
		Vendor:                   d.str(C.CL_DEVICE_VENDOR),
		Version:                  d.str(C.CL_DEVICE_VERSION),
		DriverVersion:            d.str(C.CL_DRIVER_VERSION),
		OpenCLCVersion:           d.str(C.CL_DEVICE_OPENCL_C_VERSION),
		Type:                     compute.DeviceType(typ),
		Available:                avail == C.CL_TRUE,
		MaxComputeUnits:          int(d.uint(C.CL_DEVICE_MAX_COMPUTE_UNITS)),
		MaxClockFrequencyMHz:     int(d.uint(C.CL_DEVICE_MAX_CLOCK_FREQUENCY)),
		MaxWorkGroupSize:         int(d.sizeT(C.CL_DEVICE_MAX_WORK_GROUP_SIZE)),
		GlobalMemSize:            int64(d.ulong(C.CL_DEVICE_GLOBAL_MEM_SIZE)),
		LocalMemSize:             int64(d.ulong(C.CL_DEVICE_LOCAL_MEM_SIZE)),
		MaxMemAllocSize:          int64(d.ulong(C.CL_DEVICE_MAX_MEM_ALLOC_SIZE)),
		ProfilingTimerResolution: time.Duration(d.sizeT(C.CL_DEVICE_PROFILING_TIMER_RESOLUTION)),
	}
}

func (d *device) NewContext() (compute.Context, error) {
	var status C.cl_int
	ctx := C.clCreateContext(nil, 1, &d.id, nil, nil, &status)
	if err := check("clCreateContext", status); err != nil {
		return nil, err
	}
	return &clContext{id: ctx, logger: d.logger}, nil
}

type clContext struct {
	id     C.cl_context
	logger *zap.Logger
}

func (c *clContext) CreateBuffer(flags compute.MemFlags, size int, host []float32) (compute.Buffer, error) {
	var hostPtr unsafe.Pointer
	if flags.Has(compute.MemCopyHostPtr) || flags.Has(compute.MemUseHostPtr) {
		if compute.ByteSize(len(host)) < size {
			return nil, compute.NewError("clCreateBuffer", compute.InvalidHostPtr)
		}
		hostPtr = unsafe.Pointer(&host[0])
	}
	var status C.cl_int
	mem := C.clCreateBuffer(c.id, C.cl_mem_flags(flags), C.size_t(size), hostPtr, &status)
	if err := check("clCreateBuffer", status); err != nil {
		return nil, err
	}
	return &buffer{id: mem, size: size, flags: flags}, nil
}

func (c *clContext) CreateQueue(dev compute.Device, props compute.QueueProperties) (compute.Queue, error) {
	d, ok := dev.(*device)
	if !ok {
		return nil, compute.NewError("clCreateCommandQueue", compute.InvalidDevice)
	}
	var status C.cl_int
	q := C.clCreateCommandQueue(c.id, d.id, C.cl_command_queue_properties(props), &status)
	if err := check("clCreateCommandQueue", status); err != nil {
		return nil, err
	}
	return &queue{id: q}, nil
}

func (c *clContext) CreateProgram(source string) (compute.Program, error) {
	src := C.CString(source)
	defer C.free(unsafe.Pointer(src))
	length := C.size_t(len(source))
	var status C.cl_int
	prog := C.clCreateProgramWithSource(c.id, 1, &src, &length, &status)
	if err := check("clCreateProgramWithSource", status); err != nil {
		return nil, err
	}
	return &program{id: prog}, nil
}

func (c *clContext) Release() error {
	return check("clReleaseContext", C.clReleaseContext(c.id))
}

type buffer struct {
	id    C.cl_mem
	size  int
	flags compute.MemFlags
}

func (b *buffer) Size() int               { return b.size }
func (b *buffer) Flags() compute.MemFlags { return b.flags }

func (b *buffer) Release() error {
	return check("clReleaseMemObject", C.clReleaseMemObject(b.id))
}

// queue pins host slices handed to non-blocking transfers until Finish.
type queue struct {
	id C.cl_command_queue

	mu     sync.Mutex
	pinner runtime.Pinner
}

func (q *queue) pin(data []float32) {
	q.mu.Lock()
	q.pinner.Pin(&data[0])
	q.mu.Unlock()
}

func (q *queue) EnqueueWriteBuffer(b compute.Buffer, blocking bool, src []float32) (compute.Event, error) {
	nb, ok := b.(*buffer)
	if !ok || len(src) == 0 {
		return nil, compute.NewError("clEnqueueWriteBuffer", compute.InvalidValue)
	}
	if !blocking {
		q.pin(src)
	}
	var ev C.cl_event
	status := C.clEnqueueWriteBuffer(q.id, nb.id, clBool(blocking), 0, C.size_t(compute.ByteSize(len(src))),
		unsafe.Pointer(&src[0]), 0, nil, &ev)
	if err := check("clEnqueueWriteBuffer", status); err != nil {
		return nil, err
	}
	return &event{id: ev}, nil
}

func (q *queue) EnqueueReadBuffer(b compute.Buffer, blocking bool, dst []float32) (compute.Event, error) {
	nb, ok := b.(*buffer)
	if !ok || len(dst) == 0 {
		return nil, compute.NewError("clEnqueueReadBuffer", compute.InvalidValue)
	}
	if !blocking {
		q.pin(dst)
	}
	var ev C.cl_event
	status := C.clEnqueueReadBuffer(q.id, nb.id, clBool(blocking), 0, C.size_t(compute.ByteSize(len(dst))),
		unsafe.Pointer(&dst[0]), 0, nil, &ev)
	if err := check("clEnqueueReadBuffer", status); err != nil {
		return nil, err
	}
	return &event{id: ev}, nil
}

func (q *queue) EnqueueNDRangeKernel(k compute.Kernel, global, local []int) (compute.Event, error) {
	nk, ok := k.(*kernel)
	if !ok || len(global) == 0 || len(global) > 3 || (local != nil && len(local) != len(global)) {
		return nil, compute.NewError("clEnqueueNDRangeKernel", compute.InvalidValue)
	}
	dims := C.cl_uint(len(global))
	globalC := (*C.size_t)(C.malloc(C.size_t(len(global)) * C.size_t(unsafe.Sizeof(C.size_t(0)))))
	defer C.free(unsafe.Pointer(globalC))
	gs := unsafe.Slice(globalC, len(global))
	for i, v := range global {
		gs[i] = C.size_t(v)
	}
	var localC *C.size_t
	if local != nil {
		localC = (*C.size_t)(C.malloc(C.size_t(len(local)) * C.size_t(unsafe.Sizeof(C.size_t(0)))))
		defer C.free(unsafe.Pointer(localC))
		ls := unsafe.Slice(localC, len(local))
		for i, v := range local {
			ls[i] = C.size_t(v)
		}
	}
	var ev C.cl_event
	status := C.clEnqueueNDRangeKernel(q.id, nk.id, dims, nil, globalC, localC, 0, nil, &ev)
	if err := check("clEnqueueNDRangeKernel", status); err != nil {
		return nil, err
	}
	return &event{id: ev}, nil
}

func (q *queue) Finish() error {
	err := check("clFinish", C.clFinish(q.id))
	q.mu.Lock()
	q.pinner.Unpin()
	q.mu.Unlock()
	return err
}

func (q *queue) Release() error {
	err := check("clReleaseCommandQueue", C.clReleaseCommandQueue(q.id))
	q.mu.Lock()
	q.pinner.Unpin()
	q.mu.Unlock()
	return err
}

type program struct {
	id C.cl_program
}

func (p *program) Build(dev compute.Device, options string) error {
	d, ok := dev.(*device)
	if !ok {
		return compute.NewError("clBuildProgram", compute.InvalidDevice)
	}
	opts := C.CString(options)
	defer C.free(unsafe.Pointer(opts))
	return check("clBuildProgram", C.clBuildProgram(p.id, 1, &d.id, opts, nil, nil))
}

func (p *program) buildString(d *device, param C.cl_program_build_info) (string, error) {
	var size C.size_t
	if err := check("clGetProgramBuildInfo", C.clGetProgramBuildInfo(p.id, d.id, param, 0, nil, &size)); err != nil {
		return "", err
	}
	if size <= 1 {
		return "", nil
	}
	buf := make([]byte, size)
	if err := check("clGetProgramBuildInfo", C.clGetProgramBuildInfo(p.id, d.id, param, size, unsafe.Pointer(&buf[0]), nil)); err != nil {
		return "", err
	}
	return string(buf[:size-1]), nil
}

func (p *program) BuildInfo(dev compute.Device) (compute.BuildInfo, error) {
	d, ok := dev.(*device)
	if !ok {
		return compute.BuildInfo{}, compute.NewError("clGetProgramBuildInfo", compute.InvalidDevice)
	}
	log, err := p.buildString(d, C.CL_PROGRAM_BUILD_LOG)
	if err != nil {
		return compute.BuildInfo{}, err
	}
	options, err := p.buildString(d, C.CL_PROGRAM_BUILD_OPTIONS)
	if err != nil {
		return compute.BuildInfo{}, err
	}
	var status C.cl_build_status
	if err := check("clGetProgramBuildInfo", C.clGetProgramBuildInfo(p.id, d.id, C.CL_PROGRAM_BUILD_STATUS,
		C.size_t(unsafe.Sizeof(status)), unsafe.Pointer(&status), nil)); err != nil {
		return compute.BuildInfo{}, err
	}
	return compute.BuildInfo{Log: log, Options: options, Status: compute.BuildStatus(status)}, nil
}

func (p *program) CreateKernel(name string) (compute.Kernel, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var status C.cl_int
	k := C.clCreateKernel(p.id, cname, &status)
	if err := check("clCreateKernel", status); err != nil {
		return nil, err
	}
	var nargs C.cl_uint
	C.clGetKernelInfo(k, C.CL_KERNEL_NUM_ARGS, C.size_t(unsafe.Sizeof(nargs)), unsafe.Pointer(&nargs), nil)
	return &kernel{id: k, name: name, nargs: int(nargs)}, nil
}

func (p *program) Release() error {
	return check("clReleaseProgram", C.clReleaseProgram(p.id))
}

type kernel struct {
	id    C.cl_kernel
	name  string
	nargs int
}

func (k *kernel) Name() string { return k.name }
func (k *kernel) NumArgs() int { return k.nargs }

func (k *kernel) SetArgUint32(index int, v uint32) error {
	cv := C.cl_uint(v)
	return check("clSetKernelArg", C.clSetKernelArg(k.id, C.cl_uint(index), C.size_t(unsafe.Sizeof(cv)), unsafe.Pointer(&cv)))
}

func (k *kernel) SetArgBuffer(index int, b compute.Buffer) error {
	nb, ok := b.(*buffer)
	if !ok {
		return compute.NewError("clSetKernelArg", compute.InvalidMemObject)
	}
	mem := nb.id
	return check("clSetKernelArg", C.clSetKernelArg(k.id, C.cl_uint(index), C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem)))
}

func (k *kernel) SetArgLocal(index int, size int) error {
	return check("clSetKernelArg", C.clSetKernelArg(k.id, C.cl_uint(index), C.size_t(size), nil))
}

func (k *kernel) Release() error {
	return check("clReleaseKernel", C.clReleaseKernel(k.id))
}

type event struct {
	id C.cl_event
}

func (e *event) Wait() error {
	return check("clWaitForEvents", C.clWaitForEvents(1, &e.id))
}

func (e *event) counter(param C.cl_profiling_info) (uint64, error) {
	var v C.cl_ulong
	status := C.clGetEventProfilingInfo(e.id, param, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v), nil)
	return uint64(v), check("clGetEventProfilingInfo", status)
}

func (e *event) Profile() (compute.Profile, error) {
	var p compute.Profile
	var err error
	if p.Queued, err = e.counter(C.CL_PROFILING_COMMAND_QUEUED); err != nil {
		return compute.Profile{}, err
	}
	if p.Submit, err = e.counter(C.CL_PROFILING_COMMAND_SUBMIT); err != nil {
		return compute.Profile{}, err
	}
	if p.Start, err = e.counter(C.CL_PROFILING_COMMAND_START); err != nil {
		return compute.Profile{}, err
	}
	if p.End, err = e.counter(C.CL_PROFILING_COMMAND_END); err != nil {
		return compute.Profile{}, err
	}
	return p, nil
}

func (e *event) Release() error {
	return check("clReleaseEvent", C.clReleaseEvent(e.id))
}

func clBool(b bool) C.cl_bool {
	if b {
		return C.CL_TRUE
	}
	return C.CL_FALSE
}
