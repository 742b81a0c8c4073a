package host

import (
	"github.com/fxnlabs/clsgemm/internal/compute"
	"go.uber.org/zap"
)

type clContext struct {
	refcount
	runtime *Runtime
	device  *device
}

func (c *clContext) CreateBuffer(flags compute.MemFlags, size int, host []float32) (compute.Buffer, error) {
	const call = "clCreateBuffer"
	if !c.alive() {
		return nil, compute.NewError(call, compute.InvalidContext)
	}
	if size <= 0 || size%compute.Float32Size != 0 || int64(size) > c.device.spec.MaxMemAllocSize {
		return nil, compute.NewError(call, compute.InvalidBufferSize)
	}
	access := flags & (compute.MemReadWrite | compute.MemReadOnly | compute.MemWriteOnly)
	if access != 0 && access != compute.MemReadWrite && access != compute.MemReadOnly && access != compute.MemWriteOnly {
		return nil, compute.NewError(call, compute.InvalidValue)
	}
	if access == 0 {
		flags |= compute.MemReadWrite
	}

	data := make([]float32, size/compute.Float32Size)
	copyHost := flags.Has(compute.MemCopyHostPtr) || flags.Has(compute.MemUseHostPtr)
	switch {
	case copyHost && compute.ByteSize(len(host)) < size:
		return nil, compute.NewError(call, compute.InvalidHostPtr)
	case !copyHost && host != nil:
		return nil, compute.NewError(call, compute.InvalidHostPtr)
	case copyHost:
		copy(data, host)
	}

	c.runtime.track(func(s *Stats) {
		s.Buffers++
		s.BytesAllocated += int64(size)
		s.LiveObjects++
	})
	c.runtime.logger.Debug("buffer created", zap.Int("bytes", size), zap.Uint64("flags", uint64(flags)))
	return &buffer{runtime: c.runtime, context: c, flags: flags, data: data}, nil
}

func (c *clContext) CreateQueue(dev compute.Device, props compute.QueueProperties) (compute.Queue, error) {
	const call = "clCreateCommandQueue"
	if !c.alive() {
		return nil, compute.NewError(call, compute.InvalidContext)
	}
	d, ok := dev.(*device)
	if !ok || d != c.device {
		return nil, compute.NewError(call, compute.InvalidDevice)
	}
	if props&compute.QueueOutOfOrderExec != 0 {
		return nil, &compute.Error{Call: call, Status: compute.InvalidQueueProperties, Detail: "host queues are in-order"}
	}
	c.runtime.track(func(s *Stats) { s.LiveObjects++ })
	return newQueue(c, props), nil
}

func (c *clContext) CreateProgram(source string) (compute.Program, error) {
	const call = "clCreateProgramWithSource"
	if !c.alive() {
		return nil, compute.NewError(call, compute.InvalidContext)
	}
	if source == "" {
		return nil, compute.NewError(call, compute.InvalidValue)
	}
	c.runtime.track(func(s *Stats) {
		s.Programs++
		s.LiveObjects++
	})
	return &program{runtime: c.runtime, context: c, source: source, status: compute.BuildNone}, nil
}

func (c *clContext) Release() error {
	return c.release(c.runtime, "clReleaseContext", compute.InvalidContext)
}

type buffer struct {
	refcount
	runtime *Runtime
	context *clContext
	flags   compute.MemFlags
	data    []float32
}

func (b *buffer) Size() int {
	return compute.ByteSize(len(b.data))
}

func (b *buffer) Flags() compute.MemFlags {
	return b.flags
}

func (b *buffer) Release() error {
	return b.release(b.runtime, "clReleaseMemObject", compute.InvalidMemObject)
}

// Data exposes the backing store of a host buffer. It is meant for kernel
// implementations and tests.
func Data(b compute.Buffer) ([]float32, bool) {
	hb, ok := b.(*buffer)
	if !ok {
		return nil, false
	}
	return hb.data, true
}
