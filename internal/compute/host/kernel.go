package host

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/fxnlabs/clsgemm/internal/compute"
	"golang.org/x/sync/errgroup"
)

// ArgKind tells which field of an Arg is set.
type ArgKind int

const (
	ArgUnset ArgKind = iota
	ArgUint32
	ArgBuffer
	ArgLocal
)

// Arg is a bound kernel argument.
type Arg struct {
	Kind   ArgKind
	Uint32 uint32
	// Buffer is the backing store of a global buffer argument.
	Buffer []float32
	// LocalBytes is the requested local memory size. During execution Local
	// holds the work-group's own scratch of that size.
	LocalBytes int
	Local      []float32
}

// NDRange is a one-dimensional launch: Global work-items split into groups
// of Local. When Local does not divide Global the last group is smaller, as
// OpenCL 2.0 non-uniform work-groups allow.
type NDRange struct {
	Global int
	Local  int
}

// NumGroups returns the number of work-groups, counting a trailing partial group.
func (nd NDRange) NumGroups() int {
	if nd.Local == 0 {
		return 0
	}
	return (nd.Global + nd.Local - 1) / nd.Local
}

// WorkGroup is the slice of work-items [Offset, Offset+Size) one group runs.
type WorkGroup struct {
	ID     int
	Offset int
	Size   int
}

// KernelImpl is the Go implementation of a kernel entry point.
type KernelImpl interface {
	// NumArgs must equal the parameter count the source declares.
	NumArgs() int

	// Validate checks argument kinds and sizes before the launch is queued.
	Validate(nd NDRange, args []Arg) error

	// RunGroup executes one work-group. Groups may run concurrently.
	RunGroup(nd NDRange, g WorkGroup, args []Arg) error
}

// DefaultKernels returns the built-in kernel implementations.
func DefaultKernels() map[string]KernelImpl {
	return map[string]KernelImpl{
		SgemmKernelName: SgemmKernel{},
	}
}

type kernel struct {
	refcount
	program *program
	name    string
	impl    KernelImpl

	mu   sync.Mutex
	args []Arg
	bufs []*buffer
}

func newKernel(p *program, name string, impl KernelImpl) *kernel {
	return &kernel{
		program: p,
		name:    name,
		impl:    impl,
		args:    make([]Arg, impl.NumArgs()),
		bufs:    make([]*buffer, impl.NumArgs()),
	}
}

func (k *kernel) Name() string {
	return k.name
}

func (k *kernel) NumArgs() int {
	return len(k.args)
}

func (k *kernel) setArg(index int, arg Arg, buf *buffer) error {
	const call = "clSetKernelArg"
	if !k.alive() {
		return compute.NewError(call, compute.InvalidKernel)
	}
	if index < 0 || index >= len(k.args) {
		return compute.NewError(call, compute.InvalidArgIndex)
	}
	k.mu.Lock()
	k.args[index] = arg
	k.bufs[index] = buf
	k.mu.Unlock()
	return nil
}

func (k *kernel) SetArgUint32(index int, v uint32) error {
	return k.setArg(index, Arg{Kind: ArgUint32, Uint32: v}, nil)
}

func (k *kernel) SetArgBuffer(index int, b compute.Buffer) error {
	hb, ok := b.(*buffer)
	if !ok || !hb.alive() || hb.context != k.program.context {
		return compute.NewError("clSetKernelArg", compute.InvalidMemObject)
	}
	return k.setArg(index, Arg{Kind: ArgBuffer}, hb)
}

func (k *kernel) SetArgLocal(index int, size int) error {
	if size <= 0 {
		return compute.NewError("clSetKernelArg", compute.InvalidArgSize)
	}
	return k.setArg(index, Arg{Kind: ArgLocal, LocalBytes: size}, nil)
}

func (k *kernel) Release() error {
	return k.release(k.program.runtime, "clReleaseKernel", compute.InvalidKernel)
}

// prepare validates a launch and snapshots the bound arguments.
func (k *kernel) prepare(d *device, global, local []int) (NDRange, []Arg, error) {
	const call = "clEnqueueNDRangeKernel"
	if len(global) != 1 || (local != nil && len(local) != 1) {
		return NDRange{}, nil, &compute.Error{Call: call, Status: compute.InvalidWorkDimension, Detail: "host emulation runs one-dimensional ranges"}
	}
	nd := NDRange{Global: global[0]}
	if nd.Global <= 0 {
		return NDRange{}, nil, compute.NewError(call, compute.InvalidGlobalWorkSize)
	}
	if local == nil {
		nd.Local = pickLocalSize(nd.Global, d.spec.MaxWorkGroupSize)
	} else {
		nd.Local = local[0]
	}
	if nd.Local <= 0 || nd.Local > d.spec.MaxWorkGroupSize {
		return NDRange{}, nil, &compute.Error{
			Call:   call,
			Status: compute.InvalidWorkGroupSize,
			Detail: fmt.Sprintf("local size %d outside [1, %d]", nd.Local, d.spec.MaxWorkGroupSize),
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	args := make([]Arg, len(k.args))
	var localBytes int64
	for i, a := range k.args {
		switch a.Kind {
		case ArgUnset:
			return NDRange{}, nil, &compute.Error{Call: call, Status: compute.InvalidKernelArgs, Detail: fmt.Sprintf("argument %d is not set", i)}
		case ArgBuffer:
			if !k.bufs[i].alive() {
				return NDRange{}, nil, compute.NewError(call, compute.InvalidMemObject)
			}
			a.Buffer = k.bufs[i].data
		case ArgLocal:
			localBytes += int64(a.LocalBytes)
		}
		args[i] = a
	}
	if localBytes > d.spec.LocalMemSize {
		return NDRange{}, nil, &compute.Error{
			Call:   call,
			Status: compute.OutOfResources,
			Detail: fmt.Sprintf("%d bytes of local memory requested, device has %d", localBytes, d.spec.LocalMemSize),
		}
	}
	if err := k.impl.Validate(nd, args); err != nil {
		return NDRange{}, nil, &compute.Error{Call: call, Status: compute.InvalidKernelArgs, Detail: err.Error()}
	}
	return nd, args, nil
}

// pickLocalSize chooses the largest divisor of global not above limit.
func pickLocalSize(global, limit int) int {
	for l := min(global, limit); l > 1; l-- {
		if global%l == 0 {
			return l
		}
	}
	return 1
}

// execute runs every work-group of nd, at most GOMAXPROCS at a time. Each
// group gets its own local memory.
func execute(impl KernelImpl, nd NDRange, args []Arg) error {
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for id := 0; id < nd.NumGroups(); id++ {
		group := WorkGroup{ID: id, Offset: id * nd.Local}
		group.Size = min(nd.Local, nd.Global-group.Offset)
		g.Go(func() error {
			groupArgs := make([]Arg, len(args))
			copy(groupArgs, args)
			for i := range groupArgs {
				if groupArgs[i].Kind == ArgLocal {
					groupArgs[i].Local = make([]float32, groupArgs[i].LocalBytes/compute.Float32Size)
				}
			}
			return impl.RunGroup(nd, group, groupArgs)
		})
	}
	return g.Wait()
}
