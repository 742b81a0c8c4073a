package host

import (
	"sync"

	"github.com/fxnlabs/clsgemm/internal/compute"
	"go.uber.org/zap"
)

const queueDepth = 64

type command struct {
	name string
	ev   *event
	run  func() error
}

// queue executes commands one at a time, in submission order, on its own
// goroutine.
type queue struct {
	refcount
	runtime *Runtime
	context *clContext
	props   compute.QueueProperties

	mu      sync.Mutex
	closed  bool
	cmds    chan command
	pending sync.WaitGroup
	done    chan struct{}

	// guarded by failMu, not mu: enqueue may block on a full channel while
	// holding mu
	failMu sync.Mutex
	failed error
}

func newQueue(c *clContext, props compute.QueueProperties) *queue {
	q := &queue{
		runtime: c.runtime,
		context: c,
		props:   props,
		cmds:    make(chan command, queueDepth),
		done:    make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *queue) loop() {
	defer close(q.done)
	for cmd := range q.cmds {
		cmd.ev.prof.Submit = q.runtime.now()
		cmd.ev.prof.Start = q.runtime.now()
		err := cmd.run()
		cmd.ev.prof.End = q.runtime.now()
		if err != nil {
			q.runtime.logger.Error("command failed", zap.String("command", cmd.name), zap.Error(err))
			q.failMu.Lock()
			if q.failed == nil {
				q.failed = err
			}
			q.failMu.Unlock()
		}
		cmd.ev.complete(err)
		q.pending.Done()
	}
}

func (q *queue) enqueue(call, name string, run func() error) (*event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, compute.NewError(call, compute.InvalidCommandQueue)
	}
	ev := newEvent(q.runtime, q.props&compute.QueueProfiling != 0)
	ev.prof.Queued = q.runtime.now()
	q.pending.Add(1)
	q.cmds <- command{name: name, ev: ev, run: run}
	return ev, nil
}

func (q *queue) buffer(call string, b compute.Buffer, bytes int) (*buffer, error) {
	hb, ok := b.(*buffer)
	if !ok || !hb.alive() || hb.context != q.context {
		return nil, compute.NewError(call, compute.InvalidMemObject)
	}
	if bytes > hb.Size() {
		return nil, compute.NewError(call, compute.InvalidValue)
	}
	return hb, nil
}

func (q *queue) EnqueueWriteBuffer(b compute.Buffer, blocking bool, src []float32) (compute.Event, error) {
	const call = "clEnqueueWriteBuffer"
	hb, err := q.buffer(call, b, compute.ByteSize(len(src)))
	if err != nil {
		return nil, err
	}
	ev, err := q.enqueue(call, "write", func() error {
		copy(hb.data, src)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if blocking {
		if err := ev.Wait(); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

func (q *queue) EnqueueReadBuffer(b compute.Buffer, blocking bool, dst []float32) (compute.Event, error) {
	const call = "clEnqueueReadBuffer"
	hb, err := q.buffer(call, b, compute.ByteSize(len(dst)))
	if err != nil {
		return nil, err
	}
	ev, err := q.enqueue(call, "read", func() error {
		copy(dst, hb.data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if blocking {
		if err := ev.Wait(); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

func (q *queue) EnqueueNDRangeKernel(k compute.Kernel, global, local []int) (compute.Event, error) {
	const call = "clEnqueueNDRangeKernel"
	hk, ok := k.(*kernel)
	if !ok || !hk.alive() || hk.program.context != q.context {
		return nil, compute.NewError(call, compute.InvalidKernel)
	}
	nd, args, err := hk.prepare(q.context.device, global, local)
	if err != nil {
		return nil, err
	}
	q.runtime.track(func(s *Stats) { s.Launches++ })
	q.runtime.logger.Debug("kernel enqueued",
		zap.String("kernel", hk.name),
		zap.Int("global", nd.Global),
		zap.Int("local", nd.Local),
		zap.Int("groups", nd.NumGroups()))
	return q.enqueue(call, hk.name, func() error {
		return execute(hk.impl, nd, args)
	})
}

// Finish waits for every queued command and reports the first command that
// failed since the previous Finish.
func (q *queue) Finish() error {
	q.pending.Wait()
	q.failMu.Lock()
	defer q.failMu.Unlock()
	if q.failed != nil {
		err := &compute.Error{Call: "clFinish", Status: compute.ExecStatusError, Detail: q.failed.Error()}
		q.failed = nil
		return err
	}
	return nil
}

func (q *queue) Release() error {
	if err := q.release(q.runtime, "clReleaseCommandQueue", compute.InvalidCommandQueue); err != nil {
		return err
	}
	q.mu.Lock()
	q.closed = true
	close(q.cmds)
	q.mu.Unlock()
	<-q.done
	return nil
}

type event struct {
	refcount
	runtime   *Runtime
	profiling bool
	done      chan struct{}
	err       error
	prof      compute.Profile
}

func newEvent(r *Runtime, profiling bool) *event {
	r.track(func(s *Stats) { s.LiveObjects++ })
	return &event{runtime: r, profiling: profiling, done: make(chan struct{})}
}

func (e *event) complete(err error) {
	e.err = err
	close(e.done)
}

func (e *event) Wait() error {
	<-e.done
	if e.err != nil {
		return &compute.Error{Call: "clWaitForEvents", Status: compute.ExecStatusError, Detail: e.err.Error()}
	}
	return nil
}

func (e *event) Profile() (compute.Profile, error) {
	const call = "clGetEventProfilingInfo"
	if !e.profiling {
		return compute.Profile{}, compute.NewError(call, compute.ProfilingInfoNotAvailable)
	}
	select {
	case <-e.done:
		return e.prof, nil
	default:
		return compute.Profile{}, compute.NewError(call, compute.ProfilingInfoNotAvailable)
	}
}

func (e *event) Release() error {
	return e.release(e.runtime, "clReleaseEvent", compute.InvalidEvent)
}
