package host

import (
	"testing"

	"github.com/fxnlabs/clsgemm/internal/compute"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sgemmSource = `
// row-per-work-item SGEMM
__kernel void Sgemm(const uint n, const uint k, const uint m,
                    __global const float* A, __global const float* B,
                    __global float* C, __local float* scratch)
{
    const uint i = get_global_id(0);
    if (i >= n) return;
    for (uint j = 0; j < m; j++) {
        float acc = 0.0f;
        for (uint l = 0; l < k; l++) acc += A[i*k + l] * B[l*m + j];
        C[i*m + j] = acc;
    }
}
`

func testOptions(units int) Options {
	return Options{
		Platforms: []PlatformSpec{
			{
				Name:    "Portable CPU Platform",
				Devices: []DeviceSpec{{Name: "cpu0", Type: compute.DeviceTypeCPU, ComputeUnits: 8}},
			},
			{
				Name: "Test GPU Platform",
				Devices: []DeviceSpec{
					{Name: "gpu0", Type: compute.DeviceTypeGPU, ComputeUnits: units},
					{Name: "gpu1", Type: compute.DeviceTypeGPU | compute.DeviceTypeDefault, ComputeUnits: units},
				},
			},
		},
	}
}

func firstGPU(t *testing.T, r *Runtime) compute.Device {
	t.Helper()
	platforms, err := r.Platforms()
	require.NoError(t, err)
	for _, p := range platforms {
		devices, err := p.Devices(compute.DeviceTypeGPU)
		require.NoError(t, err)
		if len(devices) > 0 {
			return devices[0]
		}
	}
	t.Fatal("no GPU device in test runtime")
	return nil
}

func TestRuntime_Enumeration(t *testing.T) {
	r := New(testOptions(4), zaptest.NewLogger(t))
	defer r.Close()

	assert.Equal(t, "host", r.Name())

	platforms, err := r.Platforms()
	require.NoError(t, err)
	require.Len(t, platforms, 2)
	assert.Equal(t, "Portable CPU Platform", platforms[0].Info().Name)

	gpus, err := platforms[0].Devices(compute.DeviceTypeGPU)
	require.NoError(t, err)
	assert.Empty(t, gpus)

	gpus, err = platforms[1].Devices(compute.DeviceTypeGPU)
	require.NoError(t, err)
	require.Len(t, gpus, 2)
	assert.Equal(t, "gpu0", gpus[0].Info().Name)
	assert.Equal(t, 4, gpus[0].Info().MaxComputeUnits)

	all, err := platforms[1].Devices(compute.DeviceTypeAll)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, r.Close())
	_, err = r.Platforms()
	assert.Error(t, err)
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	require.Len(t, opts.Platforms, 1)
	require.Len(t, opts.Platforms[0].Devices, 1)
	dev := opts.Platforms[0].Devices[0]
	assert.True(t, dev.Type.Has(compute.DeviceTypeGPU))
	assert.Greater(t, dev.ComputeUnits, 0)
	assert.Contains(t, opts.Kernels, SgemmKernelName)
}

func TestContext_CreateBuffer(t *testing.T) {
	r := New(testOptions(4), zaptest.NewLogger(t))
	ctx, err := firstGPU(t, r).NewContext()
	require.NoError(t, err)
	defer ctx.Release()

	t.Run("copy host pointer", func(t *testing.T) {
		buf, err := ctx.CreateBuffer(compute.MemReadOnly|compute.MemCopyHostPtr, 12, []float32{1, 2, 3})
		require.NoError(t, err)
		defer buf.Release()
		assert.Equal(t, 12, buf.Size())
		data, ok := Data(buf)
		require.True(t, ok)
		assert.Equal(t, []float32{1, 2, 3}, data)
	})

	t.Run("zero size", func(t *testing.T) {
		_, err := ctx.CreateBuffer(compute.MemReadOnly, 0, nil)
		assert.Equal(t, compute.InvalidBufferSize, compute.StatusOf(err))
	})

	t.Run("host data without copy flag", func(t *testing.T) {
		_, err := ctx.CreateBuffer(compute.MemReadOnly, 4, []float32{1})
		assert.Equal(t, compute.InvalidHostPtr, compute.StatusOf(err))
	})

	t.Run("host data too short", func(t *testing.T) {
		_, err := ctx.CreateBuffer(compute.MemReadOnly|compute.MemCopyHostPtr, 16, []float32{1})
		assert.Equal(t, compute.InvalidHostPtr, compute.StatusOf(err))
	})

	t.Run("conflicting access flags", func(t *testing.T) {
		_, err := ctx.CreateBuffer(compute.MemReadOnly|compute.MemWriteOnly, 4, nil)
		assert.Equal(t, compute.InvalidValue, compute.StatusOf(err))
	})

	t.Run("double release", func(t *testing.T) {
		buf, err := ctx.CreateBuffer(compute.MemWriteOnly, 4, nil)
		require.NoError(t, err)
		require.NoError(t, buf.Release())
		assert.Equal(t, compute.InvalidMemObject, compute.StatusOf(buf.Release()))
	})
}

func TestProgram_Build(t *testing.T) {
	r := New(testOptions(4), zaptest.NewLogger(t))
	dev := firstGPU(t, r)
	ctx, err := dev.NewContext()
	require.NoError(t, err)
	defer ctx.Release()

	testCases := []struct {
		name        string
		source      string
		options     string
		wantStatus  compute.Status
		wantLogPart string
	}{
		{name: "valid", source: sgemmSource, wantStatus: compute.Success},
		{name: "valid with defines", source: sgemmSource, options: "-DK_DIM=1200 -cl-fast-relaxed-math", wantStatus: compute.Success},
		{
			name:        "missing closing brace",
			source:      "__kernel void Sgemm(uint n) {\n  if (n) {\n}\n",
			wantStatus:  compute.BuildProgramFailure,
			wantLogPart: "<kernel>:1:29: error: '{' is never closed",
		},
		{
			name:        "stray parenthesis",
			source:      "__kernel void Sgemm(uint n) {\n  n = n + 1);\n}\n",
			wantStatus:  compute.BuildProgramFailure,
			wantLogPart: "<kernel>:2:12: error: unexpected ')'",
		},
		{
			name:        "no kernel",
			source:      "float helper(float x) { return x; }",
			wantStatus:  compute.BuildProgramFailure,
			wantLogPart: "no kernel functions found",
		},
		{
			name:        "unterminated comment",
			source:      "__kernel void Sgemm(uint n) { /* oops }",
			wantStatus:  compute.BuildProgramFailure,
			wantLogPart: "unterminated /* comment",
		},
		{
			name:       "unbalanced brackets in macros",
			source:     "#define OPEN_ROW (\n#define IDX(i, j) \\\n  ((i) * k + (j)\n  #  if 0 ]\n#endif\n__kernel void Sgemm(uint n) { n = n + 1; }\n",
			wantStatus: compute.Success,
		},
		{
			name:        "directive keeps line numbers",
			source:      "#define K_DIM 4\n#define ROW(i) \\\n  (i)\n__kernel void Sgemm(uint n) {\n  n = n + 1);\n}\n",
			wantStatus:  compute.BuildProgramFailure,
			wantLogPart: "<kernel>:5:12: error: unexpected ')'",
		},
		{
			name:        "hash inside an expression is not a directive",
			source:      "__kernel void Sgemm(uint n) { n = n # (1; }",
			wantStatus:  compute.BuildProgramFailure,
			wantLogPart: "error: unexpected '}'",
		},
		{
			name:       "bad option",
			source:     sgemmSource,
			options:    "--fast",
			wantStatus: compute.InvalidBuildOptions,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			prog, err := ctx.CreateProgram(tc.source)
			require.NoError(t, err)
			defer prog.Release()

			err = prog.Build(dev, tc.options)
			assert.Equal(t, tc.wantStatus, compute.StatusOf(err))

			info, err := prog.BuildInfo(dev)
			require.NoError(t, err)
			if tc.wantLogPart != "" {
				assert.Contains(t, info.Log, tc.wantLogPart)
				assert.Equal(t, compute.BuildError, info.Status)
				assert.Equal(t, tc.options, info.Options)
			}
			if tc.wantStatus == compute.Success {
				assert.Equal(t, compute.BuildSuccess, info.Status)
				assert.Empty(t, info.Log)
			}
		})
	}
}

func TestProgram_CreateKernel(t *testing.T) {
	r := New(testOptions(4), zaptest.NewLogger(t))
	dev := firstGPU(t, r)
	ctx, err := dev.NewContext()
	require.NoError(t, err)
	defer ctx.Release()

	t.Run("before build", func(t *testing.T) {
		prog, err := ctx.CreateProgram(sgemmSource)
		require.NoError(t, err)
		defer prog.Release()
		_, err = prog.CreateKernel(SgemmKernelName)
		assert.Equal(t, compute.InvalidProgramExecutable, compute.StatusOf(err))
	})

	t.Run("undeclared name", func(t *testing.T) {
		prog, err := ctx.CreateProgram(sgemmSource)
		require.NoError(t, err)
		defer prog.Release()
		require.NoError(t, prog.Build(dev, ""))
		_, err = prog.CreateKernel("Dgemm")
		assert.Equal(t, compute.InvalidKernelName, compute.StatusOf(err))
	})

	t.Run("declared without host implementation", func(t *testing.T) {
		prog, err := ctx.CreateProgram("__kernel void Saxpy(float a, __global float* x) {}")
		require.NoError(t, err)
		defer prog.Release()
		require.NoError(t, prog.Build(dev, ""))
		_, err = prog.CreateKernel("Saxpy")
		assert.Equal(t, compute.InvalidKernelName, compute.StatusOf(err))
	})

	t.Run("parameter count mismatch", func(t *testing.T) {
		prog, err := ctx.CreateProgram("__kernel void Sgemm(uint n, __global float* A) {}")
		require.NoError(t, err)
		defer prog.Release()
		require.NoError(t, prog.Build(dev, ""))
		_, err = prog.CreateKernel(SgemmKernelName)
		assert.Equal(t, compute.InvalidKernelDefinition, compute.StatusOf(err))
	})

	t.Run("ok", func(t *testing.T) {
		prog, err := ctx.CreateProgram(sgemmSource)
		require.NoError(t, err)
		defer prog.Release()
		require.NoError(t, prog.Build(dev, ""))
		k, err := prog.CreateKernel(SgemmKernelName)
		require.NoError(t, err)
		defer k.Release()
		assert.Equal(t, 7, k.NumArgs())
		assert.Equal(t, compute.InvalidArgIndex, compute.StatusOf(k.SetArgUint32(7, 1)))
	})
}

type launch struct {
	ctx   compute.Context
	queue compute.Queue
	prog  compute.Program
	k     compute.Kernel
	a     compute.Buffer
	b     compute.Buffer
	c     compute.Buffer
}

func (l *launch) release() {
	for _, rel := range []func() error{l.c.Release, l.b.Release, l.a.Release, l.k.Release, l.prog.Release, l.queue.Release, l.ctx.Release} {
		_ = rel()
	}
}

func setupLaunch(t *testing.T, r *Runtime, n, k, m int, a, b []float32) *launch {
	t.Helper()
	dev := firstGPU(t, r)
	l := &launch{}
	var err error
	l.ctx, err = dev.NewContext()
	require.NoError(t, err)
	l.queue, err = l.ctx.CreateQueue(dev, compute.QueueProfiling)
	require.NoError(t, err)
	l.prog, err = l.ctx.CreateProgram(sgemmSource)
	require.NoError(t, err)
	require.NoError(t, l.prog.Build(dev, ""))
	l.k, err = l.prog.CreateKernel(SgemmKernelName)
	require.NoError(t, err)
	l.a, err = l.ctx.CreateBuffer(compute.MemReadOnly|compute.MemCopyHostPtr, compute.ByteSize(n*k), a)
	require.NoError(t, err)
	l.b, err = l.ctx.CreateBuffer(compute.MemReadOnly|compute.MemCopyHostPtr, compute.ByteSize(k*m), b)
	require.NoError(t, err)
	l.c, err = l.ctx.CreateBuffer(compute.MemWriteOnly, compute.ByteSize(n*m), nil)
	require.NoError(t, err)

	require.NoError(t, l.k.SetArgUint32(0, uint32(n)))
	require.NoError(t, l.k.SetArgUint32(1, uint32(k)))
	require.NoError(t, l.k.SetArgUint32(2, uint32(m)))
	require.NoError(t, l.k.SetArgBuffer(3, l.a))
	require.NoError(t, l.k.SetArgBuffer(4, l.b))
	require.NoError(t, l.k.SetArgBuffer(5, l.c))
	require.NoError(t, l.k.SetArgLocal(6, compute.ByteSize(k)))
	return l
}

func TestQueue_SgemmLaunch(t *testing.T) {
	r := New(testOptions(2), zaptest.NewLogger(t))

	// [[1 2] [3 4] [5 6]] × [[1 0 2] [0 1 3]]
	a := []float32{1, 2, 3, 4, 5, 6}
	b := []float32{1, 0, 2, 0, 1, 3}
	l := setupLaunch(t, r, 3, 2, 3, a, b)

	t.Run("non-uniform groups cover every row", func(t *testing.T) {
		ev, err := l.queue.EnqueueNDRangeKernel(l.k, []int{3}, []int{2})
		require.NoError(t, err)
		defer ev.Release()
		require.NoError(t, l.queue.Finish())

		prof, err := ev.Profile()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, prof.End, prof.Start)
		assert.GreaterOrEqual(t, prof.Start, prof.Queued)

		got := make([]float32, 9)
		rev, err := l.queue.EnqueueReadBuffer(l.c, true, got)
		require.NoError(t, err)
		defer rev.Release()
		assert.Equal(t, []float32{1, 2, 8, 3, 4, 18, 5, 6, 28}, got)
	})

	t.Run("zero local size", func(t *testing.T) {
		_, err := l.queue.EnqueueNDRangeKernel(l.k, []int{3}, []int{0})
		assert.Equal(t, compute.InvalidWorkGroupSize, compute.StatusOf(err))
	})

	t.Run("two dimensional range", func(t *testing.T) {
		_, err := l.queue.EnqueueNDRangeKernel(l.k, []int{3, 3}, nil)
		assert.Equal(t, compute.InvalidWorkDimension, compute.StatusOf(err))
	})

	t.Run("scratch too small", func(t *testing.T) {
		require.NoError(t, l.k.SetArgLocal(6, 4))
		defer func() { require.NoError(t, l.k.SetArgLocal(6, compute.ByteSize(2))) }()
		_, err := l.queue.EnqueueNDRangeKernel(l.k, []int{3}, []int{3})
		assert.Equal(t, compute.InvalidKernelArgs, compute.StatusOf(err))
	})

	l.release()
	assert.Equal(t, int64(0), r.Stats().LiveObjects)
}

func TestQueue_NonBlockingWriteIsOrdered(t *testing.T) {
	r := New(testOptions(1), zaptest.NewLogger(t))
	dev := firstGPU(t, r)
	ctx, err := dev.NewContext()
	require.NoError(t, err)
	defer ctx.Release()
	q, err := ctx.CreateQueue(dev, 0)
	require.NoError(t, err)
	defer q.Release()
	buf, err := ctx.CreateBuffer(compute.MemReadOnly, 16, nil)
	require.NoError(t, err)
	defer buf.Release()

	src := []float32{4, 3, 2, 1}
	wev, err := q.EnqueueWriteBuffer(buf, false, src)
	require.NoError(t, err)
	defer wev.Release()

	dst := make([]float32, 4)
	rev, err := q.EnqueueReadBuffer(buf, true, dst)
	require.NoError(t, err)
	defer rev.Release()
	assert.Equal(t, src, dst)

	_, err = wev.Profile()
	assert.Equal(t, compute.ProfilingInfoNotAvailable, compute.StatusOf(err))

	_, err = q.EnqueueReadBuffer(buf, true, make([]float32, 5))
	assert.Equal(t, compute.InvalidValue, compute.StatusOf(err))
}

func TestQueue_OutOfOrderRejected(t *testing.T) {
	r := New(testOptions(1), zaptest.NewLogger(t))
	dev := firstGPU(t, r)
	ctx, err := dev.NewContext()
	require.NoError(t, err)
	defer ctx.Release()
	_, err = ctx.CreateQueue(dev, compute.QueueOutOfOrderExec|compute.QueueProfiling)
	assert.Equal(t, compute.InvalidQueueProperties, compute.StatusOf(err))
}

func TestQueue_EnqueueAfterRelease(t *testing.T) {
	r := New(testOptions(1), zaptest.NewLogger(t))
	dev := firstGPU(t, r)
	ctx, err := dev.NewContext()
	require.NoError(t, err)
	defer ctx.Release()
	q, err := ctx.CreateQueue(dev, compute.QueueProfiling)
	require.NoError(t, err)
	buf, err := ctx.CreateBuffer(compute.MemReadWrite, 4, nil)
	require.NoError(t, err)
	defer buf.Release()

	require.NoError(t, q.Release())
	_, err = q.EnqueueWriteBuffer(buf, true, []float32{1})
	assert.Equal(t, compute.InvalidCommandQueue, compute.StatusOf(err))
	assert.Equal(t, compute.InvalidCommandQueue, compute.StatusOf(q.Release()))
}

func TestPickLocalSize(t *testing.T) {
	assert.Equal(t, 4800, pickLocalSize(4800, 8192))
	assert.Equal(t, 960, pickLocalSize(4800, 1024))
	assert.Equal(t, 1, pickLocalSize(7, 4))
}

func TestNDRange_NumGroups(t *testing.T) {
	assert.Equal(t, 0, NDRange{Global: 10, Local: 0}.NumGroups())
	assert.Equal(t, 5, NDRange{Global: 10, Local: 2}.NumGroups())
	assert.Equal(t, 4, NDRange{Global: 10, Local: 3}.NumGroups())
}
