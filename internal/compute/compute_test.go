package compute

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeviceTypeString(t *testing.T) {
	testCases := []struct {
		name     string
		typ      DeviceType
		expected string
	}{
		{"gpu", DeviceTypeGPU, "GPU"},
		{"cpu and default", DeviceTypeCPU | DeviceTypeDefault, "CPU | DEFAULT"},
		{"custom", DeviceTypeCustom, "CUSTOM"},
		{"all", DeviceTypeAll, "ALL"},
		{"none", 0, "UNKNOWN(0x0)"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.typ.String())
		})
	}
}

func TestDeviceTypeHas(t *testing.T) {
	typ := DeviceTypeGPU | DeviceTypeDefault
	assert.True(t, typ.Has(DeviceTypeGPU))
	assert.True(t, typ.Has(DeviceTypeDefault))
	assert.False(t, typ.Has(DeviceTypeCPU))
	assert.False(t, typ.Has(DeviceTypeGPU|DeviceTypeCPU))
}

func TestMemFlagsHas(t *testing.T) {
	flags := MemReadOnly | MemCopyHostPtr
	assert.True(t, flags.Has(MemReadOnly))
	assert.True(t, flags.Has(MemCopyHostPtr))
	assert.False(t, flags.Has(MemWriteOnly))
}

func TestProfileElapsed(t *testing.T) {
	t.Run("end after start", func(t *testing.T) {
		p := Profile{Queued: 10, Submit: 20, Start: 1_000, End: 1_500_000}
		assert.Equal(t, 1_499_000*time.Nanosecond, p.Elapsed())
	})

	t.Run("counters out of order", func(t *testing.T) {
		p := Profile{Start: 50, End: 40}
		assert.Equal(t, time.Duration(0), p.Elapsed())
	})
}

func TestStatusAndError(t *testing.T) {
	assert.Equal(t, "CL_OUT_OF_RESOURCES", OutOfResources.String())
	assert.Equal(t, "CL_UNKNOWN_ERROR(-9999)", Status(-9999).String())

	assert.NoError(t, NewError("clFinish", Success))

	err := NewError("clCreateBuffer", MemObjectAllocationFailure)
	assert.EqualError(t, err, "clCreateBuffer: CL_MEM_OBJECT_ALLOCATION_FAILURE (-4)")

	wrapped := fmt.Errorf("allocate A: %w", err)
	assert.Equal(t, MemObjectAllocationFailure, StatusOf(wrapped))
	assert.Equal(t, Success, StatusOf(errors.New("plain")))

	detailed := &Error{Call: "clBuildProgram", Status: BuildProgramFailure, Detail: "see build log"}
	assert.EqualError(t, detailed, "clBuildProgram: CL_BUILD_PROGRAM_FAILURE (-11): see build log")
}

func TestByteSize(t *testing.T) {
	assert.Equal(t, 0, ByteSize(0))
	assert.Equal(t, 4800*1200*4, ByteSize(4800*1200))
}
