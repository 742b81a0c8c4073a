package sgemm

import (
	"fmt"
	"strings"

	"github.com/fxnlabs/clsgemm/internal/compute"
)

// Selection is the platform and device a run executes on.
type Selection struct {
	Platform     compute.Platform
	Device       compute.Device
	PlatformInfo compute.PlatformInfo
	DeviceInfo   compute.DeviceInfo
}

// SelectDevice returns the first GPU-class device of the first platform, in
// enumeration order, whose name contains platformName. The match is case
// sensitive and an empty name matches every platform.
func SelectDevice(rt compute.Runtime, platformName string) (*Selection, error) {
	platforms, err := rt.Platforms()
	if err != nil {
		if compute.StatusOf(err) == compute.PlatformNotFoundKHR {
			return nil, &Error{Kind: KindDeviceNotFound, Op: "select", Err: fmt.Errorf("%w: %v", ErrDeviceNotFound, err)}
		}
		return nil, runtimeError("select", err)
	}
	for _, p := range platforms {
		info := p.Info()
		if !strings.Contains(info.Name, platformName) {
			continue
		}
		devices, err := p.Devices(compute.DeviceTypeGPU)
		if err != nil {
			if compute.StatusOf(err) == compute.DeviceNotFound {
				continue
			}
			return nil, runtimeError("select", err)
		}
		if len(devices) == 0 {
			continue
		}
		return &Selection{
			Platform:     p,
			Device:       devices[0],
			PlatformInfo: info,
			DeviceInfo:   devices[0].Info(),
		}, nil
	}
	return nil, &Error{
		Kind: KindDeviceNotFound,
		Op:   "select",
		Err:  fmt.Errorf("%w: platform name %q", ErrDeviceNotFound, platformName),
	}
}
