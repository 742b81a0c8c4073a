// Package devices lists every platform and device a runtime exposes.
package devices

import (
	"fmt"
	"io"
	"strconv"

	"github.com/common-nighthawk/go-figure"
	"github.com/dustin/go-humanize"
	"github.com/fxnlabs/clsgemm/internal/compute"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

// Entry is one platform with its devices of every type.
type Entry struct {
	Platform compute.PlatformInfo
	Devices  []compute.DeviceInfo
}

// Inventory enumerates all platforms and all their devices.
func Inventory(rt compute.Runtime) ([]Entry, error) {
	platforms, err := rt.Platforms()
	if err != nil {
		return nil, fmt.Errorf("failed to list platforms: %w", err)
	}
	entries := make([]Entry, 0, len(platforms))
	for _, p := range platforms {
		devs, err := p.Devices(compute.DeviceTypeAll)
		if err != nil && compute.StatusOf(err) != compute.DeviceNotFound {
			return nil, fmt.Errorf("failed to list devices of %q: %w", p.Info().Name, err)
		}
		entries = append(entries, Entry{
			Platform: p.Info(),
			Devices: lo.Map(devs, func(d compute.Device, _ int) compute.DeviceInfo {
				return d.Info()
			}),
		})
	}
	return entries, nil
}

// CountGPUs returns the number of GPU-class devices across entries.
func CountGPUs(entries []Entry) int {
	return lo.SumBy(entries, func(e Entry) int {
		return lo.CountBy(e.Devices, func(d compute.DeviceInfo) bool {
			return d.Type.Has(compute.DeviceTypeGPU)
		})
	})
}

var header = []string{
	"Platform", "Device", "Type", "Vendor", "Version", "Driver",
	"CUs", "Clock", "Max WG", "Global mem", "Local mem", "Max alloc", "Timer",
}

// Rows flattens entries into table rows, one per device. A platform
// without devices gets a row of its own.
func Rows(entries []Entry) [][]string {
	var rows [][]string
	for _, e := range entries {
		if len(e.Devices) == 0 {
			rows = append(rows, []string{e.Platform.Name, "-", "-", e.Platform.Vendor, e.Platform.Version, "-", "-", "-", "-", "-", "-", "-", "-"})
			continue
		}
		for _, d := range e.Devices {
			rows = append(rows, []string{
				e.Platform.Name,
				d.Name,
				d.Type.String(),
				d.Vendor,
				d.Version,
				d.DriverVersion,
				strconv.Itoa(d.MaxComputeUnits),
				fmt.Sprintf("%d MHz", d.MaxClockFrequencyMHz),
				strconv.Itoa(d.MaxWorkGroupSize),
				humanize.IBytes(uint64(d.GlobalMemSize)),
				humanize.IBytes(uint64(d.LocalMemSize)),
				humanize.IBytes(uint64(d.MaxMemAllocSize)),
				d.ProfilingTimerResolution.String(),
			})
		}
	}
	return rows
}

// Render writes an optional banner and the device table to w.
func Render(w io.Writer, entries []Entry, banner bool) error {
	if banner {
		if _, err := fmt.Fprintln(w, figure.NewFigure("clsgemm", "", true).String()); err != nil {
			return err
		}
	}
	table := tablewriter.NewWriter(w)
	table.Header(lo.ToAnySlice(header)...)
	if err := table.Bulk(Rows(entries)); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d platform(s), %d device(s), %d GPU(s)\n",
		len(entries),
		lo.SumBy(entries, func(e Entry) int { return len(e.Devices) }),
		CountGPUs(entries))
	return err
}
