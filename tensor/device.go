package tensor

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// DeviceType identifies where tensor computation happens. The helpers in this
// module pass it through without interpreting it.
type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// ParseDevice maps a device name ("cpu", "gpu", "cuda", "mps") to a DeviceType.
func ParseDevice(name string) (DeviceType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cpu":
		return CPU, nil
	case "gpu", "cuda", "mps":
		return GPU, nil
	default:
		return CPU, fmt.Errorf("unknown device %q", name)
	}
}

// DeviceInfo summarises the host processor backing a device.
type DeviceInfo struct {
	Device        DeviceType
	Brand         string
	Vendor        string
	PhysicalCores int
	LogicalCores  int
	Features      []string
}

func (i DeviceInfo) String() string {
	return fmt.Sprintf("%s: %s (%d cores, %d threads, simd=%s)",
		i.Device, i.Brand, i.PhysicalCores, i.LogicalCores, i.SIMD())
}

// SIMD returns the widest vector extension the host supports.
func (i DeviceInfo) SIMD() string {
	have := make(map[string]bool, len(i.Features))
	for _, f := range i.Features {
		have[f] = true
	}
	for _, f := range []string{"AVX512F", "AVX2", "AVX", "SSE4", "ASIMD"} {
		if have[f] {
			return f
		}
	}
	return "none"
}

// DescribeDevice reports the processor the host runtime would use for d.
// Accelerators are opaque here, so GPU targets still describe the host CPU
// that drives them.
func DescribeDevice(d DeviceType) DeviceInfo {
	return DeviceInfo{
		Device:        d,
		Brand:         cpuid.CPU.BrandName,
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		Features:      cpuid.CPU.FeatureSet(),
	}
}
