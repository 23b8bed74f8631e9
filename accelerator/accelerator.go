// Package accelerator abstracts the compute backend the training loop runs
// on. The loop only needs setup, a device description for logs, and an
// end-of-training cleanup hook; everything about how a step executes is the
// backend's business.
package accelerator

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Accelerator is the compute-backend collaborator of the training loop.
type Accelerator interface {
	// Setup prepares the backend before training starts.
	Setup() error

	// Description identifies the device for logs.
	Description() string

	// OnTrainEnd performs end-of-training cleanup.
	OnTrainEnd() error
}

// CPU is the default backend: training steps run on the host CPU.
type CPU struct {
	description string
}

// NewCPU creates a CPU backend, detecting the host processor and its vector
// extensions for the device description.
func NewCPU() *CPU {
	var features []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.AVX512F, "avx512f"},
		{cpuid.AVX2, "avx2"},
		{cpuid.AVX, "avx"},
		{cpuid.FMA3, "fma3"},
	} {
		if cpuid.CPU.Supports(f.id) {
			features = append(features, f.name)
		}
	}

	desc := fmt.Sprintf("cpu: %s (%d logical cores)", cpuid.CPU.BrandName, cpuid.CPU.LogicalCores)
	if len(features) > 0 {
		desc += " [" + strings.Join(features, ",") + "]"
	}

	return &CPU{description: desc}
}

// Setup implements Accelerator.
func (c *CPU) Setup() error { return nil }

// Description implements Accelerator.
func (c *CPU) Description() string { return c.description }

// OnTrainEnd implements Accelerator. The CPU backend holds no device state,
// so cleanup is a no-op.
func (c *CPU) OnTrainEnd() error { return nil }
