package onnx

import (
	"fmt"
	"strconv"

	"github.com/yalue/onnxruntime_go"
)

// GPUConfig holds configuration for CUDA acceleration.
type GPUConfig struct {
	UseGPU                bool   // Enable GPU acceleration
	DeviceID              int    // CUDA device ID
	GPUMemLimit           uint64 // GPU memory limit in bytes (0 = unlimited)
	ArenaExtendStrategy   string // "kNextPowerOfTwo" or "kSameAsRequested"
	CUDNNConvAlgoSearch   string // "EXHAUSTIVE", "HEURISTIC", or "DEFAULT"
	DoCopyInDefaultStream bool
}

// DefaultGPUConfig returns a CPU-only configuration with CUDA defaults filled in.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaExtendStrategy:   "kNextPowerOfTwo",
		CUDNNConvAlgoSearch:   "DEFAULT",
		DoCopyInDefaultStream: true,
	}
}

// cudaSettings renders the provider options understood by onnxruntime.
func (c GPUConfig) cudaSettings() map[string]string {
	settings := map[string]string{
		"device_id":                 strconv.Itoa(c.DeviceID),
		"do_copy_in_default_stream": "0",
	}
	if c.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(c.GPUMemLimit, 10)
	}
	if c.ArenaExtendStrategy != "" {
		settings["arena_extend_strategy"] = c.ArenaExtendStrategy
	}
	if c.CUDNNConvAlgoSearch != "" {
		settings["cudnn_conv_algo_search"] = c.CUDNNConvAlgoSearch
	}
	if c.DoCopyInDefaultStream {
		settings["do_copy_in_default_stream"] = "1"
	}
	return settings
}

// ConfigureSessionForGPU appends the CUDA execution provider when enabled.
func ConfigureSessionForGPU(sessionOptions *onnxruntime_go.SessionOptions, gpuConfig GPUConfig) error {
	if !gpuConfig.UseGPU {
		return nil
	}

	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() { _ = cudaOpts.Destroy() }()

	if err := cudaOpts.Update(gpuConfig.cudaSettings()); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := sessionOptions.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}

// ValidateGPUConfig checks a GPU configuration. CPU-only configs always pass.
func ValidateGPUConfig(config GPUConfig) error {
	if !config.UseGPU {
		return nil
	}
	if config.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", config.DeviceID)
	}
	switch config.ArenaExtendStrategy {
	case "", "kNextPowerOfTwo", "kSameAsRequested":
	default:
		return fmt.Errorf("invalid arena extend strategy: %s", config.ArenaExtendStrategy)
	}
	switch config.CUDNNConvAlgoSearch {
	case "", "EXHAUSTIVE", "HEURISTIC", "DEFAULT":
	default:
		return fmt.Errorf("invalid CUDNN conv algo search: %s", config.CUDNNConvAlgoSearch)
	}
	return nil
}
