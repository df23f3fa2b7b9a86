package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

const (
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"
)

var envMu sync.Mutex

// LibraryName returns the runtime library filename for goos.
func LibraryName(goos string) (string, error) {
	switch goos {
	case "linux":
		return libLinux, nil
	case "darwin":
		return libDarwin, nil
	case "windows":
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}
}

// CandidateLibraryPaths lists where the runtime library is searched, in
// order. An explicit path always comes first. GPU builds are preferred when
// useGPU is set.
func CandidateLibraryPaths(explicit string, useGPU bool, projectRoot string) []string {
	var paths []string
	if explicit != "" {
		paths = append(paths, explicit)
	}
	if useGPU {
		paths = append(paths, "/opt/onnxruntime/gpu/lib/libonnxruntime.so")
	}
	paths = append(paths,
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
	)
	if projectRoot != "" {
		if name, err := LibraryName(runtime.GOOS); err == nil {
			if useGPU {
				paths = append(paths, filepath.Join(projectRoot, "onnxruntime", "gpu", "lib", name))
			}
			paths = append(paths, filepath.Join(projectRoot, "onnxruntime", "lib", name))
		}
	}
	return paths
}

// ResolveLibraryPath returns the first candidate that exists on disk.
func ResolveLibraryPath(explicit string, useGPU bool) (string, error) {
	root, _ := findProjectRoot()
	for _, p := range CandidateLibraryPaths(explicit, useGPU, root) {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	if explicit != "" {
		return "", fmt.Errorf("ONNX Runtime library not found at %s", explicit)
	}
	return "", errors.New("ONNX Runtime library not found")
}

// findProjectRoot walks up from the working directory to the nearest go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

// Setup points onnxruntime at its shared library and initializes the
// process-wide environment once.
func Setup(libraryPath string, useGPU bool) error {
	envMu.Lock()
	defer envMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	path, err := ResolveLibraryPath(libraryPath, useGPU)
	if err != nil {
		return err
	}
	onnxruntime_go.SetSharedLibraryPath(path)
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	slog.Debug("ONNX Runtime initialized", "library", path, "gpu", useGPU)
	return nil
}

// Shutdown destroys the environment. Only call it once every session is gone.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !onnxruntime_go.IsInitialized() {
		return nil
	}
	return onnxruntime_go.DestroyEnvironment()
}
