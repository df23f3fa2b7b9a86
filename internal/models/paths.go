package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model file names.
const (
	FaceRFB320  = "version-RFB-320.onnx"
	FaceSlim320 = "version-slim-320.onnx"
)

// Model type categories for organized directory structure.
const (
	TypeFace = "face"
)

// Default models directory.
const DefaultModelsDir = "models"

// Environment variable for models directory override.
const EnvModelsDir = "NATIVESCAN_MODELS_DIR"

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.New("could not find project root (go.mod not found)")
}

// ModelInfo contains metadata about a model.
type ModelInfo struct {
	Name        string
	Type        string
	Description string
	Filename    string
}

// GetModelsDir returns the models directory path from various sources
// Priority: 1. Explicit modelsDir parameter, 2. Environment variable, 3. Project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}

	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}

	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}

	return DefaultModelsDir
}

// ResolveModelPath resolves a model filename to its full path. The
// organized layout (<dir>/<type>/<file>) wins over a flat layout.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	baseDir := GetModelsDir(modelsDir)

	if modelType != "" {
		organizedPath := filepath.Join(baseDir, modelType, filename)
		if _, err := os.Stat(organizedPath); err == nil {
			return organizedPath
		}
	}

	return filepath.Join(baseDir, filename)
}

// GetFaceModelPath returns the path of a face detection model. An empty
// filename selects the RFB-320 model.
func GetFaceModelPath(modelsDir, filename string) string {
	if filename == "" {
		filename = FaceRFB320
	}
	return ResolveModelPath(modelsDir, TypeFace, filename)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns information about the known models.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:        "ultraface-rfb-320",
			Type:        TypeFace,
			Description: "UltraFace RFB 320x240 face detector",
			Filename:    FaceRFB320,
		},
		{
			Name:        "ultraface-slim-320",
			Type:        TypeFace,
			Description: "UltraFace slim 320x240 face detector",
			Filename:    FaceSlim320,
		},
	}
}
