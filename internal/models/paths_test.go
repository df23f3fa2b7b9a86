package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelsDir(t *testing.T) {
	tests := []struct {
		name           string
		explicitDir    string
		envVar         string
		expectedResult string
	}{
		{
			name:           "explicit directory takes precedence",
			explicitDir:    "/explicit/path",
			envVar:         "/env/path",
			expectedResult: "/explicit/path",
		},
		{
			name:           "environment variable used when no explicit dir",
			explicitDir:    "",
			envVar:         "/env/path",
			expectedResult: "/env/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvModelsDir, tt.envVar)
			assert.Equal(t, tt.expectedResult, GetModelsDir(tt.explicitDir))
		})
	}

	t.Run("project root default", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "")
		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, DefaultModelsDir), GetModelsDir(""))
	})
}

func TestGetFaceModelPath(t *testing.T) {
	base := t.TempDir()

	// flat layout when the organized path is missing
	assert.Equal(t, filepath.Join(base, FaceRFB320), GetFaceModelPath(base, ""))

	organized := filepath.Join(base, TypeFace, FaceRFB320)
	require.NoError(t, os.MkdirAll(filepath.Dir(organized), 0o755))
	require.NoError(t, os.WriteFile(organized, []byte("onnx"), 0o600))
	assert.Equal(t, organized, GetFaceModelPath(base, ""))
	assert.Equal(t, filepath.Join(base, FaceSlim320), GetFaceModelPath(base, FaceSlim320))
}

func TestValidateModelExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.onnx")
	require.Error(t, ValidateModelExists(path))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	assert.NoError(t, ValidateModelExists(path))
}

func TestListAvailableModels(t *testing.T) {
	list := ListAvailableModels()
	require.NotEmpty(t, list)
	for _, m := range list {
		assert.Equal(t, TypeFace, m.Type)
		assert.NotEmpty(t, m.Filename)
	}
}
