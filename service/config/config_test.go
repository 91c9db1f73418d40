package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultModelsOrderAndConventions(t *testing.T) {
	models := DefaultModels()
	require.Len(t, models, 4)

	names := []string{}
	for _, m := range models {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"vgg", "inception", "efficientnet_b0", "efficientnet_b7"}, names)
	assert.Equal(t, "softmax", models[0].Output)
	assert.Equal(t, "sigmoid", models[2].Output)
	assert.Equal(t, []int64{1, 224, 224, 3}, models[1].InputShape)
	assert.Equal(t, []int64{1, 1}, models[3].OutputShape)
	require.Len(t, models[2].Layers, 3)
	assert.Equal(t, "DepthwiseConv2D", models[2].Layers[0].Type)
}

func TestParseManifestRejectsBadEntries(t *testing.T) {
	_, err := ParseManifest([]byte(`
[[models]]
name = "vgg"
file = "vgg.onnx"
output = "logits"
`))
	assert.ErrorContains(t, err, "unknown output convention")

	_, err = ParseManifest([]byte(`
[[models]]
name = "vgg"
file = "a.onnx"
output = "softmax"

[[models]]
name = "vgg"
file = "b.onnx"
output = "softmax"
`))
	assert.ErrorContains(t, err, "twice")

	_, err = ParseManifest([]byte(`models = []`))
	assert.Error(t, err)
}

func TestParseManifestFillsShapes(t *testing.T) {
	models, err := ParseManifest([]byte(`
[[models]]
name = "b0"
file = "b0.onnx"
output = "SIGMOID"
`))
	require.NoError(t, err)
	assert.Equal(t, "b0", models[0].Display)
	assert.Equal(t, "sigmoid", models[0].Output)
	assert.Equal(t, []int64{1, 1}, models[0].OutputShape)
}

func TestFilterModels(t *testing.T) {
	models, err := FilterModels(DefaultModels(), []string{"vgg", "efficientnet_b0"})
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "vgg", models[0].Name)
	assert.Equal(t, "efficientnet_b0", models[1].Name)

	_, err = FilterModels(DefaultModels(), []string{"resnet"})
	assert.Error(t, err)
}

func TestNewEnvRequiresCredential(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	_, err := NewEnv()
	assert.ErrorContains(t, err, "GROQ_API_KEY")
}

func TestNewEnvOverrides(t *testing.T) {
	manifest := filepath.Join(t.TempDir(), "models.toml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
[[models]]
name = "vgg"
display = "VGG-16"
file = "vgg.onnx"
output = "softmax"
`), 0644))

	t.Setenv("GROQ_API_KEY", "secret")
	t.Setenv("PORT", "9090")
	t.Setenv("MODELS_MANIFEST", manifest)
	t.Setenv("RESIDENCY_POLICY", "LOAD_PER_USE")
	t.Setenv("MEMORY_THRESHOLD_MIB", "256.5")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "30")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000, https://example.org")

	svc, err := NewEnv()
	require.NoError(t, err)
	assert.Equal(t, "secret", svc.GetChatAPIKey())
	assert.Equal(t, ":9090", svc.GetHTTPAddr())
	assert.Equal(t, ResidencyLoadPerUse, svc.GetResidencyPolicy())
	assert.Equal(t, 256.5, svc.GetMemoryThresholdMiB())
	assert.Equal(t, 30*time.Second, svc.GetRequestTimeout())
	assert.Equal(t, []string{"http://localhost:3000", "https://example.org"}, svc.GetCorsOrigins())
	require.Len(t, svc.GetModels(), 1)
	assert.Equal(t, "VGG-16", svc.GetModels()[0].Display)
}

func TestNewEnvRejectsBadValues(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "secret")
	t.Setenv("AGGREGATION_QUORUM", "two")
	_, err := NewEnv()
	assert.ErrorContains(t, err, "AGGREGATION_QUORUM")

	t.Setenv("AGGREGATION_QUORUM", "2")
	t.Setenv("INFERENCE_BACKEND", "tensorflow")
	_, err = NewEnv()
	assert.ErrorContains(t, err, "inference backend")
}
