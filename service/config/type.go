package config

import "time"

const (
	ResidencyAlwaysResident = "always_resident"
	ResidencyLoadPerUse     = "load_per_use"

	BackendOnnxRuntime = "onnxruntime"
	BackendOpenCV      = "opencv"

	AggregationQuorum   = "quorum"
	AggregationMajority = "majority"
)

type IService interface {
	GetModeMaxShutdownTime() int
	GetHTTPAddr() string
	GetCorsOrigins() []string
	GetRequestTimeout() time.Duration
	GetMaxUploadBytes() int64

	GetDataFolder() string
	GetLogFolder() string
	GetLogLevel() string

	GetChatAPIKey() string
	GetChatBaseURL() string
	GetChatModel() string
	GetChatTimeout() time.Duration

	GetModelsFolder() string
	GetModels() []ModelSpec
	GetArtifactURLTemplate() string
	GetInferenceBackend() string
	GetOnnxLibraryPath() string
	GetResidencyPolicy() string
	GetMemoryThresholdMiB() float64
	GetMemoryPause() time.Duration
	GetPredictionCacheSize() int

	GetAggregationPolicy() string
	GetAggregationQuorum() int

	GetVideoSampleRate() int
	GetVideoMaxFrames() int
}

// LayerSpec describes a serialized custom layer a model needs at load time
type LayerSpec struct {
	Type   string         `toml:"type"`
	Config map[string]any `toml:"config"`
}

// ModelSpec is one entry of the model manifest
type ModelSpec struct {
	Name        string      `toml:"name"`
	Display     string      `toml:"display"`
	File        string      `toml:"file"`
	ArtifactID  string      `toml:"artifact_id"`
	Output      string      `toml:"output"`
	InputName   string      `toml:"input_name"`
	OutputName  string      `toml:"output_name"`
	InputShape  []int64     `toml:"input_shape"`
	OutputShape []int64     `toml:"output_shape"`
	Layers      []LayerSpec `toml:"layers"`
}

type Manifest struct {
	Models []ModelSpec `toml:"models"`
}
