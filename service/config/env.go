package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// Settings is the resolved configuration behind the service getters
type Settings struct {
	ModeMaxShutdownSeconds int
	HTTPAddr               string
	CorsOrigins            []string
	RequestTimeoutSeconds  int
	MaxUploadMB            int

	DataFolder string
	LogFolder  string
	LogLevel   string

	ChatAPIKey         string
	ChatBaseURL        string
	ChatModel          string
	ChatTimeoutSeconds int

	ModelsFolder        string
	Models              []ModelSpec
	ArtifactURLTemplate string
	InferenceBackend    string
	OnnxLibraryPath     string
	ResidencyPolicy     string
	MemoryThresholdMiB  float64
	MemoryPauseMillis   int
	PredictionCacheSize int

	AggregationPolicy string
	AggregationQuorum int

	VideoSampleRate int
	VideoMaxFrames  int
}

// Defaults mirrors the behavior of the original service
func Defaults() Settings {
	return Settings{
		ModeMaxShutdownSeconds: 5,
		HTTPAddr:               ":8080",
		CorsOrigins:            []string{"*"},
		RequestTimeoutSeconds:  120,
		MaxUploadMB:            32,
		DataFolder:             "./data",
		LogFolder:              "./logs",
		LogLevel:               "info",
		ChatBaseURL:            "https://api.groq.com/openai/v1/chat/completions",
		ChatModel:              "llama-3.2-90b-vision-preview",
		ChatTimeoutSeconds:     60,
		ModelsFolder:           "./models",
		Models:                 DefaultModels(),
		ArtifactURLTemplate:    "https://drive.google.com/uc?export=download&id=%s",
		InferenceBackend:       BackendOnnxRuntime,
		ResidencyPolicy:        ResidencyAlwaysResident,
		MemoryThresholdMiB:     512,
		MemoryPauseMillis:      1000,
		PredictionCacheSize:    64,
		AggregationPolicy:      AggregationQuorum,
		AggregationQuorum:      2,
		VideoSampleRate:        1,
		VideoMaxFrames:         5,
	}
}

type settingsService struct {
	s Settings
}

// New returns a service over fixed settings
func New(s Settings) IService {
	return &settingsService{s: s}
}

// NewEnv resolves settings from the environment on top of the defaults.
// The chat credential is required.
func NewEnv() (IService, error) {
	s := Defaults()

	s.ChatAPIKey = strings.TrimSpace(os.Getenv("GROQ_API_KEY"))
	if s.ChatAPIKey == "" {
		return nil, xerrors.New("GROQ_API_KEY environment variable is not set")
	}

	if port := os.Getenv("PORT"); port != "" {
		s.HTTPAddr = ":" + port
	}
	s.HTTPAddr = envString("HTTP_ADDR", s.HTTPAddr)
	s.CorsOrigins = envList("CORS_ORIGINS", s.CorsOrigins)
	s.DataFolder = envString("DATA_FOLDER", s.DataFolder)
	s.LogFolder = envString("LOG_FOLDER", s.LogFolder)
	s.LogLevel = envString("LOG_LEVEL", s.LogLevel)
	s.ChatBaseURL = envString("CHAT_BASE_URL", s.ChatBaseURL)
	s.ChatModel = envString("CHAT_MODEL", s.ChatModel)
	s.ModelsFolder = envString("MODELS_DIR", s.ModelsFolder)
	s.ArtifactURLTemplate = envString("ARTIFACT_URL_TEMPLATE", s.ArtifactURLTemplate)
	s.InferenceBackend = strings.ToLower(envString("INFERENCE_BACKEND", s.InferenceBackend))
	s.OnnxLibraryPath = envString("ONNX_LIBRARY_PATH", s.OnnxLibraryPath)
	s.ResidencyPolicy = strings.ToLower(envString("RESIDENCY_POLICY", s.ResidencyPolicy))
	s.AggregationPolicy = strings.ToLower(envString("AGGREGATION_POLICY", s.AggregationPolicy))

	var err error
	ints := []struct {
		key    string
		target *int
	}{
		{"MODE_MAX_SHUTDOWN_SECONDS", &s.ModeMaxShutdownSeconds},
		{"REQUEST_TIMEOUT_SECONDS", &s.RequestTimeoutSeconds},
		{"MAX_UPLOAD_MB", &s.MaxUploadMB},
		{"CHAT_TIMEOUT_SECONDS", &s.ChatTimeoutSeconds},
		{"MEMORY_PAUSE_MS", &s.MemoryPauseMillis},
		{"PREDICTION_CACHE_SIZE", &s.PredictionCacheSize},
		{"AGGREGATION_QUORUM", &s.AggregationQuorum},
		{"VIDEO_SAMPLE_RATE", &s.VideoSampleRate},
		{"VIDEO_MAX_FRAMES", &s.VideoMaxFrames},
	}
	for _, i := range ints {
		if *i.target, err = envInt(i.key, *i.target); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("MEMORY_THRESHOLD_MIB"); v != "" {
		s.MemoryThresholdMiB, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, xerrors.Errorf("MEMORY_THRESHOLD_MIB: %w", err)
		}
	}

	s.Models, err = LoadManifest(os.Getenv("MODELS_MANIFEST"))
	if err != nil {
		return nil, err
	}
	s.Models, err = FilterModels(s.Models, envList("ACTIVE_MODELS", nil))
	if err != nil {
		return nil, err
	}

	if err := Validate(s); err != nil {
		return nil, err
	}

	return New(s), nil
}

func Validate(s Settings) error {
	switch s.InferenceBackend {
	case BackendOnnxRuntime, BackendOpenCV:
	default:
		return xerrors.Errorf("unknown inference backend %q", s.InferenceBackend)
	}

	switch s.ResidencyPolicy {
	case ResidencyAlwaysResident, ResidencyLoadPerUse:
	default:
		return xerrors.Errorf("unknown residency policy %q", s.ResidencyPolicy)
	}

	switch s.AggregationPolicy {
	case AggregationQuorum, AggregationMajority:
	default:
		return xerrors.Errorf("unknown aggregation policy %q", s.AggregationPolicy)
	}

	if s.AggregationQuorum < 1 {
		return xerrors.Errorf("aggregation quorum must be at least 1, got %d", s.AggregationQuorum)
	}
	if s.VideoSampleRate < 1 {
		return xerrors.Errorf("video sample rate must be at least 1, got %d", s.VideoSampleRate)
	}
	if len(s.Models) == 0 {
		return xerrors.New("no active models")
	}

	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, xerrors.Errorf("%s: %w", key, err)
	}
	return i, nil
}

func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	list := []string{}
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

func (svc *settingsService) GetModeMaxShutdownTime() int {
	return svc.s.ModeMaxShutdownSeconds
}

func (svc *settingsService) GetHTTPAddr() string {
	return svc.s.HTTPAddr
}

func (svc *settingsService) GetCorsOrigins() []string {
	return svc.s.CorsOrigins
}

func (svc *settingsService) GetRequestTimeout() time.Duration {
	return time.Duration(svc.s.RequestTimeoutSeconds) * time.Second
}

func (svc *settingsService) GetMaxUploadBytes() int64 {
	return int64(svc.s.MaxUploadMB) << 20
}

func (svc *settingsService) GetDataFolder() string {
	return svc.s.DataFolder
}

func (svc *settingsService) GetLogFolder() string {
	return svc.s.LogFolder
}

func (svc *settingsService) GetLogLevel() string {
	return svc.s.LogLevel
}

func (svc *settingsService) GetChatAPIKey() string {
	return svc.s.ChatAPIKey
}

func (svc *settingsService) GetChatBaseURL() string {
	return svc.s.ChatBaseURL
}

func (svc *settingsService) GetChatModel() string {
	return svc.s.ChatModel
}

func (svc *settingsService) GetChatTimeout() time.Duration {
	return time.Duration(svc.s.ChatTimeoutSeconds) * time.Second
}

func (svc *settingsService) GetModelsFolder() string {
	return svc.s.ModelsFolder
}

func (svc *settingsService) GetModels() []ModelSpec {
	return svc.s.Models
}

func (svc *settingsService) GetArtifactURLTemplate() string {
	return svc.s.ArtifactURLTemplate
}

func (svc *settingsService) GetInferenceBackend() string {
	return svc.s.InferenceBackend
}

func (svc *settingsService) GetOnnxLibraryPath() string {
	return svc.s.OnnxLibraryPath
}

func (svc *settingsService) GetResidencyPolicy() string {
	return svc.s.ResidencyPolicy
}

func (svc *settingsService) GetMemoryThresholdMiB() float64 {
	return svc.s.MemoryThresholdMiB
}

func (svc *settingsService) GetMemoryPause() time.Duration {
	return time.Duration(svc.s.MemoryPauseMillis) * time.Millisecond
}

func (svc *settingsService) GetPredictionCacheSize() int {
	return svc.s.PredictionCacheSize
}

func (svc *settingsService) GetAggregationPolicy() string {
	return svc.s.AggregationPolicy
}

func (svc *settingsService) GetAggregationQuorum() int {
	return svc.s.AggregationQuorum
}

func (svc *settingsService) GetVideoSampleRate() int {
	return svc.s.VideoSampleRate
}

func (svc *settingsService) GetVideoMaxFrames() int {
	return svc.s.VideoMaxFrames
}
