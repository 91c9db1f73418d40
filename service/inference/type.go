package inference

import (
	"context"
	"fmt"

	"github.com/khaledhikmat/asd-go/service/config"
)

// Session is one loaded model. Sessions are not safe for concurrent use.
type Session interface {
	// Run feeds a flattened input tensor and returns the flattened output
	Run(input []float32) ([]float32, error)
	Close() error
}

type IService interface {
	Load(ctx context.Context, spec config.ModelSpec, path string) (Session, error)
	Close() error
}

func shapeSize(shape []int64) int {
	size := 1
	for _, dim := range shape {
		if dim > 0 {
			size *= int(dim)
		}
	}
	return size
}

// New returns the backend selected by configuration
func New(cfgsvc config.IService) (IService, error) {
	switch cfgsvc.GetInferenceBackend() {
	case config.BackendOnnxRuntime, "":
		return NewOnnx(cfgsvc), nil
	case config.BackendOpenCV:
		return NewOpenCV(), nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q", cfgsvc.GetInferenceBackend())
	}
}
