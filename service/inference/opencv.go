package inference

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"

	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/asd-go/service/config"
	"github.com/khaledhikmat/asd-go/service/lgr"
)

type opencvService struct{}

type opencvSession struct {
	name  string
	net   gocv.Net
	shape []int
	size  int
}

// NewOpenCV returns a backend running ONNX artifacts through OpenCV's DNN module
func NewOpenCV() IService {
	lgr.Logger.Info("opencv dnn backend selected",
		slog.String("openCV", gocv.Version()),
	)
	return &opencvService{}
}

func (svc *opencvService) Load(_ context.Context, spec config.ModelSpec, path string) (Session, error) {
	net := gocv.ReadNet(path, "")
	if net.Empty() {
		return nil, xerrors.Errorf("error reading model %s from %s", spec.Name, path)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, xerrors.Errorf("error setting backend: %w", err)
	}

	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, xerrors.Errorf("error setting target: %w", err)
	}

	shape := make([]int, len(spec.InputShape))
	for i, dim := range spec.InputShape {
		shape[i] = int(dim)
	}

	return &opencvSession{
		name:  spec.Name,
		net:   net,
		shape: shape,
		size:  shapeSize(spec.InputShape),
	}, nil
}

func (svc *opencvService) Close() error {
	return nil
}

func (s *opencvSession) Run(input []float32) ([]float32, error) {
	if len(input) != s.size {
		return nil, xerrors.Errorf("model %s expects %d values, got %d", s.name, s.size, len(input))
	}

	raw := make([]byte, 4*len(input))
	for i, v := range input {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}

	blob, err := gocv.NewMatWithSizesFromBytes(s.shape, gocv.MatTypeCV32F, raw)
	if err != nil {
		return nil, xerrors.Errorf("error building input blob: %w", err)
	}
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	if output.Empty() {
		return nil, xerrors.Errorf("model %s produced no output", s.name)
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, xerrors.Errorf("error reading output: %w", err)
	}

	result := make([]float32, len(data))
	copy(result, data)
	return result, nil
}

func (s *opencvSession) Close() error {
	return s.net.Close()
}
