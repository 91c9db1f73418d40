package inference

import (
	"context"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/asd-go/service/config"
	"github.com/khaledhikmat/asd-go/service/lgr"
)

type onnxService struct {
	CfgSvc config.IService
	once   sync.Once
	err    error
}

type onnxSession struct {
	name         string
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewOnnx returns a backend running ONNX artifacts through onnxruntime. The
// runtime environment is initialized on the first load.
func NewOnnx(cfgsvc config.IService) IService {
	return &onnxService{
		CfgSvc: cfgsvc,
	}
}

func (svc *onnxService) init() error {
	svc.once.Do(func() {
		if lib := svc.CfgSvc.GetOnnxLibraryPath(); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			svc.err = xerrors.Errorf("failed to initialize ONNX environment: %w", err)
			return
		}
		lgr.Logger.Info("onnx runtime initialized",
			slog.String("library", svc.CfgSvc.GetOnnxLibraryPath()),
		)
	})
	return svc.err
}

func (svc *onnxService) Load(_ context.Context, spec config.ModelSpec, path string) (Session, error) {
	if err := svc.init(); err != nil {
		return nil, err
	}

	inputName, outputName := spec.InputName, spec.OutputName
	if inputName == "" || outputName == "" {
		inputs, outputs, err := ort.GetInputOutputInfo(path)
		if err != nil {
			return nil, xerrors.Errorf("failed to inspect %s: %w", path, err)
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			return nil, xerrors.Errorf("model %s declares no inputs or outputs", spec.Name)
		}
		if inputName == "" {
			inputName = inputs[0].Name
		}
		if outputName == "" {
			outputName = outputs[0].Name
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.InputShape...))
	if err != nil {
		return nil, xerrors.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, xerrors.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{inputName}, []string{outputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, xerrors.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxSession{
		name:         spec.Name,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (svc *onnxService) Close() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func (s *onnxSession) Run(input []float32) ([]float32, error) {
	data := s.inputTensor.GetData()
	if len(input) != len(data) {
		return nil, xerrors.Errorf("model %s expects %d values, got %d", s.name, len(data), len(input))
	}
	copy(data, input)

	if err := s.session.Run(); err != nil {
		return nil, xerrors.Errorf("inference failed: %w", err)
	}

	out := s.outputTensor.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

func (s *onnxSession) Close() error {
	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	return err
}
