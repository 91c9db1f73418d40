package inference

import (
	"context"
	"sync"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/asd-go/service/config"
)

// FakeService returns canned outputs per model name. It records loads and
// closes so callers can check residency behavior.
type FakeService struct {
	mu       sync.Mutex
	outputs  map[string][]float32
	failLoad map[string]error
	failRun  map[string]error
	loads    map[string]int
	open     int
	maxOpen  int
	runs     []string
}

func NewFake(outputs map[string][]float32) *FakeService {
	return &FakeService{
		outputs:  outputs,
		failLoad: map[string]error{},
		failRun:  map[string]error{},
		loads:    map[string]int{},
	}
}

func (svc *FakeService) FailLoad(name string, err error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.failLoad[name] = err
}

func (svc *FakeService) FailRun(name string, err error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.failRun[name] = err
}

func (svc *FakeService) SetOutput(name string, output []float32) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.outputs[name] = output
}

// Loads returns how many times the named model was loaded
func (svc *FakeService) Loads(name string) int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.loads[name]
}

// Open returns the number of sessions currently loaded
func (svc *FakeService) Open() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.open
}

// MaxOpen returns the highest number of sessions held at the same time
func (svc *FakeService) MaxOpen() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.maxOpen
}

// Runs returns the model names in the order they were invoked
func (svc *FakeService) Runs() []string {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]string(nil), svc.runs...)
}

func (svc *FakeService) Load(_ context.Context, spec config.ModelSpec, _ string) (Session, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if err := svc.failLoad[spec.Name]; err != nil {
		return nil, err
	}

	svc.loads[spec.Name]++
	svc.open++
	if svc.open > svc.maxOpen {
		svc.maxOpen = svc.open
	}

	return &fakeSession{svc: svc, name: spec.Name, size: shapeSize(spec.InputShape)}, nil
}

func (svc *FakeService) Close() error {
	return nil
}

type fakeSession struct {
	svc    *FakeService
	name   string
	size   int
	closed bool
}

func (s *fakeSession) Run(input []float32) ([]float32, error) {
	s.svc.mu.Lock()
	defer s.svc.mu.Unlock()

	if s.closed {
		return nil, xerrors.Errorf("session %s is closed", s.name)
	}
	if len(input) != s.size {
		return nil, xerrors.Errorf("model %s expects %d values, got %d", s.name, s.size, len(input))
	}
	if err := s.svc.failRun[s.name]; err != nil {
		return nil, err
	}

	s.svc.runs = append(s.svc.runs, s.name)
	output, ok := s.svc.outputs[s.name]
	if !ok {
		return nil, xerrors.Errorf("no output configured for %s", s.name)
	}
	return append([]float32(nil), output...), nil
}

func (s *fakeSession) Close() error {
	s.svc.mu.Lock()
	defer s.svc.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.svc.open--
	}
	return nil
}
