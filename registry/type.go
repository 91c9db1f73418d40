package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/service/config"
	"github.com/khaledhikmat/asd-go/service/inference"
	"github.com/khaledhikmat/asd-go/service/lgr"
	"github.com/khaledhikmat/asd-go/service/storage"
)

// Handle is a loaded model owned by a Policy
type Handle struct {
	Spec    config.ModelSpec
	Session inference.Session
}

// Policy decides how long model handles stay resident
type Policy interface {
	Acquire(ctx context.Context, name string) (*Handle, error)
	Release(h *Handle) error
	Specs() []config.ModelSpec
	Name() string
	Close() error
}

// Loader checks custom layers, fetches the artifact and opens a session
type Loader struct {
	StorageSvc   storage.IService
	InferenceSvc inference.IService
	Layers       *LayerRegistry
}

func (l *Loader) Load(ctx context.Context, spec config.ModelSpec) (*Handle, error) {
	op := "load " + spec.Name

	if err := l.Layers.Check(spec); err != nil {
		return nil, model.WrapError(model.ErrModelLoad, op, err)
	}

	path, err := l.StorageSvc.Fetch(ctx, spec.ArtifactID, spec.File)
	if err != nil {
		return nil, model.WrapError(model.ErrModelLoad, op, err)
	}

	start := time.Now()
	session, err := l.InferenceSvc.Load(ctx, spec, path)
	if err != nil {
		return nil, model.WrapError(model.ErrModelLoad, op, err)
	}

	lgr.Logger.Debug("model loaded",
		slog.String("model", spec.Name),
		slog.String("path", path),
		slog.Int("customLayers", len(spec.Layers)),
		slog.Duration("took", time.Since(start)),
	)

	return &Handle{
		Spec:    spec,
		Session: session,
	}, nil
}

// New builds the policy selected by configuration
func New(ctx context.Context, cfgSvc config.IService, loader *Loader) (Policy, error) {
	switch cfgSvc.GetResidencyPolicy() {
	case config.ResidencyLoadPerUse:
		return NewLoadPerUse(loader, cfgSvc.GetModels(), NewMemoryGuard(cfgSvc)), nil
	case config.ResidencyAlwaysResident, "":
		return NewAlwaysResident(ctx, loader, cfgSvc.GetModels())
	default:
		return nil, fmt.Errorf("unknown residency policy %q", cfgSvc.GetResidencyPolicy())
	}
}

func findSpec(specs []config.ModelSpec, name string) (config.ModelSpec, bool) {
	for _, spec := range specs {
		if spec.Name == name {
			return spec, true
		}
	}
	return config.ModelSpec{}, false
}
