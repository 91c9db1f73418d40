package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/khaledhikmat/asd-go/service/config"
	"github.com/khaledhikmat/asd-go/service/lgr"
)

type alwaysResident struct {
	specs   []config.ModelSpec
	handles map[string]*Handle
}

// NewAlwaysResident loads every model up front and keeps them for the
// lifetime of the process
func NewAlwaysResident(ctx context.Context, loader *Loader, specs []config.ModelSpec) (Policy, error) {
	p := &alwaysResident{
		specs:   specs,
		handles: make(map[string]*Handle, len(specs)),
	}

	for _, spec := range specs {
		h, err := loader.Load(ctx, spec)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.handles[spec.Name] = h
	}

	lgr.Logger.Info("models resident",
		slog.Int("models", len(p.handles)),
	)
	return p, nil
}

func (p *alwaysResident) Acquire(_ context.Context, name string) (*Handle, error) {
	h, ok := p.handles[name]
	if !ok {
		return nil, fmt.Errorf("model %s is not loaded", name)
	}
	return h, nil
}

func (p *alwaysResident) Release(_ *Handle) error {
	return nil
}

func (p *alwaysResident) Specs() []config.ModelSpec {
	return p.specs
}

func (p *alwaysResident) Name() string {
	return config.ResidencyAlwaysResident
}

func (p *alwaysResident) Close() error {
	var errs []error
	for name, h := range p.handles {
		if err := h.Session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(p.handles, name)
	}
	return errors.Join(errs...)
}
