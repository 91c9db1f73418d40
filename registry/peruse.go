package registry

import (
	"context"
	"fmt"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/service/config"
)

type loadPerUse struct {
	loader *Loader
	specs  []config.ModelSpec
	guard  *MemoryGuard
}

// NewLoadPerUse loads a model right before its use and unloads it on release,
// so at most one model is resident at a time
func NewLoadPerUse(loader *Loader, specs []config.ModelSpec, guard *MemoryGuard) Policy {
	return &loadPerUse{
		loader: loader,
		specs:  specs,
		guard:  guard,
	}
}

func (p *loadPerUse) Acquire(ctx context.Context, name string) (*Handle, error) {
	spec, ok := findSpec(p.specs, name)
	if !ok {
		return nil, model.WrapError(model.ErrModelLoad, "acquire", fmt.Errorf("model %s is not in the manifest", name))
	}

	if p.guard != nil {
		if _, err := p.guard.Check(ctx); err != nil {
			return nil, err
		}
	}

	h, err := p.loader.Load(ctx, spec)
	if err != nil {
		return nil, err
	}

	if p.guard != nil {
		p.guard.Log(ctx, "after loading "+name)
	}
	return h, nil
}

func (p *loadPerUse) Release(h *Handle) error {
	if h == nil || h.Session == nil {
		return nil
	}

	err := h.Session.Close()
	h.Session = nil

	if p.guard != nil {
		p.guard.Log(context.Background(), "after unloading "+h.Spec.Name)
	}
	return err
}

func (p *loadPerUse) Specs() []config.ModelSpec {
	return p.specs
}

func (p *loadPerUse) Name() string {
	return config.ResidencyLoadPerUse
}

func (p *loadPerUse) Close() error {
	return nil
}
