package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/service/config"
)

// LayerStrategy checks the serialized config of a custom layer against what
// the exported graph implements. The runtime never sees these configs: the
// artifacts carry the layers already lowered to standard ops, so a config the
// lowering could not honor means the artifact does not match its manifest.
type LayerStrategy func(cfg map[string]any) error

// LayerRegistry maps serialized layer type names to strategies. It is
// populated at startup, before any model is loaded.
type LayerRegistry struct {
	mu         sync.RWMutex
	strategies map[string]LayerStrategy
}

func NewLayerRegistry() *LayerRegistry {
	return &LayerRegistry{
		strategies: map[string]LayerStrategy{},
	}
}

// DefaultLayers registers the custom layers the EfficientNet artifacts use
func DefaultLayers() *LayerRegistry {
	r := NewLayerRegistry()
	r.Register("DepthwiseConv2D", depthwiseConv2D)
	r.Register("FixedDropout", fixedDropout)
	r.Register("relu6", relu6)
	return r
}

func (r *LayerRegistry) Register(name string, strategy LayerStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = strategy
}

func (r *LayerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Check runs the registered strategy of every layer the model declares. A
// layer without a strategy fails with model.ErrUnregisteredLayer.
func (r *LayerRegistry) Check(spec config.ModelSpec) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, layer := range spec.Layers {
		strategy, ok := r.strategies[layer.Type]
		if !ok {
			return model.WrapError(model.ErrUnregisteredLayer, "check "+spec.Name,
				fmt.Errorf("layer type %q has no registered strategy", layer.Type))
		}

		if strategy == nil {
			continue
		}
		if err := strategy(layer.Config); err != nil {
			return fmt.Errorf("layer %s of %s: %w", layer.Type, spec.Name, err)
		}
	}

	return nil
}

// depthwiseConv2D ignores "groups", which newer exporters write but the
// depthwise convolution does not take. Only the multiplier matters.
func depthwiseConv2D(cfg map[string]any) error {
	raw, ok := cfg["depth_multiplier"]
	if !ok {
		return nil
	}
	if m, known := toDim(raw); !known || m < 1 {
		return fmt.Errorf("depth_multiplier must be a positive integer, got %v", raw)
	}
	return nil
}

// fixedDropout is an identity at inference. Its noise_shape is resolved from
// the dropout input at training time, so unknown dims are fine here.
func fixedDropout(cfg map[string]any) error {
	if raw, ok := cfg["rate"]; ok {
		rate, ok := toFloat(raw)
		if !ok || rate < 0 || rate >= 1 {
			return fmt.Errorf("rate must be in [0,1), got %v", raw)
		}
	}

	raw, ok := cfg["noise_shape"]
	if !ok || raw == nil {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("noise_shape must be a list, got %T", raw)
	}
	for i, v := range list {
		if v == nil {
			continue
		}
		if _, ok := toFloat(v); !ok {
			return fmt.Errorf("noise_shape[%d] must be a number or null, got %T", i, v)
		}
	}
	return nil
}

// relu6 is lowered to a clip at 6
func relu6(cfg map[string]any) error {
	raw, ok := cfg["max_value"]
	if !ok {
		return nil
	}
	if v, ok := toFloat(raw); !ok || v != 6 {
		return fmt.Errorf("max_value must be 6, got %v", raw)
	}
	return nil
}

func toDim(v any) (int64, bool) {
	switch d := v.(type) {
	case int64:
		return d, d > 0
	case int:
		return int64(d), d > 0
	case float64:
		return int64(d), d > 0 && d == float64(int64(d))
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch d := v.(type) {
	case int64:
		return float64(d), true
	case int:
		return float64(d), true
	case float64:
		return d, true
	default:
		return 0, false
	}
}
