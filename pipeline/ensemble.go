package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/registry"
	"github.com/khaledhikmat/asd-go/service/config"
	"github.com/khaledhikmat/asd-go/service/lgr"
)

// Predictor runs every model of a residency policy on one image. Predictions
// are serialized: the models run one after the other and a single prediction
// is in flight at a time.
type Predictor struct {
	Policy registry.Policy

	mu          sync.Mutex
	cache       *lru.Cache
	statsStream chan interface{}
	predictions int64
	usage       func() float64
}

type PredictorOption func(*Predictor)

// WithStatsStream sends a model.PredictorStats per prediction
func WithStatsStream(stream chan interface{}) PredictorOption {
	return func(p *Predictor) {
		p.statsStream = stream
	}
}

// WithMemoryUsage reports process memory in the stats
func WithMemoryUsage(usage func() float64) PredictorOption {
	return func(p *Predictor) {
		p.usage = usage
	}
}

// NewPredictor builds a predictor. A cache size of zero disables the result
// cache.
func NewPredictor(policy registry.Policy, cacheSize int, opts ...PredictorOption) (*Predictor, error) {
	p := &Predictor{
		Policy: policy,
	}

	if cacheSize > 0 {
		cache, err := lru.New(cacheSize)
		if err != nil {
			return nil, err
		}
		p.cache = cache
	}

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Predict preprocesses the input once and collects one verdict per model in
// manifest order. Any failure voids the whole prediction.
func (p *Predictor) Predict(ctx context.Context, in Input) (model.PredictionResult, error) {
	const op = "predict"

	tensor, err := Preprocess(in)
	if err != nil {
		return model.PredictionResult{}, model.WrapError(model.ErrEnsemble, op, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	key := tensor.Hash()
	stats := model.PredictorStats{
		Name:   p.Policy.Name(),
		Models: len(p.Policy.Specs()),
	}

	defer func() {
		p.predictions++
		stats.Predictions = p.predictions
		stats.ProcTime = time.Since(start).Seconds()
		if p.usage != nil {
			stats.MemoryMiB = p.usage()
		}
		emit(ctx, p.statsStream, stats)
	}()

	if p.cache != nil {
		if cached, ok := p.cache.Get(key); ok {
			stats.Cached = true
			result := copyResult(cached.(model.PredictionResult))
			result.Key = key
			result.Cached = true
			return result, nil
		}
	}

	result, err := p.run(ctx, tensor)
	if err != nil {
		stats.Errors++
		return model.PredictionResult{}, model.WrapError(model.ErrEnsemble, op, err)
	}
	result.Key = key

	if p.cache != nil {
		p.cache.Add(key, copyResult(result))
	}

	lgr.Logger.InfoContext(ctx, "prediction completed",
		slog.Int("models", result.Len()),
		slog.Duration("took", time.Since(start)),
	)
	return result, nil
}

func (p *Predictor) run(ctx context.Context, tensor Tensor) (model.PredictionResult, error) {
	specs := p.Policy.Specs()
	result := model.NewPredictionResult(len(specs))

	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		verdict, err := p.runModel(ctx, spec, tensor)
		if err != nil {
			return result, err
		}
		result.Add(verdict)
	}

	if result.Len() == 0 {
		return result, model.ErrNoPredictions
	}
	return result, nil
}

// runModel releases the handle before returning so the next model is only
// acquired after this one is gone
func (p *Predictor) runModel(ctx context.Context, spec config.ModelSpec, tensor Tensor) (model.Verdict, error) {
	h, err := p.Policy.Acquire(ctx, spec.Name)
	if err != nil {
		return model.Verdict{}, err
	}

	output, runErr := h.Session.Run(tensor.Data)
	if err := p.Policy.Release(h); err != nil {
		lgr.Logger.Warn("model release failed",
			slog.String("model", spec.Name),
			lgr.Err(err),
		)
	}
	if runErr != nil {
		return model.Verdict{}, fmt.Errorf("run %s: %w", spec.Name, runErr)
	}

	return Interpret(spec, output)
}

// Interpret maps raw classifier output to a verdict. Softmax models vote
// Autistic when class 1 has the highest probability. Sigmoid models vote
// Autistic when the probability is above 0.5.
func Interpret(spec config.ModelSpec, output []float32) (model.Verdict, error) {
	verdict := model.Verdict{
		Model: spec.Display,
	}
	if verdict.Model == "" {
		verdict.Model = spec.Name
	}

	switch spec.Output {
	case model.OutputSoftmax:
		if len(output) < 2 {
			return verdict, fmt.Errorf("%s: softmax output needs 2 values, got %d", spec.Name, len(output))
		}
		best := 0
		for i, v := range output {
			if v > output[best] {
				best = i
			}
		}
		verdict.Class = model.NonAutistic
		if best == 1 {
			verdict.Class = model.Autistic
		}
		verdict.Confidence = float64(output[best]) * 100

	case model.OutputSigmoid:
		if len(output) < 1 {
			return verdict, fmt.Errorf("%s: sigmoid output is empty", spec.Name)
		}
		prob := float64(output[0])
		if prob > 0.5 {
			verdict.Class = model.Autistic
			verdict.Confidence = prob * 100
		} else {
			verdict.Class = model.NonAutistic
			verdict.Confidence = (1 - prob) * 100
		}

	default:
		return verdict, fmt.Errorf("%s: unknown output convention %q", spec.Name, spec.Output)
	}

	return verdict, nil
}

func copyResult(r model.PredictionResult) model.PredictionResult {
	out := model.NewPredictionResult(r.Len())
	for _, v := range r.List() {
		out.Add(v)
	}
	out.Key = r.Key
	return out
}
