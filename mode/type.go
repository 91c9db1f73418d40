package mode

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/pipeline"
	"github.com/khaledhikmat/asd-go/registry"
	"github.com/khaledhikmat/asd-go/service/chat"
	"github.com/khaledhikmat/asd-go/service/config"
	"github.com/khaledhikmat/asd-go/service/data"
	"github.com/khaledhikmat/asd-go/service/inference"
	"github.com/khaledhikmat/asd-go/service/lgr"
	"github.com/khaledhikmat/asd-go/service/storage"
)

// ServicesFactory holds the services a mode processor runs with. They can be
// swapped for fakes.
type ServicesFactory struct {
	CfgSvc       config.IService
	DataSvc      data.IService
	StorageSvc   storage.IService
	InferenceSvc inference.IService
	ChatSvc      chat.IService

	// Output receives human readable results of one-shot modes
	Output io.Writer
}

// Processor runs one mode until it completes or the context is cancelled
type Processor func(canxCtx context.Context, svcs ServicesFactory, args []string) error

func (svcs ServicesFactory) output() io.Writer {
	if svcs.Output == nil {
		return os.Stdout
	}
	return svcs.Output
}

// newPolicy loads the configured models under the configured residency policy
func newPolicy(canxCtx context.Context, svcs ServicesFactory) (registry.Policy, error) {
	loader := &registry.Loader{
		StorageSvc:   svcs.StorageSvc,
		InferenceSvc: svcs.InferenceSvc,
		Layers:       registry.DefaultLayers(),
	}
	return registry.New(canxCtx, svcs.CfgSvc, loader)
}

func newPredictor(policy registry.Policy, cacheSize int, statsStream chan interface{}) (*pipeline.Predictor, error) {
	return pipeline.NewPredictor(policy, cacheSize,
		pipeline.WithStatsStream(statsStream),
		pipeline.WithMemoryUsage(registry.ProcessMemoryMiB),
	)
}

func procStats(datasvc data.IService, stats interface{}) {
	var err error
	switch stats := stats.(type) {
	case model.PredictionRecord:
		err = datasvc.NewPrediction(stats)
	case model.PredictorStats:
		err = datasvc.NewPredictorStats(stats)
	case model.SamplerStats:
		err = datasvc.NewSamplerStats(stats)
	case model.ServerStats:
		err = datasvc.NewServerStats(stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
		return
	}

	if err != nil {
		lgr.Logger.Error(
			"failed to store stats",
			slog.Any("stats", stats),
			lgr.Err(err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			lgr.Err(errTemp),
		)
	}
}
