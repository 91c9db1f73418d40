package mode

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/service/lgr"
)

const fetchConcurrency = 2

// Fetch makes sure every configured model artifact is present locally
func Fetch(canxCtx context.Context, svcs ServicesFactory, _ []string) error {
	g, ctx := errgroup.WithContext(canxCtx)
	g.SetLimit(fetchConcurrency)

	for _, spec := range svcs.CfgSvc.GetModels() {
		g.Go(func() error {
			path, err := svcs.StorageSvc.Fetch(ctx, spec.ArtifactID, spec.File)
			if err != nil {
				procError(svcs.DataSvc, model.GenError("fetch",
					err,
					map[string]interface{}{"model": spec.Name},
					"error fetching artifact for model: %s",
					spec.Name))
				return model.WrapError(model.ErrModelLoad, "fetch "+spec.Name, err)
			}

			lgr.Logger.Info(
				"model artifact ready",
				slog.String("model", spec.Name),
				slog.String("path", path),
			)
			return nil
		})
	}

	return g.Wait()
}
