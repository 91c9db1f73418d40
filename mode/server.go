package mode

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/khaledhikmat/asd-go/api"
	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/pipeline"
	"github.com/khaledhikmat/asd-go/service/lgr"
)

const (
	streamBuffer        = 100
	serverStatsInterval = time.Minute
)

// Server loads the models and serves the HTTP API until cancelled. Stats and
// errors produced by requests are persisted through the data service.
func Server(canxCtx context.Context, svcs ServicesFactory, _ []string) error {
	errorStream := make(chan interface{}, streamBuffer)
	statsStream := make(chan interface{}, streamBuffer)

	policy, err := newPolicy(canxCtx, svcs)
	if err != nil {
		return err
	}
	defer func() {
		if err := policy.Close(); err != nil {
			lgr.Logger.Error("closing models", lgr.Err(err))
		}
	}()

	predictor, err := newPredictor(policy, svcs.CfgSvc.GetPredictionCacheSize(), statsStream)
	if err != nil {
		return err
	}

	aggregationPolicy, err := pipeline.NewAggregationPolicy(svcs.CfgSvc)
	if err != nil {
		return err
	}

	sampler := pipeline.NewVideoSampler(svcs.CfgSvc.GetVideoMaxFrames(), statsStream)
	svr := api.New(svcs.CfgSvc,
		svcs.ChatSvc,
		policy,
		predictor,
		pipeline.NewAggregator(svcs.ChatSvc, aggregationPolicy),
		pipeline.NewAnalyzer(sampler, svcs.ChatSvc, svcs.CfgSvc.GetVideoSampleRate()),
		statsStream,
		errorStream)

	httpServer := &http.Server{
		Addr:              svcs.CfgSvc.GetHTTPAddr(),
		Handler:           svr.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveResult := make(chan error, 1)
	go func() {
		lgr.Logger.Info(
			"http server listening",
			slog.String("addr", httpServer.Addr),
			slog.String("policy", policy.Name()),
			slog.Int("models", len(policy.Specs())),
		)
		serveResult <- httpServer.ListenAndServe()
	}()

	ticker := time.NewTicker(serverStatsInterval)
	defer ticker.Stop()

	var serveErr error

	// Wait for cancellation, server failure, stats or errors
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"server context cancelled",
			)
			goto resume

		case err := <-serveResult:
			if !errors.Is(err, http.ErrServerClosed) {
				serveErr = err
				procError(svcs.DataSvc, model.GenError("server",
					err,
					map[string]interface{}{},
					"http server stopped"))
			}
			goto resume

		case <-ticker.C:
			procStats(svcs.DataSvc, svr.Stats())

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

resume:
	lgr.Logger.Info(
		"server is shutting down",
	)

	shutdownPeriod := time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second
	shutdownCtx, shutdownFn := context.WithTimeout(context.Background(), shutdownPeriod)
	defer shutdownFn()

	// In-flight requests may still report stats while the server drains
	shutdownResult := make(chan error, 1)
	go func() {
		shutdownResult <- httpServer.Shutdown(shutdownCtx)
	}()

	for {
		select {
		case err := <-shutdownResult:
			if err != nil {
				lgr.Logger.Error("http server shutdown", lgr.Err(err))
			}
			drain(svcs, statsStream, errorStream)
			procStats(svcs.DataSvc, svr.Stats())
			return serveErr

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}
}

// drain persists whatever is left in the streams without blocking
func drain(svcs ServicesFactory, statsStream, errorStream chan interface{}) {
	for {
		select {
		case s := <-statsStream:
			procStats(svcs.DataSvc, s)
		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		default:
			return
		}
	}
}
