package mode

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/pipeline"
)

// Predict runs the ensemble once on the image named by the first argument and
// prints the verdicts as a table
func Predict(canxCtx context.Context, svcs ServicesFactory, args []string) error {
	_, _, err := predictOnce(canxCtx, svcs, args, false)
	return err
}

// Summarize is Predict followed by the chat narrative of the verdicts
func Summarize(canxCtx context.Context, svcs ServicesFactory, args []string) error {
	_, _, err := predictOnce(canxCtx, svcs, args, true)
	return err
}

func predictOnce(canxCtx context.Context, svcs ServicesFactory, args []string, summarize bool) (model.PredictionResult, model.Summary, error) {
	var summary model.Summary

	if len(args) == 0 {
		return model.PredictionResult{}, summary, errors.New("an image path is required")
	}
	path := args[0]

	statsStream := make(chan interface{}, streamBuffer)
	defer drain(svcs, statsStream, nil)

	policy, err := newPolicy(canxCtx, svcs)
	if err != nil {
		return model.PredictionResult{}, summary, err
	}
	defer policy.Close()

	predictor, err := newPredictor(policy, 0, statsStream)
	if err != nil {
		return model.PredictionResult{}, summary, err
	}

	start := time.Now()
	result, err := predictor.Predict(canxCtx, pipeline.PathInput{Path: path})
	if err != nil {
		procError(svcs.DataSvc, model.GenError("predict",
			err,
			map[string]interface{}{"path": path},
			"error predicting image: %s",
			path))
		return result, summary, err
	}

	if summarize {
		aggregationPolicy, err := pipeline.NewAggregationPolicy(svcs.CfgSvc)
		if err != nil {
			return result, summary, err
		}
		summary, err = pipeline.NewAggregator(svcs.ChatSvc, aggregationPolicy).Summarize(canxCtx, result)
		if err != nil {
			return result, summary, err
		}
	}

	statsStream <- model.PredictionRecord{
		ID:          uuid.NewString(),
		Filename:    filepath.Base(path),
		ContentHash: result.Key,
		Verdicts:    result.List(),
		Consensus:   summary.Consensus,
		Timestamp:   time.Now().Unix(),
	}

	out := svcs.output()
	fmt.Fprintln(out, renderVerdicts(result))
	if summarize {
		fmt.Fprintf(out, "\nConsensus: %s\n\n%s\n", summary.Consensus, summary.Narrative)
	}
	fmt.Fprintf(out, "\n%s in %s\n", filepath.Base(path), time.Since(start).Round(time.Millisecond))

	return result, summary, nil
}

func renderVerdicts(result model.PredictionResult) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Model", "Class", "Confidence"})

	for _, v := range result.List() {
		tw.AppendRow(table.Row{v.Model, v.Class, fmt.Sprintf("%.2f", v.Confidence)})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
