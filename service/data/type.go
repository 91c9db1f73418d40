package data

import "github.com/khaledhikmat/asd-go/model"

type IService interface {
	NewPrediction(rec model.PredictionRecord) error
	RetrievePredictions(max int) ([]model.PredictionRecord, error)

	NewError(err interface{}) error
	NewPredictorStats(stats model.PredictorStats) error
	NewSamplerStats(stats model.SamplerStats) error
	NewServerStats(stats model.ServerStats) error
}
