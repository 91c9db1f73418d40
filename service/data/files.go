package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/service/config"
)

type filesDBService struct {
	CfgSvc config.IService
	mu     sync.Mutex
}

// NewFilesDB stores every entity kind as a JSON array in its own file under
// the data folder
func NewFilesDB(cfgsvc config.IService) IService {
	return &filesDBService{
		CfgSvc: cfgsvc,
	}
}

func (svc *filesDBService) NewPrediction(rec model.PredictionRecord) error {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().Unix()
	}
	return svc.save(rec, "predictions")
}

// RetrievePredictions returns the most recent records, newest first
func (svc *filesDBService) RetrievePredictions(max int) ([]model.PredictionRecord, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	records, err := retrieveEntites[model.PredictionRecord]("predictions", svc.CfgSvc)
	if err != nil {
		return nil, err
	}

	result := []model.PredictionRecord{}
	for i := len(records) - 1; i >= 0; i-- {
		if max > 0 && len(result) >= max {
			break
		}
		result = append(result, records[i])
	}
	return result, nil
}

func (svc *filesDBService) NewError(err interface{}) error {
	// Determine if the error is custom
	var customErr model.CustomError
	switch e := err.(type) {
	case model.CustomError:
		customErr = e
	case error:
		customErr.Processor = "N/A"
		customErr.Inner = e
		customErr.Message = e.Error()
		customErr.StackTrace = "N/A"
	default:
		customErr.Processor = "N/A"
		customErr.Inner = fmt.Errorf("%v", err)
		customErr.Message = customErr.Inner.Error()
		customErr.StackTrace = "N/A"
	}

	inner := ""
	if customErr.Inner != nil {
		inner = customErr.Inner.Error()
	}

	errorData := struct {
		Timestamp  int64                  `json:"timestamp"`
		Processor  string                 `json:"processor"`
		Inner      string                 `json:"innerError"`
		Message    string                 `json:"message"`
		StackTrace string                 `json:"stackTrace"`
		Misc       map[string]interface{} `json:"misc"`
	}{
		Timestamp:  time.Now().Unix(),
		Processor:  customErr.Processor,
		Inner:      inner,
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	}
	return svc.save(errorData, "errors")
}

func (svc *filesDBService) NewPredictorStats(stats model.PredictorStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.save(stats, "predictor-stats")
}

func (svc *filesDBService) NewSamplerStats(stats model.SamplerStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.save(stats, "sampler-stats")
}

func (svc *filesDBService) NewServerStats(stats model.ServerStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.save(stats, "server-stats")
}

func (svc *filesDBService) save(entity any, filename string) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return newEntity(entity, filename, svc.CfgSvc)
}

func entityPath(filename string, cfgsvc config.IService) string {
	return filepath.Join(cfgsvc.GetDataFolder(), filename+".json")
}

func newEntity[T any](entity T, filename string, cfgsvc config.IService) error {
	entities, err := retrieveEntites[T](filename, cfgsvc)
	if err != nil {
		return err
	}

	entities = append(entities, entity)

	data, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		return err
	}

	err = os.MkdirAll(cfgsvc.GetDataFolder(), 0755)
	if err != nil {
		return err
	}

	// Write the JSON data to the file (with truncation)
	return os.WriteFile(entityPath(filename, cfgsvc), data, 0644)
}

func retrieveEntites[T any](filename string, cfgsvc config.IService) ([]T, error) {
	entities := []T{}

	data, err := os.ReadFile(entityPath(filename, cfgsvc))
	if errors.Is(err, os.ErrNotExist) {
		return entities, nil
	}
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(data, &entities)
	if err != nil {
		return nil, err
	}

	return entities, nil
}
