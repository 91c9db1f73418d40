package model

import (
	"fmt"
	"runtime/debug"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

type Label string

const (
	Autistic    Label = "Autistic"
	NonAutistic Label = "Non-Autistic"
)

// Output conventions of the classifiers
const (
	OutputSoftmax = "softmax"
	OutputSigmoid = "sigmoid"
)

type Verdict struct {
	Model      string  `json:"label"`
	Class      Label   `json:"class"`
	Confidence float64 `json:"confidence"`
}

// PredictionResult holds one verdict per active model. Order is the order in
// which the models were invoked; Verdicts is keyed by model display name.
type PredictionResult struct {
	Order    []string           `json:"order"`
	Verdicts map[string]Verdict `json:"verdicts"`

	// Key is the content hash of the preprocessed image
	Key    string `json:"-"`
	Cached bool   `json:"-"`
}

func NewPredictionResult(capacity int) PredictionResult {
	return PredictionResult{
		Order:    make([]string, 0, capacity),
		Verdicts: make(map[string]Verdict, capacity),
	}
}

func (r *PredictionResult) Add(v Verdict) {
	if _, ok := r.Verdicts[v.Model]; !ok {
		r.Order = append(r.Order, v.Model)
	}
	r.Verdicts[v.Model] = v
}

// List returns the verdicts in invocation order
func (r PredictionResult) List() []Verdict {
	list := make([]Verdict, 0, len(r.Order))
	for _, name := range r.Order {
		list = append(list, r.Verdicts[name])
	}
	return list
}

func (r PredictionResult) Len() int {
	return len(r.Order)
}

type Summary struct {
	Consensus Label  `json:"consensus"`
	Narrative string `json:"response"`
}

type PredictionRecord struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentHash string    `json:"contentHash"`
	Verdicts    []Verdict `json:"verdicts"`
	Consensus   Label     `json:"consensus,omitempty"`
	Cached      bool      `json:"cached"`
	Timestamp   int64     `json:"timestamp"`
}

type PredictorStats struct {
	Name        string  `json:"name"`
	Models      int     `json:"models"`
	Cached      bool    `json:"cached"`
	Errors      int     `json:"errors"`
	ProcTime    float64 `json:"procTime"`
	MemoryMiB   float64 `json:"memoryMiB"`
	Timestamp   int64   `json:"timestamp"`
	Predictions int64   `json:"predictions"`
}

type SamplerStats struct {
	Name      string  `json:"name"`
	FPS       float64 `json:"fps"`
	Interval  int     `json:"interval"`
	Frames    int     `json:"frames"`
	Sampled   int     `json:"sampled"`
	Errors    int     `json:"errors"`
	ProcTime  float64 `json:"procTime"`
	Timestamp int64   `json:"timestamp"`
}

type ServerStats struct {
	TotalRequests   int64   `json:"requests"`
	TotalFailures   int64   `json:"failures"`
	Uptime          int64   `json:"uptime"`
	AvgRequestsPerM float64 `json:"avgRequestsPerMin"`
	Timestamp       int64   `json:"timestamp"`
}
