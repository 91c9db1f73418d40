package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/khaledhikmat/asd-go/model"
	"github.com/khaledhikmat/asd-go/pipeline"
	"github.com/khaledhikmat/asd-go/service/chat"
	"github.com/khaledhikmat/asd-go/service/lgr"
)

var uploadFields = []string{"file", "image"}

type upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type predictResponse struct {
	Filename    string          `json:"filename"`
	Predictions []model.Verdict `json:"predictions"`
}

type summaryResponse struct {
	Filename    string          `json:"filename"`
	Predictions []model.Verdict `json:"predictions"`
	Consensus   model.Label     `json:"consensus"`
	Response    string          `json:"response"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type videoResponse struct {
	Responses []string `json:"responses"`
}

type healthResponse struct {
	Status string   `json:"status"`
	Models []string `json:"models"`
	Policy string   `json:"policy"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	names := []string{}
	for _, spec := range s.Policy.Specs() {
		names = append(names, spec.Name)
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status: "healthy",
		Models: names,
		Policy: s.Policy.Name(),
	})
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	up, ok := s.readImage(w, r)
	if !ok {
		return
	}

	result, ok := s.runPrediction(w, r, up)
	if !ok {
		return
	}

	s.record(r.Context(), up, result, "")
	writeJSON(w, http.StatusOK, predictResponse{
		Filename:    up.Filename,
		Predictions: result.List(),
	})
}

func (s *Server) predictSummary(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	up, ok := s.readImage(w, r)
	if !ok {
		return
	}

	result, ok := s.runPrediction(w, r, up)
	if !ok {
		return
	}

	summary, err := s.Aggregator.Summarize(r.Context(), result)
	if err != nil {
		s.fail(w, r, "summary", err)
		return
	}

	s.record(r.Context(), up, result, summary.Consensus)
	writeJSON(w, http.StatusOK, summaryResponse{
		Filename:    up.Filename,
		Predictions: result.List(),
		Consensus:   summary.Consensus,
		Response:    summary.Narrative,
	})
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req chatRequest
	body := http.MaxBytesReader(w, r.Body, s.CfgSvc.GetMaxUploadBytes())
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	content, err := s.ChatSvc.Complete(r.Context(), []chat.Message{chat.UserText(req.Message)})
	if err != nil {
		s.fail(w, r, "chat", err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Response: content})
}

func (s *Server) analyzeVideo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	up, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	responses, err := s.Analyzer.Analyze(r.Context(), up.Data)
	if err != nil {
		s.fail(w, r, "analyze_video", err)
		return
	}

	writeJSON(w, http.StatusOK, videoResponse{Responses: responses})
}

// readImage reads the upload and rejects non-image content types
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) (upload, bool) {
	up, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return up, false
	}

	if !strings.HasPrefix(up.ContentType, "image/") {
		writeError(w, http.StatusBadRequest, "Only image files are supported")
		return up, false
	}
	return up, true
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (upload, error) {
	maxBytes := s.CfgSvc.GetMaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return upload{}, errors.New("failed to parse multipart form")
	}

	for _, field := range uploadFields {
		file, header, err := r.FormFile(field)
		if err != nil {
			continue
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return upload{}, errors.New("failed to read uploaded file")
		}

		return upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}, nil
	}

	return upload{}, errors.New("file is required")
}

func (s *Server) runPrediction(w http.ResponseWriter, r *http.Request, up upload) (model.PredictionResult, bool) {
	result, err := s.Predictor.Predict(r.Context(), pipeline.BytesInput{Data: up.Data})
	if err != nil {
		s.fail(w, r, "predict", err)
		return result, false
	}
	if result.Len() == 0 {
		s.fail(w, r, "predict", model.ErrNoPredictions)
		return result, false
	}
	return result, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		lgr.Logger.ErrorContext(r.Context(), op+" failed", lgr.Err(err))
		s.send(r.Context(), s.ErrorStream, model.GenError("api_"+op,
			err,
			map[string]interface{}{"path": r.URL.Path},
			"error handling %s",
			r.URL.Path))
	}
	writeError(w, status, err.Error())
}

func (s *Server) record(ctx context.Context, up upload, result model.PredictionResult, consensus model.Label) {
	s.send(ctx, s.StatsStream, model.PredictionRecord{
		ID:          uuid.NewString(),
		Filename:    up.Filename,
		ContentHash: result.Key,
		Verdicts:    result.List(),
		Consensus:   consensus,
		Cached:      result.Cached,
		Timestamp:   time.Now().Unix(),
	})
}

func (s *Server) send(ctx context.Context, stream chan interface{}, v interface{}) {
	if stream == nil {
		return
	}

	select {
	case <-ctx.Done():
	case stream <- v:
	}
}
