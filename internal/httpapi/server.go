// Package httpapi exposes the pronunciation evaluation pipeline over HTTP.
//
// All endpoints accept and return JSON. Validation failures map to 400 with a
// body of the form {"error": "..."}; an unconfigured transcriber maps to 503
// on the audio endpoint. History persistence is best-effort and never fails
// a request.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/avennor/sonalign/internal/eval"
	"github.com/avennor/sonalign/internal/history"
	"github.com/avennor/sonalign/internal/observe"
	"github.com/avennor/sonalign/internal/phoneme"
	"github.com/avennor/sonalign/pkg/audio"
	"github.com/avennor/sonalign/pkg/provider/stt"
)

const (
	// maxBodyBytes bounds request bodies. Audio requests carry base64 WAV so
	// the limit is generous; text-only requests stay far below it.
	maxBodyBytes = 10 << 20

	// defaultConfidence substitutes for a missing confidence on text
	// endpoints, matching the transcriber's no-token default.
	defaultConfidence = 0.8

	// defaultHistoryLimit is how many records GET /history returns when the
	// limit query parameter is absent.
	defaultHistoryLimit = 20

	// maxHistoryLimit caps the limit query parameter.
	maxHistoryLimit = 100
)

// Server holds the handlers for the evaluation API. Construct with [New] and
// mount via [Server.Register]. Safe for concurrent use.
type Server struct {
	engine      atomic.Pointer[eval.Engine]
	transcriber stt.Transcriber
	store       history.Store
	metrics     *observe.Metrics
}

// Option configures a [Server].
type Option func(*Server)

// WithTranscriber enables the audio evaluation endpoint. Without it,
// POST /api/v1/evaluate-audio returns 503.
func WithTranscriber(t stt.Transcriber) Option {
	return func(s *Server) { s.transcriber = t }
}

// WithHistory sets the evaluation history store. Defaults to an in-memory
// store when not provided.
func WithHistory(st history.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a [Server] around the given evaluation engine.
func New(engine *eval.Engine, opts ...Option) *Server {
	s := &Server{}
	s.engine.Store(engine)
	for _, o := range opts {
		o(s)
	}
	if s.store == nil {
		s.store = &history.MemStore{}
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetEngine swaps the evaluation engine. In-flight requests keep the engine
// they started with; new requests see the replacement. Used for configuration
// hot reload.
func (s *Server) SetEngine(engine *eval.Engine) {
	s.engine.Store(engine)
}

// Register adds all API routes to mux. Health and metrics endpoints are
// registered separately by the caller.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /api/v1/evaluate-word", s.handleEvaluateWord)
	mux.HandleFunc("POST /api/v1/evaluate-audio", s.handleEvaluateAudio)
	mux.HandleFunc("POST /api/v1/phonemes", s.handlePhonemes)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
}

// ─── Request/response shapes ─────────────────────────────────────────────────

type evaluateRequest struct {
	Sentence      string   `json:"sentence"`
	Transcription string   `json:"transcription"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

type evaluateWordRequest struct {
	Word       string   `json:"word"`
	Attempt    string   `json:"attempt"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type evaluateAudioRequest struct {
	Sentence    string `json:"sentence"`
	AudioBase64 string `json:"audio_base64"`
}

type phonemesRequest struct {
	Sentence string `json:"sentence"`
}

type phonemesResponse struct {
	Sentence string          `json:"sentence"`
	Phonemes []phoneme.Token `json:"phonemes"`
}

type historyResponse struct {
	Records []history.Record `json:"records"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !s.decode(w, r, &req) {
		return
	}

	confidence := defaultConfidence
	if req.Confidence != nil {
		confidence = *req.Confidence
	}

	start := time.Now()
	res, err := s.engine.Load().Evaluate(r.Context(), req.Sentence, req.Transcription, confidence)
	s.metrics.EvalDuration.Record(r.Context(), time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("kind", "sentence")))
	if err != nil {
		s.evalError(w, r.Context(), "sentence", err)
		return
	}
	s.metrics.RecordEvalRequest(r.Context(), "sentence", "ok")

	s.saveHistory(r.Context(), res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEvaluateWord(w http.ResponseWriter, r *http.Request) {
	var req evaluateWordRequest
	if !s.decode(w, r, &req) {
		return
	}

	confidence := defaultConfidence
	if req.Confidence != nil {
		confidence = *req.Confidence
	}

	start := time.Now()
	res, err := s.engine.Load().EvaluateWord(r.Context(), req.Word, req.Attempt, confidence)
	s.metrics.EvalDuration.Record(r.Context(), time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("kind", "word")))
	if err != nil {
		s.evalError(w, r.Context(), "word", err)
		return
	}
	s.metrics.RecordEvalRequest(r.Context(), "word", "ok")

	s.saveHistory(r.Context(), res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEvaluateAudio(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		writeJSON(w, http.StatusServiceUnavailable,
			errorResponse{Error: "audio evaluation is not configured"})
		return
	}

	var req evaluateAudioRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.AudioBase64 == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "audio_base64 is required"})
		return
	}

	raw, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "audio_base64 is not valid base64"})
		return
	}
	clip, err := audio.Decode(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "audio decode: " + err.Error()})
		return
	}

	sttStart := time.Now()
	tr, err := s.transcriber.Transcribe(r.Context(), clip.MonoAt(stt.SampleRate))
	s.metrics.STTDuration.Record(r.Context(), time.Since(sttStart).Seconds())
	if err != nil {
		s.metrics.RecordEvalRequest(r.Context(), "audio", "error")
		observe.Logger(r.Context()).Error("transcription failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "transcription failed"})
		return
	}

	start := time.Now()
	res, err := s.engine.Load().Evaluate(r.Context(), req.Sentence, tr.Text, tr.Confidence)
	s.metrics.EvalDuration.Record(r.Context(), time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("kind", "audio")))
	if err != nil {
		s.evalError(w, r.Context(), "audio", err)
		return
	}
	s.metrics.RecordEvalRequest(r.Context(), "audio", "ok")

	s.saveHistory(r.Context(), res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePhonemes(w http.ResponseWriter, r *http.Request) {
	var req phonemesRequest
	if !s.decode(w, r, &req) {
		return
	}

	start := time.Now()
	tokens, err := s.engine.Load().PhonemizeSentence(req.Sentence)
	s.metrics.PhonemizeDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		s.evalError(w, r.Context(), "phonemes", err)
		return
	}

	writeJSON(w, http.StatusOK, phonemesResponse{Sentence: req.Sentence, Phonemes: tokens})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("history query failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "history unavailable"})
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Records: records})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// decode reads the JSON request body into v. On failure it writes a 400
// response and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge,
				errorResponse{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

// evalError maps engine failures to HTTP responses: input validation errors
// become 400, everything else 500.
func (s *Server) evalError(w http.ResponseWriter, ctx context.Context, kind string, err error) {
	s.metrics.RecordEvalError(ctx, kind)
	s.metrics.RecordEvalRequest(ctx, kind, "error")

	var inputErr *eval.InputError
	if errors.As(err, &inputErr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: inputErr.Error()})
		return
	}
	observe.Logger(ctx).Error("evaluation failed", "kind", kind, "err", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "evaluation failed"})
}

// saveHistory persists the result best-effort. Failures are logged, counted,
// and otherwise ignored.
func (s *Server) saveHistory(ctx context.Context, res *eval.Result) {
	if err := s.store.Save(ctx, res); err != nil {
		s.metrics.RecordHistoryWrite(ctx, "error")
		slog.Warn("failed to persist evaluation", "err", err)
		return
	}
	s.metrics.RecordHistoryWrite(ctx, "ok")
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}
