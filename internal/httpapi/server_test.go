package httpapi_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/avennor/sonalign/internal/eval"
	"github.com/avennor/sonalign/internal/history"
	"github.com/avennor/sonalign/internal/httpapi"
	"github.com/avennor/sonalign/internal/phoneme"
	"github.com/avennor/sonalign/pkg/provider/stt"
	sttmock "github.com/avennor/sonalign/pkg/provider/stt/mock"
)

func newTestServer(t *testing.T, opts ...httpapi.Option) *http.ServeMux {
	t.Helper()
	engine := eval.New(phoneme.New())
	mux := http.NewServeMux()
	httpapi.New(engine, opts...).Register(mux)
	return mux
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// makeWAV builds a minimal valid 16-bit PCM WAV file for audio endpoint tests.
func makeWAV(t *testing.T, samples int) []byte {
	t.Helper()
	dataLen := samples * 2
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // mono
	binary.Write(&buf, binary.LittleEndian, uint32(16000)) // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(16000*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	for range samples {
		binary.Write(&buf, binary.LittleEndian, int16(1000))
	}
	return buf.Bytes()
}

func TestEvaluate_Success(t *testing.T) {
	mux := newTestServer(t)

	rec := postJSON(t, mux, "/api/v1/evaluate", map[string]any{
		"sentence":      "hello world",
		"transcription": "hello world",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var res eval.Result
	decodeBody(t, rec, &res)
	if res.OriginalSentence != "hello world" {
		t.Errorf("original_sentence = %q", res.OriginalSentence)
	}
	if res.Scores.Overall != 100 {
		t.Errorf("overall = %.1f, want 100", res.Scores.Overall)
	}
	if res.Feedback == "" {
		t.Error("feedback is empty")
	}
}

func TestEvaluate_EmptySentenceIs400(t *testing.T) {
	mux := newTestServer(t)

	rec := postJSON(t, mux, "/api/v1/evaluate", map[string]any{
		"sentence":      "",
		"transcription": "hello",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] == "" {
		t.Error("error body is empty")
	}
}

func TestEvaluate_InvalidConfidenceIs400(t *testing.T) {
	mux := newTestServer(t)

	rec := postJSON(t, mux, "/api/v1/evaluate", map[string]any{
		"sentence":      "hello",
		"transcription": "hello",
		"confidence":    1.5,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEvaluate_MalformedJSONIs400(t *testing.T) {
	mux := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/evaluate", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEvaluate_UnknownFieldIs400(t *testing.T) {
	mux := newTestServer(t)

	rec := postJSON(t, mux, "/api/v1/evaluate", map[string]any{
		"sentence":      "hello",
		"transcription": "hello",
		"speed":         2.0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEvaluateWord_Success(t *testing.T) {
	mux := newTestServer(t)

	rec := postJSON(t, mux, "/api/v1/evaluate-word", map[string]any{
		"word":    "world",
		"attempt": "world",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var res eval.Result
	decodeBody(t, rec, &res)
	if res.WERScore != 0 {
		t.Errorf("wer_score = %.2f, want 0", res.WERScore)
	}
}

func TestEvaluateAudio_NoTranscriberIs503(t *testing.T) {
	mux := newTestServer(t)

	rec := postJSON(t, mux, "/api/v1/evaluate-audio", map[string]any{
		"sentence":     "hello",
		"audio_base64": base64.StdEncoding.EncodeToString(makeWAV(t, 160)),
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestEvaluateAudio_Success(t *testing.T) {
	transcriber := &sttmock.Transcriber{
		Result: stt.Result{Text: "hello world", Confidence: 0.9},
	}
	mux := newTestServer(t, httpapi.WithTranscriber(transcriber))

	rec := postJSON(t, mux, "/api/v1/evaluate-audio", map[string]any{
		"sentence":     "hello world",
		"audio_base64": base64.StdEncoding.EncodeToString(makeWAV(t, 160)),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var res eval.Result
	decodeBody(t, rec, &res)
	if res.TranscribedText != "hello world" {
		t.Errorf("transcribed_text = %q", res.TranscribedText)
	}
	if res.Confidence != 0.9 {
		t.Errorf("confidence = %.2f, want 0.9", res.Confidence)
	}
	if transcriber.CallCount() != 1 {
		t.Errorf("transcriber called %d times, want 1", transcriber.CallCount())
	}
}

func TestEvaluateAudio_InvalidBase64Is400(t *testing.T) {
	transcriber := &sttmock.Transcriber{}
	mux := newTestServer(t, httpapi.WithTranscriber(transcriber))

	rec := postJSON(t, mux, "/api/v1/evaluate-audio", map[string]any{
		"sentence":     "hello",
		"audio_base64": "@@not base64@@",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEvaluateAudio_NotWAVIs400(t *testing.T) {
	transcriber := &sttmock.Transcriber{}
	mux := newTestServer(t, httpapi.WithTranscriber(transcriber))

	rec := postJSON(t, mux, "/api/v1/evaluate-audio", map[string]any{
		"sentence":     "hello",
		"audio_base64": base64.StdEncoding.EncodeToString([]byte("definitely not a wav")),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEvaluateAudio_TranscriberErrorIs502(t *testing.T) {
	transcriber := &sttmock.Transcriber{Err: errors.New("model crashed")}
	mux := newTestServer(t, httpapi.WithTranscriber(transcriber))

	rec := postJSON(t, mux, "/api/v1/evaluate-audio", map[string]any{
		"sentence":     "hello",
		"audio_base64": base64.StdEncoding.EncodeToString(makeWAV(t, 160)),
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestPhonemes_Success(t *testing.T) {
	mux := newTestServer(t)

	rec := postJSON(t, mux, "/api/v1/phonemes", map[string]any{
		"sentence": "Good morning!",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Sentence string          `json:"sentence"`
		Phonemes []phoneme.Token `json:"phonemes"`
	}
	decodeBody(t, rec, &body)
	if len(body.Phonemes) != 2 {
		t.Fatalf("got %d phoneme tokens, want 2", len(body.Phonemes))
	}
	if body.Phonemes[0].Word != "good" {
		t.Errorf("phonemes[0].word = %q, want %q", body.Phonemes[0].Word, "good")
	}
}

func TestPhonemes_BlankIs400(t *testing.T) {
	mux := newTestServer(t)

	rec := postJSON(t, mux, "/api/v1/phonemes", map[string]any{"sentence": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHistory_RecordsEvaluations(t *testing.T) {
	store := &history.MemStore{}
	mux := newTestServer(t, httpapi.WithHistory(store))

	for range 3 {
		rec := postJSON(t, mux, "/api/v1/evaluate", map[string]any{
			"sentence":      "hello world",
			"transcription": "hello world",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("evaluate status = %d", rec.Code)
		}
	}

	req := httptest.NewRequest("GET", "/api/v1/history?limit=2", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}

	var body struct {
		Records []history.Record `json:"records"`
	}
	decodeBody(t, rec, &body)
	if len(body.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(body.Records))
	}
	if body.Records[0].Result.OriginalSentence != "hello world" {
		t.Errorf("record sentence = %q", body.Records[0].Result.OriginalSentence)
	}
}

func TestHistory_InvalidLimitIs400(t *testing.T) {
	mux := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/history?limit=abc", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHistory_EmptyIsEmptyList(t *testing.T) {
	mux := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/history", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"records":[]`) {
		t.Errorf("body should contain empty records list, got: %s", rec.Body.String())
	}
}

// failingStore always errors, for exercising the history degradation path.
type failingStore struct{}

func (failingStore) Save(context.Context, *eval.Result) error { return errors.New("db down") }
func (failingStore) Recent(context.Context, int) ([]history.Record, error) {
	return nil, errors.New("db down")
}

func TestEvaluate_HistoryFailureDoesNotFailRequest(t *testing.T) {
	mux := newTestServer(t, httpapi.WithHistory(failingStore{}))

	rec := postJSON(t, mux, "/api/v1/evaluate", map[string]any{
		"sentence":      "hello",
		"transcription": "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite history failure", rec.Code)
	}
}

func TestHistory_StoreErrorIs500(t *testing.T) {
	mux := newTestServer(t, httpapi.WithHistory(failingStore{}))

	req := httptest.NewRequest("GET", "/api/v1/history", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
