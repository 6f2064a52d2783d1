package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/faceless-tools/faceless/internal/anonymizer"
	"github.com/faceless-tools/faceless/internal/dispatch"
	"github.com/faceless-tools/faceless/internal/media"
	"github.com/faceless-tools/faceless/internal/preview"
	"github.com/faceless-tools/faceless/internal/queue"
	"github.com/faceless-tools/faceless/internal/quota"
)

// fakeService answers anonymization calls without a network. The default
// behavior is success for every file.
type fakeService struct {
	mu      sync.Mutex
	imageFn func(anonymizer.Upload) (*anonymizer.Result, error)
	batchFn func([]anonymizer.Upload) (*anonymizer.BatchResponse, error)
	block   chan struct{}
}

func (f *fakeService) AnonymizeImage(ctx context.Context, u anonymizer.Upload, opts anonymizer.Options) (*anonymizer.Result, error) {
	f.mu.Lock()
	fn := f.imageFn
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if fn != nil {
		return fn(u)
	}
	return &anonymizer.Result{Data: []byte("processed"), ContentType: "image/jpeg", FacesDetected: 1}, nil
}

func (f *fakeService) AnonymizeVideo(ctx context.Context, u anonymizer.Upload, opts anonymizer.Options) (*anonymizer.Result, error) {
	return &anonymizer.Result{Data: []byte("processed"), ContentType: "video/mp4", FacesDetected: 1, FramesProcessed: 10}, nil
}

func (f *fakeService) AnonymizeBatch(ctx context.Context, uploads []anonymizer.Upload, opts anonymizer.Options) (*anonymizer.BatchResponse, error) {
	f.mu.Lock()
	fn := f.batchFn
	f.mu.Unlock()

	if fn != nil {
		return fn(uploads)
	}

	results := make([]anonymizer.BatchResult, len(uploads))
	for i, u := range uploads {
		results[i] = anonymizer.BatchResult{
			Filename:      u.Name,
			Status:        "success",
			FacesDetected: 1,
			ImageData:     "data:image/jpeg;base64,cHJvY2Vzc2Vk", // "processed"
		}
	}
	return &anonymizer.BatchResponse{Results: results}, nil
}

type fakeQuotaSource struct {
	mu    sync.Mutex
	limit *anonymizer.RateLimit
	calls int
}

func (f *fakeQuotaSource) RateLimit(ctx context.Context) (*anonymizer.RateLimit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.limit, nil
}

func (f *fakeQuotaSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fixture wires the handler dependencies around fakes.
type fixture struct {
	store    *queue.Store
	previews *preview.Store
	gate     *quota.Gate
	orch     *dispatch.Orchestrator
	settings *SettingsManager
	service  *fakeService
	source   *fakeQuotaSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	previews := preview.NewStore()
	store := queue.NewStore(func(h *preview.Handle) { previews.Release(h) })
	service := &fakeService{}
	source := &fakeQuotaSource{limit: &anonymizer.RateLimit{Used: 0, Remaining: 10, Limit: 10}}
	gate := quota.NewGate(source, zap.NewNop())
	orch := dispatch.New(service, store, gate, previews, zap.NewNop())

	return &fixture{
		store:    store,
		previews: previews,
		gate:     gate,
		orch:     orch,
		settings: NewSettingsManager(),
		service:  service,
		source:   source,
	}
}

func (f *fixture) queueHandler() *QueueHandler {
	return NewQueueHandler(f.store, f.settings, f.orch, zap.NewNop())
}

func (f *fixture) settingsHandler() *SettingsHandler {
	return NewSettingsHandler(f.settings, f.store, zap.NewNop())
}

func (f *fixture) runHandler() *RunHandler {
	return NewRunHandler(f.orch, f.store, f.settings, f.gate, zap.NewNop())
}

// fillQueue puts pending entries in the store directly.
func (f *fixture) fillQueue(t *testing.T, names ...string) []queue.Entry {
	t.Helper()
	entries := make([]queue.Entry, 0, len(names))
	for _, name := range names {
		file, err := media.FromBytes(name, []byte("content"))
		if err != nil {
			t.Fatalf("failed to build file %s: %v", name, err)
		}
		entries = append(entries, queue.NewEntry(file))
	}
	f.store.ReplaceAll(entries)
	return entries
}

type uploadFile struct {
	name string
	data []byte
}

// multipartRequest builds a POST with the given files under the "files" field.
func multipartRequest(t *testing.T, path string, files []uploadFile) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write(f.data); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters.
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type.
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code.
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message.
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
