package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/faceless-tools/faceless/internal/anonymizer"
	"github.com/faceless-tools/faceless/internal/media"
	"github.com/faceless-tools/faceless/internal/preview"
	"github.com/faceless-tools/faceless/internal/queue"
	"github.com/faceless-tools/faceless/internal/quota"
)

type fakeService struct {
	mu         sync.Mutex
	imageCalls int
	videoCalls int
	batchCalls int
	uploads    []anonymizer.Upload

	imageFn func(anonymizer.Upload) (*anonymizer.Result, error)
	videoFn func(anonymizer.Upload) (*anonymizer.Result, error)
	batchFn func([]anonymizer.Upload) (*anonymizer.BatchResponse, error)

	entered   chan struct{} // closed when the first call begins
	enterOnce sync.Once
	block     chan struct{} // when set, calls wait here before answering
}

func (f *fakeService) enter() chan struct{} {
	f.enterOnce.Do(func() {
		if f.entered != nil {
			close(f.entered)
		}
	})
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block
}

func (f *fakeService) AnonymizeImage(ctx context.Context, u anonymizer.Upload, opts anonymizer.Options) (*anonymizer.Result, error) {
	f.mu.Lock()
	f.imageCalls++
	f.uploads = append(f.uploads, u)
	fn := f.imageFn
	f.mu.Unlock()

	if block := f.enter(); block != nil {
		<-block
	}
	if fn == nil {
		return &anonymizer.Result{Data: []byte("processed"), ContentType: "image/jpeg", FacesDetected: 1}, nil
	}
	return fn(u)
}

func (f *fakeService) AnonymizeVideo(ctx context.Context, u anonymizer.Upload, opts anonymizer.Options) (*anonymizer.Result, error) {
	f.mu.Lock()
	f.videoCalls++
	f.uploads = append(f.uploads, u)
	fn := f.videoFn
	f.mu.Unlock()

	if block := f.enter(); block != nil {
		<-block
	}
	if fn == nil {
		return &anonymizer.Result{Data: []byte("processed"), ContentType: "video/mp4", FacesDetected: 2, FramesProcessed: 30}, nil
	}
	return fn(u)
}

func (f *fakeService) AnonymizeBatch(ctx context.Context, uploads []anonymizer.Upload, opts anonymizer.Options) (*anonymizer.BatchResponse, error) {
	f.mu.Lock()
	f.batchCalls++
	f.uploads = append(f.uploads, uploads...)
	fn := f.batchFn
	f.mu.Unlock()

	if block := f.enter(); block != nil {
		<-block
	}
	if fn == nil {
		return successBatchResponse(uploads), nil
	}
	return fn(uploads)
}

func (f *fakeService) calls() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imageCalls, f.videoCalls, f.batchCalls
}

// successBatchResponse answers every upload with a decodable success result.
func successBatchResponse(uploads []anonymizer.Upload) *anonymizer.BatchResponse {
	results := make([]anonymizer.BatchResult, len(uploads))
	for i, u := range uploads {
		results[i] = anonymizer.BatchResult{
			Filename:      u.Name,
			Status:        "success",
			FacesDetected: 2,
			ImageData:     "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("processed-"+u.Name)),
		}
	}
	return &anonymizer.BatchResponse{Results: results}
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
	if f.limit == nil {
		return nil, errors.New("unreachable")
	}
	return f.limit, nil
}

func (f *fakeQuotaSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	service  *fakeService
	source   *fakeQuotaSource
	gate     *quota.Gate
	store    *queue.Store
	previews *preview.Store
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	previews := preview.NewStore()
	store := queue.NewStore(func(h *preview.Handle) { previews.Release(h) })
	service := &fakeService{}
	source := &fakeQuotaSource{limit: &anonymizer.RateLimit{Used: 0, Remaining: 10, Limit: 10}}
	gate := quota.NewGate(source, zap.NewNop())

	return &fixture{
		service:  service,
		source:   source,
		gate:     gate,
		store:    store,
		previews: previews,
		orch:     New(service, store, gate, previews, zap.NewNop()),
	}
}

func (f *fixture) fill(t *testing.T, names ...string) []queue.Entry {
	t.Helper()
	entries := make([]queue.Entry, 0, len(names))
	for _, name := range names {
		file, err := media.FromBytes(name, []byte("content-of-"+name))
		if err != nil {
			t.Fatalf("failed to build file %s: %v", name, err)
		}
		entries = append(entries, queue.NewEntry(file))
	}
	f.store.ReplaceAll(entries)
	return entries
}

func TestRunSingleImage(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "party.jpg")

	if err := f.orch.Run(context.Background(), DefaultSettings()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := f.store.Entries()[0]
	if got.Status != queue.StatusSuccess {
		t.Errorf("expected status success, got '%s'", got.Status)
	}
	if got.FacesDetected != 1 {
		t.Errorf("expected 1 face detected, got %d", got.FacesDetected)
	}
	if got.Preview == nil {
		t.Fatal("expected preview handle on success")
	}
	if got.Preview.Name != "anonymized_party.jpg" {
		t.Errorf("expected download name 'anonymized_party.jpg', got '%s'", got.Preview.Name)
	}

	images, videos, batches := f.service.calls()
	if images != 1 || videos != 0 || batches != 0 {
		t.Errorf("expected exactly one image call, got image=%d video=%d batch=%d", images, videos, batches)
	}
	if f.source.callCount() != 1 {
		t.Errorf("expected quota refresh after run, got %d source calls", f.source.callCount())
	}
}

func TestRunSingleVideoUsesVideoEndpoint(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "clip.mp4")

	if err := f.orch.Run(context.Background(), DefaultSettings()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	images, videos, _ := f.service.calls()
	if videos != 1 {
		t.Errorf("expected 1 video call, got %d", videos)
	}
	if images != 0 {
		t.Errorf("expected no image calls for a video, got %d", images)
	}

	got := f.store.Entries()[0]
	if got.Status != queue.StatusSuccess {
		t.Errorf("expected status success, got '%s'", got.Status)
	}
	if got.FacesDetected != 2 {
		t.Errorf("expected 2 faces detected, got %d", got.FacesDetected)
	}
}

func TestRunSingleUploadsUnderWireName(t *testing.T) {
	f := newFixture(t)
	entries := f.fill(t, "party.jpg")

	if err := f.orch.Run(context.Background(), DefaultSettings()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(f.service.uploads) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(f.service.uploads))
	}
	if f.service.uploads[0].Name != entries[0].WireName() {
		t.Errorf("expected upload name '%s', got '%s'", entries[0].WireName(), f.service.uploads[0].Name)
	}
	if f.service.uploads[0].ContentType != "image/jpeg" {
		t.Errorf("expected upload content type 'image/jpeg', got '%s'", f.service.uploads[0].ContentType)
	}
}

func TestRunSingleFailureMarksEntry(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "party.jpg")
	f.service.imageFn = func(anonymizer.Upload) (*anonymizer.Result, error) {
		return nil, &anonymizer.APIError{StatusCode: http.StatusBadRequest, Message: "No faces detected in image"}
	}

	if err := f.orch.Run(context.Background(), DefaultSettings()); err != nil {
		t.Fatalf("expected per-file failure to not fail the run, got %v", err)
	}

	got := f.store.Entries()[0]
	if got.Status != queue.StatusError {
		t.Errorf("expected status error, got '%s'", got.Status)
	}
	if got.ErrorMessage != "No faces detected in image" {
		t.Errorf("expected server message on entry, got '%s'", got.ErrorMessage)
	}
	if got.Preview != nil {
		t.Error("expected no preview on failed entry")
	}
	if f.previews.Len() != 0 {
		t.Errorf("expected no preview blobs, got %d", f.previews.Len())
	}
}

func TestRunSingleTransportFailureGenericMessage(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "party.jpg")
	f.service.imageFn = func(anonymizer.Upload) (*anonymizer.Result, error) {
		return nil, errors.New("connection reset by peer")
	}

	if err := f.orch.Run(context.Background(), DefaultSettings()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := f.store.Entries()[0]
	if got.Status != queue.StatusError {
		t.Errorf("expected status error, got '%s'", got.Status)
	}
	if got.ErrorMessage != "processing failed" {
		t.Errorf("expected generic message, got '%s'", got.ErrorMessage)
	}
}

func TestRunSingleQuotaExhaustedResetsEntry(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "party.jpg")
	f.service.imageFn = func(anonymizer.Upload) (*anonymizer.Result, error) {
		return nil, &anonymizer.APIError{StatusCode: http.StatusTooManyRequests, Message: "Rate limit exceeded. Maximum 10 requests per hour."}
	}

	err := f.orch.Run(context.Background(), DefaultSettings())
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}

	got := f.store.Entries()[0]
	if got.Status != queue.StatusPending {
		t.Errorf("expected entry back to pending after 429, got '%s'", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Errorf("expected no error message after reset, got '%s'", got.ErrorMessage)
	}
}

func TestRunEmptyQueue(t *testing.T) {
	f := newFixture(t)

	err := f.orch.Run(context.Background(), DefaultSettings())
	if !errors.Is(err, ErrEmptyQueue) {
		t.Fatalf("expected ErrEmptyQueue, got %v", err)
	}

	images, videos, batches := f.service.calls()
	if images+videos+batches != 0 {
		t.Error("expected no service calls for an empty queue")
	}
	if f.source.callCount() != 0 {
		t.Errorf("expected no quota refresh for a rejected run, got %d calls", f.source.callCount())
	}
}

func TestRunQuotaPreconditionBlocks(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "party.jpg")

	f.source.limit = &anonymizer.RateLimit{Used: 10, Remaining: 0, Limit: 10}
	f.gate.Refresh(context.Background())
	callsAfterRefresh := f.source.callCount()

	err := f.orch.Run(context.Background(), DefaultSettings())
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}

	images, videos, batches := f.service.calls()
	if images+videos+batches != 0 {
		t.Error("expected no service calls when the gate blocks")
	}
	if got := f.store.Entries()[0].Status; got != queue.StatusPending {
		t.Errorf("expected entry to stay pending, got '%s'", got)
	}
	if f.source.callCount() != callsAfterRefresh {
		t.Error("expected no quota refresh for a gate-rejected run")
	}
}

func TestRunInvalidSettings(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "party.jpg")

	settings := DefaultSettings()
	settings.Intensity = 7

	if err := f.orch.Run(context.Background(), settings); err == nil {
		t.Fatal("expected error for out-of-range intensity")
	}

	images, videos, batches := f.service.calls()
	if images+videos+batches != 0 {
		t.Error("expected no service calls for invalid settings")
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "party.jpg")

	entered := make(chan struct{})
	release := make(chan struct{})
	f.service.entered = entered
	f.service.block = release

	done := make(chan error, 1)
	go func() {
		done <- f.orch.Run(context.Background(), DefaultSettings())
	}()

	<-entered
	if !f.orch.Running() {
		t.Error("expected orchestrator to report running")
	}
	if err := f.orch.Run(context.Background(), DefaultSettings()); !errors.Is(err, ErrRunActive) {
		t.Errorf("expected ErrRunActive, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if f.orch.Running() {
		t.Error("expected orchestrator idle after run")
	}
}

func batchSettings() Settings {
	s := DefaultSettings()
	s.Mode = queue.ModeBatch
	return s
}

func TestRunBatchAllSucceed(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "a.jpg", "b.png", "c.webp")

	if err := f.orch.Run(context.Background(), batchSettings()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	_, _, batches := f.service.calls()
	if batches != 1 {
		t.Errorf("expected one batch call, got %d", batches)
	}
	if len(f.service.uploads) != 3 {
		t.Errorf("expected 3 uploads in one request, got %d", len(f.service.uploads))
	}

	for _, e := range f.store.Entries() {
		if e.Status != queue.StatusSuccess {
			t.Errorf("expected entry '%s' success, got '%s'", e.File.Name, e.Status)
		}
		if e.Preview == nil {
			t.Errorf("expected preview on entry '%s'", e.File.Name)
		}
		if e.FacesDetected != 2 {
			t.Errorf("expected 2 faces on entry '%s', got %d", e.File.Name, e.FacesDetected)
		}
	}
	if f.previews.Len() != 3 {
		t.Errorf("expected 3 preview blobs, got %d", f.previews.Len())
	}
}

func TestRunBatchPartialFailure(t *testing.T) {
	f := newFixture(t)
	entries := f.fill(t, "a.jpg", "b.jpg", "c.jpg")

	failWire := entries[1].WireName()
	f.service.batchFn = func(uploads []anonymizer.Upload) (*anonymizer.BatchResponse, error) {
		resp := successBatchResponse(uploads)
		for i := range resp.Results {
			if resp.Results[i].Filename == failWire {
				resp.Results[i] = anonymizer.BatchResult{
					Filename: failWire,
					Status:   "error",
					Error:    "could not decode image",
				}
			}
		}
		return resp, nil
	}

	if err := f.orch.Run(context.Background(), batchSettings()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := f.store.Entries()
	if got[0].Status != queue.StatusSuccess {
		t.Errorf("expected first entry success, got '%s'", got[0].Status)
	}
	if got[1].Status != queue.StatusError {
		t.Errorf("expected second entry error, got '%s'", got[1].Status)
	}
	if got[1].ErrorMessage != "could not decode image" {
		t.Errorf("expected per-file message, got '%s'", got[1].ErrorMessage)
	}
	if got[2].Status != queue.StatusSuccess {
		t.Errorf("expected third entry success, got '%s'", got[2].Status)
	}
}

func TestRunBatchSkipsVideos(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "a.jpg", "clip.mp4", "b.png")

	if err := f.orch.Run(context.Background(), batchSettings()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(f.service.uploads) != 2 {
		t.Fatalf("expected 2 uploads (images only), got %d", len(f.service.uploads))
	}

	got := f.store.Entries()
	if got[1].Status != queue.StatusPending {
		t.Errorf("expected video entry to stay pending, got '%s'", got[1].Status)
	}
	if got[0].Status != queue.StatusSuccess || got[2].Status != queue.StatusSuccess {
		t.Errorf("expected image entries success, got '%s' and '%s'", got[0].Status, got[2].Status)
	}
}

func TestRunBatchNoEligibleFiles(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "clip.mp4", "movie.mov")

	err := f.orch.Run(context.Background(), batchSettings())
	if !errors.Is(err, ErrNoEligibleFiles) {
		t.Fatalf("expected ErrNoEligibleFiles, got %v", err)
	}

	for _, e := range f.store.Entries() {
		if e.Status != queue.StatusPending {
			t.Errorf("expected entry '%s' untouched, got '%s'", e.File.Name, e.Status)
		}
	}
	if f.source.callCount() != 0 {
		t.Error("expected no quota refresh when nothing was dispatched")
	}
}

func TestRunBatchTransportFailure(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "a.jpg", "b.jpg")
	f.service.batchFn = func([]anonymizer.Upload) (*anonymizer.BatchResponse, error) {
		return nil, errors.New("connection reset by peer")
	}

	if err := f.orch.Run(context.Background(), batchSettings()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, e := range f.store.Entries() {
		if e.Status != queue.StatusError {
			t.Errorf("expected entry '%s' in error, got '%s'", e.File.Name, e.Status)
		}
		if e.ErrorMessage != "batch processing failed" {
			t.Errorf("expected generic batch message, got '%s'", e.ErrorMessage)
		}
	}
}

func TestRunBatchQuotaExhaustedResetsAll(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "a.jpg", "b.jpg", "c.jpg")
	f.service.batchFn = func([]anonymizer.Upload) (*anonymizer.BatchResponse, error) {
		return nil, &anonymizer.APIError{StatusCode: http.StatusTooManyRequests, Message: "Rate limit exceeded"}
	}

	err := f.orch.Run(context.Background(), batchSettings())
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}

	for _, e := range f.store.Entries() {
		if e.Status != queue.StatusPending {
			t.Errorf("expected entry '%s' back to pending, got '%s'", e.File.Name, e.Status)
		}
	}
}

func TestRunBatchSweepsMissingResults(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "a.jpg", "b.jpg")
	f.service.batchFn = func(uploads []anonymizer.Upload) (*anonymizer.BatchResponse, error) {
		// Answer only the first file plus one nobody sent
		resp := successBatchResponse(uploads[:1])
		resp.Results = append(resp.Results, anonymizer.BatchResult{
			Filename: "stranger.jpg",
			Status:   "success",
			ImageData: "data:image/jpeg;base64," +
				base64.StdEncoding.EncodeToString([]byte("stray")),
		})
		return resp, nil
	}

	if err := f.orch.Run(context.Background(), batchSettings()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := f.store.Entries()
	if got[0].Status != queue.StatusSuccess {
		t.Errorf("expected answered entry success, got '%s'", got[0].Status)
	}
	if got[1].Status != queue.StatusError {
		t.Errorf("expected unanswered entry in error, got '%s'", got[1].Status)
	}
	if got[1].ErrorMessage != "no result returned for file" {
		t.Errorf("expected missing-result message, got '%s'", got[1].ErrorMessage)
	}
	if f.previews.Len() != 1 {
		t.Errorf("expected 1 preview blob (stray result dropped), got %d", f.previews.Len())
	}
}

func TestRunBatchUndecodableResult(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "a.jpg")
	f.service.batchFn = func(uploads []anonymizer.Upload) (*anonymizer.BatchResponse, error) {
		return &anonymizer.BatchResponse{Results: []anonymizer.BatchResult{{
			Filename:  uploads[0].Name,
			Status:    "success",
			ImageData: "not-a-data-url",
		}}}, nil
	}

	if err := f.orch.Run(context.Background(), batchSettings()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := f.store.Entries()[0]
	if got.Status != queue.StatusError {
		t.Errorf("expected entry in error, got '%s'", got.Status)
	}
	if got.ErrorMessage != "could not decode result" {
		t.Errorf("expected decode message, got '%s'", got.ErrorMessage)
	}
}

func TestRunBatchRerunReleasesStalePreviews(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "a.jpg", "b.jpg")

	if err := f.orch.Run(context.Background(), batchSettings()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if f.previews.Len() != 2 {
		t.Fatalf("expected 2 preview blobs after first run, got %d", f.previews.Len())
	}

	if err := f.orch.Run(context.Background(), batchSettings()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if f.previews.Len() != 2 {
		t.Errorf("expected stale blobs replaced, got %d", f.previews.Len())
	}

	for _, e := range f.store.Entries() {
		if e.Status != queue.StatusSuccess {
			t.Errorf("expected entry '%s' success after re-run, got '%s'", e.File.Name, e.Status)
		}
	}
}

func TestRunRefreshesQuotaAfterFailedDispatch(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "a.jpg")
	f.service.imageFn = func(anonymizer.Upload) (*anonymizer.Result, error) {
		return nil, fmt.Errorf("boom")
	}

	if err := f.orch.Run(context.Background(), DefaultSettings()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if f.source.callCount() != 1 {
		t.Errorf("expected quota refresh after failed dispatch, got %d calls", f.source.callCount())
	}
}
