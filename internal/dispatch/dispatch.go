// Package dispatch coordinates processing runs: it takes the queued files,
// sends them to the anonymization service, and writes each outcome back into
// the queue. At most one run is active at a time; per-file outcomes live on
// the entries, only run-level problems surface as errors.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/faceless-tools/faceless/internal/anonymizer"
	"github.com/faceless-tools/faceless/internal/constants"
	"github.com/faceless-tools/faceless/internal/logging"
	"github.com/faceless-tools/faceless/internal/preview"
	"github.com/faceless-tools/faceless/internal/queue"
	"github.com/faceless-tools/faceless/internal/quota"
)

// Run-level errors. When Run returns one of these, no queue entry was
// left in processing and nothing was partially applied.
var (
	ErrRunActive       = errors.New("a processing run is already active")
	ErrEmptyQueue      = errors.New("no files selected")
	ErrNoEligibleFiles = errors.New("no queued file can be batch processed")
	ErrQuotaExhausted  = errors.New("anonymization quota exhausted")
)

// Service is the remote API surface a run needs, implemented by the
// anonymizer client.
type Service interface {
	AnonymizeImage(ctx context.Context, u anonymizer.Upload, opts anonymizer.Options) (*anonymizer.Result, error)
	AnonymizeVideo(ctx context.Context, u anonymizer.Upload, opts anonymizer.Options) (*anonymizer.Result, error)
	AnonymizeBatch(ctx context.Context, uploads []anonymizer.Upload, opts anonymizer.Options) (*anonymizer.BatchResponse, error)
}

// Orchestrator runs anonymization over the queue.
type Orchestrator struct {
	service  Service
	store    *queue.Store
	gate     *quota.Gate
	previews *preview.Store
	logger   *zap.Logger

	running atomic.Bool
}

// New creates an orchestrator over the given queue, quota gate, and preview
// store. The preview store must be the one the queue releases into.
func New(service Service, store *queue.Store, gate *quota.Gate, previews *preview.Store, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		service:  service,
		store:    store,
		gate:     gate,
		previews: previews,
		logger:   logger,
	}
}

// Running reports whether a run is currently active.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Run processes the queue with the given settings and blocks until every
// dispatched file has an outcome. Preconditions are checked before anything
// is sent: a second concurrent run, an empty queue, invalid settings, and an
// exhausted quota all reject the run without touching any entry. After a
// dispatch attempt the quota gate is refreshed; rejected runs made no
// request, so they skip the refresh.
func (o *Orchestrator) Run(ctx context.Context, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if !o.running.CompareAndSwap(false, true) {
		return ErrRunActive
	}
	defer o.running.Store(false)

	logger := logging.WithOperation(o.logger, "anonymize", uuid.New().String())

	entries := o.store.Entries()
	if len(entries) == 0 {
		return ErrEmptyQueue
	}
	if !o.gate.CanStart() {
		logger.Info("run rejected, quota exhausted")
		return ErrQuotaExhausted
	}

	var err error
	if settings.Mode == queue.ModeBatch {
		err = o.runBatch(ctx, logger, entries, settings)
	} else {
		err = o.runSingle(ctx, logger, entries[0], settings)
	}
	if errors.Is(err, ErrNoEligibleFiles) || errors.Is(err, ErrEmptyQueue) {
		// Nothing was dispatched, keep the gate as it was.
		return err
	}

	o.gate.Refresh(ctx)
	return err
}

func (o *Orchestrator) runSingle(ctx context.Context, logger *zap.Logger, entry queue.Entry, settings Settings) error {
	marked := o.store.MarkProcessing(entry.Token)
	if len(marked) == 0 {
		return ErrEmptyQueue
	}

	logger.Info("dispatching file",
		zap.String("file", entry.File.Name),
		zap.String("kind", string(entry.File.Kind)),
		zap.String("method", string(settings.Method)),
		zap.Int("intensity", settings.Intensity),
	)

	var result *anonymizer.Result
	var err error
	if entry.File.IsVideo() {
		result, err = o.service.AnonymizeVideo(ctx, uploadFor(entry), settings.options())
	} else {
		result, err = o.service.AnonymizeImage(ctx, uploadFor(entry), settings.options())
	}
	if err != nil {
		if anonymizer.IsQuotaExhausted(err) {
			o.store.Reset(entry.Token)
			return fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
		}
		logger.Warn("file failed", zap.String("file", entry.File.Name), zap.Error(err))
		o.store.Fail(entry.Token, failureMessage(err))
		return nil
	}

	handle := o.previews.Create(result.Data, constants.AnonymizedPrefix+entry.File.Name, result.ContentType)
	o.store.Resolve(entry.Token, result.FacesDetected, handle)

	logger.Info("file anonymized",
		zap.String("file", entry.File.Name),
		zap.Int("faces_detected", result.FacesDetected),
	)
	return nil
}

func (o *Orchestrator) runBatch(ctx context.Context, logger *zap.Logger, entries []queue.Entry, settings Settings) error {
	// The batch endpoint takes images only; videos stay untouched in the queue.
	eligible := make([]queue.Entry, 0, len(entries))
	for _, e := range entries {
		if e.File.IsImage() {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) == 0 {
		return ErrNoEligibleFiles
	}

	tokens := make([]string, len(eligible))
	for i, e := range eligible {
		tokens[i] = e.Token
	}
	marked := o.store.MarkProcessing(tokens...)
	if len(marked) == 0 {
		return ErrEmptyQueue
	}
	markedSet := make(map[string]bool, len(marked))
	for _, token := range marked {
		markedSet[token] = true
	}

	uploads := make([]anonymizer.Upload, 0, len(marked))
	byWireName := make(map[string]queue.Entry, len(marked))
	for _, e := range eligible {
		if !markedSet[e.Token] {
			continue
		}
		uploads = append(uploads, uploadFor(e))
		byWireName[e.WireName()] = e
	}

	logger.Info("dispatching batch",
		zap.Int("files", len(uploads)),
		zap.String("method", string(settings.Method)),
		zap.Int("intensity", settings.Intensity),
	)

	resp, err := o.service.AnonymizeBatch(ctx, uploads, settings.options())
	if err != nil {
		if anonymizer.IsQuotaExhausted(err) {
			o.store.Reset(marked...)
			return fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
		}
		failed := o.store.FailProcessing("batch processing failed")
		logger.Warn("batch request failed", zap.Error(err), zap.Int("files_failed", failed))
		return nil
	}

	succeeded := 0
	for _, result := range resp.Results {
		entry, ok := byWireName[result.Filename]
		if !ok {
			logger.Warn("result for unknown file", zap.String("filename", result.Filename))
			continue
		}

		if !result.Succeeded() {
			message := result.Error
			if message == "" {
				message = "processing failed"
			}
			o.store.Fail(entry.Token, message)
			continue
		}

		data, contentType, err := result.DecodeImage()
		if err != nil {
			logger.Warn("could not decode result", zap.String("file", entry.File.Name), zap.Error(err))
			o.store.Fail(entry.Token, "could not decode result")
			continue
		}

		handle := o.previews.Create(data, constants.AnonymizedPrefix+entry.File.Name, contentType)
		o.store.Resolve(entry.Token, result.FacesDetected, handle)
		succeeded++
	}

	// A file the response never mentioned must not stay in processing.
	if swept := o.store.FailProcessing("no result returned for file"); swept > 0 {
		logger.Warn("results missing for dispatched files", zap.Int("files", swept))
	}

	logger.Info("batch finished",
		zap.Int("files", len(uploads)),
		zap.Int("succeeded", succeeded),
	)
	return nil
}

// uploadFor wraps an entry's content for the wire. Files travel under their
// token-based name so responses can be matched back to entries.
func uploadFor(e queue.Entry) anonymizer.Upload {
	return anonymizer.Upload{
		Name:        e.WireName(),
		ContentType: e.File.ContentType,
		Reader:      bytes.NewReader(e.File.Data),
	}
}

// failureMessage extracts the service's message for display on the entry.
func failureMessage(err error) string {
	var apiErr *anonymizer.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return "processing failed"
}
