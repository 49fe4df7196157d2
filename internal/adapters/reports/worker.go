// Package reports renders period reports in the background and stores them in
// blob storage under reports/<owner>/<period>/<exportID>.<ext>.
package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tutordesk/internal/blob"
	"tutordesk/internal/core"
	"tutordesk/internal/session"
	"tutordesk/pkg/domain"
)

// Status describes the lifecycle stage of an export.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Format names a rendered artifact type.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Formats lists the artifacts rendered for every export, in storage order.
var Formats = []Format{FormatJSON, FormatCSV, FormatXLSX}

// DefaultQueueSize bounds pending exports when no option overrides it.
const DefaultQueueSize = 32

// DefaultRetention is the number of finished exports kept for lookup.
const DefaultRetention = 64

// ErrQueueFull is returned by Enqueue when the worker cannot accept more work.
var ErrQueueFull = errors.New("report queue full")

// Artifact is one stored rendering of a report.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Export tracks one report request.
type Export struct {
	ID          string        `json:"id"`
	Owner       string        `json:"owner"`
	Period      domain.Period `json:"period"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	Artifacts   []Artifact    `json:"artifacts,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

func (e Export) copy() Export {
	dup := e
	dup.Artifacts = append([]Artifact(nil), e.Artifacts...)
	if e.CompletedAt != nil {
		at := *e.CompletedAt
		dup.CompletedAt = &at
	}
	return dup
}

// Source supplies the data a report is rendered from.
type Source interface {
	ReportData(ctx context.Context) (core.ReportData, error)
}

// Logger is the subset of core.Logger the worker needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Worker.
type Option func(*Worker)

// WithQueueSize sets the number of exports that may wait for the worker.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithRetention sets how many finished exports stay available through Get and
// Open. The oldest are dropped first; their artifacts remain in blob storage.
func WithRetention(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.retention = n
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(l Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Worker renders and stores reports asynchronously.
type Worker struct {
	source    Source
	store     blob.Store
	logger    Logger
	now       func() time.Time
	queueSize int
	retention int

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Export

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id   string
	data core.ReportData
}

// NewWorker constructs a worker over source and store. Call Start to begin
// processing.
func NewWorker(source Source, store blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		source:    source,
		store:     store,
		logger:    noopLogger{},
		now:       func() time.Time { return time.Now().UTC() },
		queueSize: DefaultQueueSize,
		retention: DefaultRetention,
		jobs:      make(map[string]*Export),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = make(chan task, w.queueSize)
	return w
}

// Start begins processing queued exports.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the worker and waits for the in-flight export, bounded by ctx.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue snapshots the current period and schedules its rendering. The
// snapshot is taken synchronously so the caller's authentication applies.
func (w *Worker) Enqueue(ctx context.Context) (Export, error) {
	data, err := w.source.ReportData(ctx)
	if err != nil {
		return Export{}, err
	}
	now := w.now()
	export := Export{
		ID:        uuid.NewString(),
		Owner:     data.Owner,
		Period:    data.Period,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	w.mu.Lock()
	w.jobs[export.ID] = &export
	snapshot := export.copy()
	w.mu.Unlock()

	select {
	case w.queue <- task{id: export.ID, data: data}:
	default:
		w.mu.Lock()
		delete(w.jobs, export.ID)
		w.mu.Unlock()
		return Export{}, ErrQueueFull
	}
	w.logger.Info("report queued", "export", export.ID, "period", string(export.Period))
	return snapshot, nil
}

// Get returns the export with id if it belongs to owner.
func (w *Worker) Get(owner, id string) (Export, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	export, ok := w.jobs[id]
	if !ok || export.Owner != owner {
		return Export{}, false
	}
	return export.copy(), true
}

// Open streams one artifact of a finished export owned by owner.
func (w *Worker) Open(ctx context.Context, owner, id string, format Format) (Artifact, io.ReadCloser, error) {
	export, ok := w.Get(owner, id)
	if !ok {
		return Artifact{}, nil, domain.NotFoundError{Collection: "reports", ID: id}
	}
	for _, a := range export.Artifacts {
		if a.Format != format {
			continue
		}
		_, rc, err := w.store.Get(ctx, a.Key)
		if err != nil {
			return Artifact{}, nil, fmt.Errorf("open report %s: %w", a.Key, err)
		}
		return a, rc, nil
	}
	return Artifact{}, nil, domain.NotFoundError{Collection: "reports", ID: id + "." + string(format)}
}

// Retain drops every export not owned by owner; an empty owner drops them all.
// Exports still in the queue finish rendering but are no longer tracked.
func (w *Worker) Retain(owner string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	dropped := 0
	for id, export := range w.jobs {
		if owner == "" || export.Owner != owner {
			delete(w.jobs, id)
			dropped++
		}
	}
	return dropped
}

// Follow keeps the tracked exports in line with gate: once a principal is no
// longer signed in, its exports are dropped.
func (w *Worker) Follow(gate *session.Gate) domain.Subscription {
	return gate.Observe(func(status session.Status) {
		owner := ""
		if p := gate.Principal(); status == session.StatusAuthenticated && p != nil {
			owner = p.UID
		}
		if n := w.Retain(owner); n > 0 {
			w.logger.Info("report exports dropped", "count", n, "status", string(status))
		}
	})
}

// Key returns the blob key of one artifact.
func Key(owner string, period domain.Period, id string, format Format) string {
	return strings.Join([]string{"reports", owner, string(period), id + "." + string(format)}, "/")
}

func (w *Worker) process(t task) {
	w.update(t.id, StatusRunning, "", nil)

	artifacts := make([]Artifact, 0, len(Formats))
	for _, format := range Formats {
		artifact, err := w.put(t, format)
		if err != nil {
			w.logger.Error("report export failed", "export", t.id, "format", string(format), "error", err)
			w.update(t.id, StatusFailed, err.Error(), nil)
			return
		}
		artifacts = append(artifacts, artifact)
	}
	w.update(t.id, StatusSucceeded, "", artifacts)
	w.logger.Info("report stored", "export", t.id, "artifacts", len(artifacts))
}

func (w *Worker) put(t task, format Format) (Artifact, error) {
	payload, contentType, err := render(format, t.data, w.now())
	if err != nil {
		return Artifact{}, err
	}
	key := Key(t.data.Owner, t.data.Period, t.id, format)
	info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"export": t.id,
			"owner":  t.data.Owner,
			"period": string(t.data.Period),
		},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("store %s: %w", key, err)
	}
	artifact := Artifact{
		Key:         key,
		Format:      format,
		ContentType: contentType,
		SizeBytes:   info.Size,
		CreatedAt:   info.LastModified,
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = w.now()
	}
	url, err := w.store.PresignURL(w.ctx, key, blob.SignedURLOptions{})
	switch {
	case err == nil:
		artifact.URL = url
	case !errors.Is(err, blob.ErrUnsupported):
		return Artifact{}, fmt.Errorf("presign %s: %w", key, err)
	}
	return artifact, nil
}

func (w *Worker) update(id string, status Status, message string, artifacts []Artifact) {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	export, ok := w.jobs[id]
	if !ok {
		return
	}
	export.Status = status
	export.Error = message
	export.UpdatedAt = now
	if artifacts != nil {
		export.Artifacts = artifacts
	}
	if status == StatusSucceeded || status == StatusFailed {
		export.CompletedAt = &now
		w.evictLocked()
	}
}

// evictLocked drops the oldest finished exports beyond the retention limit.
func (w *Worker) evictLocked() {
	var finished []*Export
	for _, export := range w.jobs {
		if export.CompletedAt != nil {
			finished = append(finished, export)
		}
	}
	if len(finished) <= w.retention {
		return
	}
	slices.SortFunc(finished, func(a, b *Export) int {
		if c := a.CompletedAt.Compare(*b.CompletedAt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	for _, export := range finished[:len(finished)-w.retention] {
		delete(w.jobs, export.ID)
	}
}
