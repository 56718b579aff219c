// Package dispatch receives organization webhooks and runs each enrichment
// in an isolated worker against a per-request transfer artifact.
package dispatch

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/org-enricher/internal/model"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the gateway's answer to one webhook.
type Response struct {
	HTTPStatus int    `json:"-"`
	Status     string `json:"status"`
	Output     string `json:"output,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Options configures a Gateway. Zero values select defaults.
type Options struct {
	ArtifactDir          string
	WorkerTimeout        time.Duration
	MaxConcurrentWorkers int
	Locker               Locker
	Metrics              *Metrics
	Logger               *zap.Logger
}

// Gateway validates events and hands them to a Worker.
type Gateway struct {
	worker      Worker
	locker      Locker
	slots       *semaphore.Weighted
	artifactDir string
	timeout     time.Duration
	metrics     *Metrics
	log         *zap.Logger
}

// NewGateway creates a Gateway around worker.
func NewGateway(worker Worker, opts Options) *Gateway {
	g := &Gateway{
		worker:      worker,
		locker:      opts.Locker,
		artifactDir: opts.ArtifactDir,
		timeout:     opts.WorkerTimeout,
		metrics:     opts.Metrics,
		log:         opts.Logger,
	}
	if g.locker == nil {
		g.locker = NewMemoryLocker()
	}
	if g.timeout <= 0 {
		g.timeout = 5 * time.Minute
	}
	if g.log == nil {
		g.log = zap.NewNop()
	}
	n := opts.MaxConcurrentWorkers
	if n <= 0 {
		n = 4
	}
	g.slots = semaphore.NewWeighted(int64(n))
	return g
}

// Handle processes one webhook body. Malformed input gets a 400 and never
// reaches a worker; any failure after validation is a 500.
func (g *Gateway) Handle(ctx context.Context, body []byte) Response {
	ev, err := ValidateEvent(body)
	if err != nil {
		var ce *ClientError
		if errors.As(err, &ce) {
			g.log.Info("dispatch: rejected webhook", zap.String("reason", ce.Error()))
			g.count(OutcomeRejected)
			return Response{HTTPStatus: http.StatusBadRequest, Status: StatusError, Message: ce.Error()}
		}
		return g.fail(err)
	}

	orgID, err := ev.OrganizationID()
	if err != nil {
		g.count(OutcomeRejected)
		return Response{HTTPStatus: http.StatusBadRequest, Status: StatusError, Message: err.Error()}
	}
	log := g.log.With(
		zap.Int64("org_id", orgID),
		zap.String("company", ev.CompanyName()),
		zap.String("action", ev.Action()),
	)

	// Same-org waiters queue on the lock without holding a slot.
	unlock, err := g.locker.Lock(ctx, model.FormatID(orgID))
	if err != nil {
		return g.fail(err)
	}
	defer unlock()

	if err := g.slots.Acquire(ctx, 1); err != nil {
		return g.fail(eris.Wrap(err, "dispatch: wait for worker slot"))
	}
	defer g.slots.Release(1)

	out, err := g.runWithArtifact(ctx, log, body)
	if err != nil {
		log.Error("dispatch: worker failed", zap.Error(err))
		return g.fail(err)
	}

	log.Info("dispatch: worker succeeded")
	g.count(OutcomeSuccess)
	return Response{HTTPStatus: http.StatusOK, Status: StatusSuccess, Output: strings.TrimSpace(out)}
}

// runWithArtifact writes body to a fresh artifact, runs the worker on it and
// removes it on every path out, panics included.
func (g *Gateway) runWithArtifact(ctx context.Context, log *zap.Logger, body []byte) (string, error) {
	path, err := writeArtifact(g.artifactDir, body)
	if err != nil {
		return "", err
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn("dispatch: remove artifact", zap.String("path", path), zap.Error(rmErr))
		}
	}()

	wctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.metrics != nil {
		g.metrics.WorkersActive.Inc()
		defer g.metrics.WorkersActive.Dec()
	}
	start := time.Now()
	out, err := g.worker.Run(wctx, path)
	if g.metrics != nil {
		g.metrics.WorkerDuration.Observe(time.Since(start).Seconds())
	}
	return out, err
}

func (g *Gateway) fail(err error) Response {
	g.count(OutcomeFailed)
	msg := err.Error()
	var werr *WorkerError
	if errors.As(err, &werr) {
		msg = werr.Error()
	}
	return Response{HTTPStatus: http.StatusInternalServerError, Status: StatusError, Message: strings.TrimSpace(msg)}
}

func (g *Gateway) count(outcome string) {
	if g.metrics != nil {
		g.metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	}
}

// writeArtifact stores body in a new file only this request knows about.
func writeArtifact(dir string, body []byte) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "event-"+uuid.NewString()+"-*.json")
	if err != nil {
		return "", eris.Wrap(err, "dispatch: create artifact")
	}
	path := f.Name()

	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", eris.Wrap(err, "dispatch: write artifact")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", eris.Wrap(err, "dispatch: close artifact")
	}
	return filepath.Clean(path), nil
}

// ReadArtifact loads and decodes an event artifact written by the gateway.
func ReadArtifact(path string) (*model.WebhookEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dispatch: read artifact %s", path)
	}
	return model.DecodeEvent(data)
}
