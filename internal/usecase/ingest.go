// File: internal/usecase/ingest.go
package usecase

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"sturdy-study/internal/domain"
	"sturdy-study/internal/domain/model"
	"sturdy-study/internal/domain/ports/adapter"
	"sturdy-study/internal/infra/logging"
	"sturdy-study/internal/infra/metrics"
	"sturdy-study/internal/infra/worker"

	"github.com/rs/zerolog"
)

// Source is one course material to index. Open is called on a worker goroutine.
type Source struct {
	Name string
	Kind model.UploadKind
	Open func() (io.ReadCloser, error)
}

// IngestResult pairs a source with its outcome. Exactly one of Result and Err is set.
type IngestResult struct {
	Name   string
	Result *model.UploadResult
	Err    error
}

// Ingestor uploads course materials for the current identity, several at a time.
type Ingestor struct {
	svc     adapter.StudyService
	workers int
	log     *zerolog.Logger
}

func NewIngestor(svc adapter.StudyService, workers int, logger *zerolog.Logger) *Ingestor {
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = logging.Nop()
	}
	l := logger.With().Str("component", "Ingestor").Logger()
	return &Ingestor{svc: svc, workers: workers, log: &l}
}

// Upload indexes every source and returns results in input order.
func (in *Ingestor) Upload(ctx context.Context, identity string, sources []Source) ([]IngestResult, error) {
	if identity == "" {
		return nil, domain.NewValidationError("identity", "must not be empty")
	}
	if len(sources) == 0 {
		return nil, nil
	}

	// Workers outlive ctx so every queued task runs and marks itself done.
	// Tasks still use ctx and fail fast once it is cancelled.
	pool := worker.NewPool(in.workers, in.log)
	pool.Start(context.WithoutCancel(ctx))
	defer pool.Stop()

	ctx = logging.WithIdentity(ctx, identity)
	results := make([]IngestResult, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		i, src := i, src
		results[i].Name = src.Name
		wg.Add(1)
		err := pool.Submit(ctx, func(context.Context) error {
			defer wg.Done()
			res, err := in.uploadOne(ctx, identity, src)
			results[i].Result, results[i].Err = res, err
			return err
		})
		if err != nil {
			wg.Done()
			results[i].Err = err
		}
	}
	wg.Wait()
	return results, nil
}

func (in *Ingestor) uploadOne(ctx context.Context, identity string, src Source) (*model.UploadResult, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src.Name, err)
	}
	defer rc.Close()

	start := time.Now()
	res, err := in.svc.Upload(ctx, identity, src.Kind, src.Name, rc)
	metrics.ObserveExchange("upload_"+string(src.Kind), time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		logging.With(ctx, in.log).Warn().Err(err).Str("file", src.Name).Msg("upload failed")
		return nil, err
	}
	logging.With(ctx, in.log).Info().Str("file", src.Name).Int("documents", res.DocumentsAdded).Msg("material indexed")
	return res, nil
}
