package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/liquidity"
	"github.com/kikokaraba/srei-sub000/internal/models"
	"github.com/kikokaraba/srei-sub000/internal/queue"
)

// PassOptions describe a pass before it runs
type PassOptions struct {
	StartedAt time.Time
	// Complete passes cover the whole source and may remove listings
	Complete bool
	// Expected listing count reported by the transport, 0 when unknown
	Expected int
}

// BatchProcessor runs scrape passes: it ingests every batch, keeps the pass
// counters and error ledger, and hands complete passes to the liquidity
// monitor
type BatchProcessor struct {
	db        *gorm.DB
	logger    *logrus.Logger
	config    *config.Config
	queue     *queue.PassQueue
	ingestor  *Ingestor
	monitor   *liquidity.Monitor
	waitGroup sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewBatchProcessor creates a new batch processor instance
func NewBatchProcessor(db *gorm.DB, queue *queue.PassQueue, ingestor *Ingestor, monitor *liquidity.Monitor, config *config.Config, logger *logrus.Logger) *BatchProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchProcessor{
		db:       db,
		queue:    queue,
		ingestor: ingestor,
		monitor:  monitor,
		config:   config,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the pass queue and starts its workers
func (p *BatchProcessor) Start() {
	p.queue.Subscribe(func(input *models.PassInput) error {
		p.waitGroup.Add(1)
		defer p.waitGroup.Done()
		_, err := p.ProcessInput(p.ctx, input)
		return err
	})
	p.queue.Start(p.config.BatchProcessing.ProcessorCount)
}

// Stop cancels running passes and waits for them to record their outcome
func (p *BatchProcessor) Stop() {
	p.cancel()
	_ = p.queue.Close()
	p.waitGroup.Wait()
}

// ProcessInput runs a pass pushed in one piece
func (p *BatchProcessor) ProcessInput(ctx context.Context, input *models.PassInput) (*models.ScrapePass, error) {
	batches := make(chan models.Batch, 1)
	batches <- models.Batch{Listings: input.Listings}
	close(batches)
	return p.ProcessPass(ctx, input.Source, batches, PassOptions{
		StartedAt: input.StartedAt,
		Complete:  input.Complete,
		Expected:  input.Expected,
	})
}

// ProcessPass ingests batches until the channel closes. Per-listing errors
// are recorded and never stop the pass. A batch carrying a structure change
// or network error aborts the rest of the pass, and an aborted pass never
// removes anything.
func (p *BatchProcessor) ProcessPass(ctx context.Context, source string, batches <-chan models.Batch, opts PassOptions) (*models.ScrapePass, error) {
	startedAt := opts.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	pass := &models.ScrapePass{
		ID:        uuid.NewString(),
		Source:    source,
		StartedAt: startedAt,
		Status:    models.PassRunning,
	}
	if err := database.CreatePass(p.db.WithContext(ctx), pass); err != nil {
		return nil, err
	}

	log := p.logger.WithFields(logrus.Fields{"source": source, "pass_id": pass.ID})
	log.Info("Scrape pass started")

	var (
		observed []string
		ledger   []*models.IngestError
		abort    error
	)

loop:
	for {
		select {
		case <-ctx.Done():
			abort = ctx.Err()
			break loop
		case batch, ok := <-batches:
			if !ok {
				break loop
			}
			if batch.Expected > 0 {
				opts.Expected = batch.Expected
			}
			if batch.Err != nil {
				ledger = append(ledger, ledgerEntry(pass, models.RawListing{Source: source}, batch.Err, "", ""))
				pass.Errors++
				if errors.Is(batch.Err, models.ErrStructureChange) || errors.Is(batch.Err, models.ErrNetwork) {
					abort = batch.Err
					break loop
				}
				log.WithError(batch.Err).Warn("Batch reported an error")
				continue
			}
			for _, raw := range batch.Listings {
				if ctx.Err() != nil {
					abort = ctx.Err()
					break loop
				}
				if raw.Source == "" {
					raw.Source = source
				}
				if id := strings.TrimSpace(raw.ExternalID); id != "" {
					observed = append(observed, id)
				}
				pass.Found++
				ledger = append(ledger, p.ingestOne(ctx, pass, raw)...)
			}
		}
	}
	// Let a producer blocked on send finish
	go func() {
		for range batches {
		}
	}()

	if abort == nil {
		abort = p.checkYield(pass, opts)
	}

	if abort == nil && opts.Complete {
		removed, err := p.monitor.Reconcile(ctx, source, observed, pass.StartedAt)
		pass.Removed = removed
		if err != nil {
			abort = err
		}
	}

	p.finish(pass, abort, ledger, log)
	if abort != nil {
		return pass, fmt.Errorf("pass %s of %s aborted: %w", pass.ID, source, abort)
	}
	return pass, nil
}

func (p *BatchProcessor) ingestOne(ctx context.Context, pass *models.ScrapePass, raw models.RawListing) []*models.IngestError {
	result, issues, err := p.ingestor.IngestRaw(ctx, raw)

	var ledger []*models.IngestError
	for _, issue := range issues {
		if errors.Is(issue, models.ErrParse) {
			ledger = append(ledger, ledgerEntry(pass, raw, issue, issue.Field, issue.RawValue))
		}
	}
	if err != nil {
		pass.Errors++
		var lerr *models.ListingError
		if errors.As(err, &lerr) {
			ledger = append(ledger, ledgerEntry(pass, raw, lerr.Err, lerr.Field, lerr.RawValue))
		} else {
			ledger = append(ledger, ledgerEntry(pass, raw, err, "", ""))
		}
		return ledger
	}

	switch {
	case result.IsNew:
		pass.New++
	case result.Relisted:
		pass.Relisted++
	default:
		pass.Updated++
	}
	if result.Gap != nil {
		pass.Gaps++
	}
	return ledger
}

// checkYield flags a pass that found far fewer listings than the transport
// expected as a structure change
func (p *BatchProcessor) checkYield(pass *models.ScrapePass, opts PassOptions) error {
	if opts.Expected > 0 {
		minimum := float64(opts.Expected) * p.config.BatchProcessing.MinYieldRatio
		if float64(pass.Found) < minimum {
			return fmt.Errorf("%w: found %d listings, expected about %d", models.ErrStructureChange, pass.Found, opts.Expected)
		}
	}
	if opts.Complete && pass.Found == 0 {
		return liquidity.ErrEmptyObservation
	}
	return nil
}

func (p *BatchProcessor) finish(pass *models.ScrapePass, abort error, ledger []*models.IngestError, log *logrus.Entry) {
	finished := time.Now().UTC()
	pass.FinishedAt = &finished
	pass.Status = models.PassCompleted

	switch {
	case abort == nil:
	case errors.Is(abort, models.ErrStructureChange), errors.Is(abort, models.ErrNetwork),
		errors.Is(abort, context.Canceled), errors.Is(abort, context.DeadlineExceeded):
		pass.Status = models.PassAborted
		pass.AbortReason = abort.Error()
	default:
		pass.Status = models.PassFailed
		pass.AbortReason = abort.Error()
	}

	// The pass context may be gone, the outcome is still recorded
	db := p.db.WithContext(context.Background())
	if err := database.RecordIngestErrors(db, ledger); err != nil {
		log.WithError(err).Error("Failed to record ingest errors")
	}
	if err := database.SavePass(db, pass); err != nil {
		log.WithError(err).Error("Failed to save pass summary")
	}

	entry := log.WithFields(logrus.Fields{
		"status":   pass.Status,
		"found":    pass.Found,
		"new":      pass.New,
		"updated":  pass.Updated,
		"relisted": pass.Relisted,
		"removed":  pass.Removed,
		"gaps":     pass.Gaps,
		"errors":   pass.Errors,
	})
	switch {
	case errors.Is(abort, models.ErrStructureChange):
		entry.WithError(abort).Error("Scrape pass aborted: source structure changed")
	case abort != nil:
		entry.WithError(abort).Warn("Scrape pass aborted")
	default:
		entry.Info("Scrape pass completed")
	}
}

func ledgerEntry(pass *models.ScrapePass, raw models.RawListing, err error, field, rawValue string) *models.IngestError {
	snapshot, _ := json.Marshal(map[string]string{
		"title":    raw.Title,
		"price":    raw.Price,
		"area":     raw.Area,
		"location": raw.Location,
		"rooms":    raw.Rooms,
		"floor":    raw.Floor,
	})
	return &models.IngestError{
		PassID:     pass.ID,
		Source:     pass.Source,
		ExternalID: raw.ExternalID,
		URL:        raw.URL,
		Kind:       models.KindOf(err),
		Field:      field,
		RawValue:   rawValue,
		Message:    err.Error(),
		Context:    datatypes.JSON(snapshot),
		CreatedAt:  time.Now().UTC(),
	}
}
