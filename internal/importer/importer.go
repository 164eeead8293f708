package importer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hkpo/mobilepost-directory/internal/metrics"
	"github.com/hkpo/mobilepost-directory/internal/model"
	"github.com/hkpo/mobilepost-directory/internal/queue"
	"github.com/hkpo/mobilepost-directory/internal/repository"
)

// maxSamples bounds the per-record errors reported in a result.
const maxSamples = 5

// Store runs a batch of upserts in one transaction.
type Store interface {
	WithUpsertTx(ctx context.Context, fn func(ctx context.Context, up repository.Upserter) error) error
}

// Publisher receives the import event after a commit that changed rows.
type Publisher interface {
	Publish(ev queue.MobilePostChangedEvent)
}

// Invalidator drops cached API responses that a committed import made
// stale.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Option configures an Importer.
type Option func(*Importer)

// WithInvalidator registers the response cache to clear after a commit
// that changed rows.
func WithInvalidator(inv Invalidator) Option {
	return func(im *Importer) { im.cache = inv }
}

// Summary counts what happened to the records of one run.
type Summary struct {
	Read           int `json:"read"`
	Inserted       int `json:"inserted"`
	Updated        int `json:"updated"`
	Unchanged      int `json:"unchanged"`
	Skipped        int `json:"skipped"`
	Errors         int `json:"errors"`
	LastUpdateDate any `json:"lastUpdateDate"`
}

// SampleError describes one record the store rejected.
type SampleError struct {
	Index int    `json:"index"`
	Key   []any  `json:"key"`
	Error string `json:"error"`
}

// Result is the report printed by the importer.
type Result struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message,omitempty"`
	Summary      Summary       `json:"summary"`
	SampleErrors []SampleError `json:"sampleErrors"`
}

// errRecordsFailed aborts the transaction when any record failed.
var errRecordsFailed = errors.New("import: records failed")

// Importer upserts feed documents.
type Importer struct {
	store  Store
	events Publisher
	cache  Invalidator
	log    *zap.Logger
}

// New constructs an Importer. events may be nil.
func New(store Store, events Publisher, log *zap.Logger, opts ...Option) *Importer {
	im := &Importer{store: store, events: events, log: log.Named("importer")}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

type pending struct {
	index int
	rec   *model.MobilePost
}

// Run imports doc. With dryRun set records are normalized and counted
// but nothing is written. Any store error on a record rolls the whole
// batch back; the result then has Success false and still counts every
// record so the failures can be inspected. The returned error is reserved
// for failures of the transaction itself.
func (im *Importer) Run(ctx context.Context, doc *Document, dryRun bool) (*Result, error) {
	res := &Result{
		Summary:      Summary{LastUpdateDate: doc.LastUpdateDate},
		SampleErrors: []SampleError{},
	}
	batch := make([]pending, 0, len(doc.Records))
	for i, raw := range doc.Records {
		res.Summary.Read++
		rec, ok := Normalize(raw)
		if !ok {
			res.Summary.Skipped++
			continue
		}
		batch = append(batch, pending{index: i, rec: rec})
	}

	if dryRun {
		res.Success = true
		res.Message = "Dry run: nothing written"
		return res, nil
	}

	err := im.store.WithUpsertTx(ctx, func(ctx context.Context, up repository.Upserter) error {
		for _, p := range batch {
			outcome, err := up.Upsert(ctx, p.rec)
			if err != nil {
				res.Summary.Errors++
				if len(res.SampleErrors) < maxSamples {
					code, day, seq := p.rec.Key()
					res.SampleErrors = append(res.SampleErrors, SampleError{
						Index: p.index,
						Key:   []any{code, day, seq},
						Error: err.Error(),
					})
				}
				continue
			}
			switch outcome {
			case repository.Inserted:
				res.Summary.Inserted++
			case repository.Updated:
				res.Summary.Updated++
			default:
				res.Summary.Unchanged++
			}
		}
		if res.Summary.Errors > 0 {
			return errRecordsFailed
		}
		return nil
	})

	s := res.Summary
	metrics.RecordImport(s.Inserted, s.Updated, s.Unchanged, s.Skipped, s.Errors)
	switch {
	case errors.Is(err, errRecordsFailed):
		res.Message = fmt.Sprintf("Rolled back: %d record(s) failed", s.Errors)
		im.log.Warn("import rolled back", zap.Int("errors", s.Errors), zap.Int("read", s.Read))
		return res, nil
	case err != nil:
		return nil, fmt.Errorf("import transaction: %w", err)
	}

	res.Success = true
	im.log.Info("import committed",
		zap.Int("read", s.Read),
		zap.Int("inserted", s.Inserted),
		zap.Int("updated", s.Updated),
		zap.Int("unchanged", s.Unchanged),
		zap.Int("skipped", s.Skipped))
	changed := s.Inserted + s.Updated
	if changed == 0 {
		return res, nil
	}
	if im.cache != nil {
		// the rows are committed; a failed invalidation only leaves entries to expire by TTL
		if err := im.cache.Invalidate(ctx); err != nil {
			im.log.Warn("invalidate response cache", zap.Error(err))
		}
	}
	if im.events != nil {
		ev := queue.NewChangedEvent(queue.ActionImport)
		ev.Count = changed
		im.events.Publish(ev)
	}
	return res, nil
}
