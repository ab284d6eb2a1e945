package migration

import (
	"context"
	"iter"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
)

const (
	DefaultPerPage  = 100
	DefaultPaceBase = 300 * time.Millisecond
)

// RecordSource yields the records a run migrates.
type RecordSource interface {
	Records(ctx context.Context) iter.Seq2[models.ResourceRecord, error]
}

// Enumerator walks a paginated listing endpoint lazily, one page at a time.
type Enumerator struct {
	lister   platform.Lister
	perPage  int
	paceBase time.Duration
	log      *zap.SugaredLogger
}

// NewEnumerator creates an Enumerator over l. perPage <= 0 uses the
// default; paceBase 0 disables pacing.
func NewEnumerator(l platform.Lister, perPage int, paceBase time.Duration, log *zap.SugaredLogger) *Enumerator {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Enumerator{lister: l, perPage: perPage, paceBase: paceBase, log: log}
}

// Kind returns the kind being enumerated.
func (e *Enumerator) Kind() models.Kind {
	return e.lister.Kind()
}

// interval is the minimum gap between page requests.
func (e *Enumerator) interval() rate.Limit {
	gap := e.paceBase / time.Duration(e.perPage)
	if gap <= 0 {
		return rate.Inf
	}
	return rate.Every(gap)
}

// Records returns a sequence over every record matching opts in remote
// order. Page N+1 is requested only after page N has been consumed. A
// transport or protocol error is yielded once and ends the sequence.
func (e *Enumerator) Records(ctx context.Context, opts platform.ListOptions) iter.Seq2[models.ResourceRecord, error] {
	return func(yield func(models.ResourceRecord, error) bool) {
		limiter := rate.NewLimiter(e.interval(), 1)
		opts.PerPage = e.perPage
		kind := e.lister.Kind()

		for page := 1; page > 0; {
			if err := limiter.Wait(ctx); err != nil {
				yield(models.ResourceRecord{}, errors.Wrapf(err, "listing %ss", kind))
				return
			}
			opts.Page = page
			p, err := e.lister.ListPage(ctx, opts)
			if err != nil {
				yield(models.ResourceRecord{}, errors.Wrapf(err, "listing %ss page %d", kind, page))
				return
			}
			e.log.Debugw("fetched page", "kind", kind, "page", page, "records", len(p.Records), "next", p.NextPage)
			for _, rec := range p.Records {
				if !yield(rec, nil) {
					return
				}
			}
			if p.NextPage != 0 && p.NextPage <= page {
				yield(models.ResourceRecord{}, errors.Newf("listing %ss: next page %d does not advance past %d", kind, p.NextPage, page))
				return
			}
			page = p.NextPage
		}
	}
}

// Source binds opts so the enumerator can feed an orchestrator run.
func (e *Enumerator) Source(opts platform.ListOptions) RecordSource {
	return listingSource{enum: e, opts: opts}
}

type listingSource struct {
	enum *Enumerator
	opts platform.ListOptions
}

func (s listingSource) Records(ctx context.Context) iter.Seq2[models.ResourceRecord, error] {
	return s.enum.Records(ctx, s.opts)
}

// Count asks the remote for the total number of records matching opts
// without paginating. When the remote omits X-Total the listing is walked.
func (e *Enumerator) Count(ctx context.Context, opts platform.ListOptions) (int, error) {
	probe := opts
	probe.Page = 1
	probe.PerPage = 1
	p, err := e.lister.ListPage(ctx, probe)
	if err != nil {
		return 0, errors.Wrapf(err, "counting %ss", e.lister.Kind())
	}
	if p.Total >= 0 {
		return p.Total, nil
	}
	n := 0
	for _, err := range e.Records(ctx, opts) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// All collects seq into a slice, stopping at the first error.
func All(seq iter.Seq2[models.ResourceRecord, error]) ([]models.ResourceRecord, error) {
	var out []models.ResourceRecord
	for rec, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// SliceSource serves records already held in memory, such as a user
// export file.
type SliceSource []models.ResourceRecord

func (s SliceSource) Records(ctx context.Context) iter.Seq2[models.ResourceRecord, error] {
	return func(yield func(models.ResourceRecord, error) bool) {
		for _, rec := range s {
			if err := ctx.Err(); err != nil {
				yield(models.ResourceRecord{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}
