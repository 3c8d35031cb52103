package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"omniasync-backend/lib/notify"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/ingest")

// ExtractResult is the outcome of extracting one sub-schema of a
// candidate. A failed sub-schema carries Err and is skipped without
// touching the candidate's other sub-schemas.
type ExtractResult struct {
	Schema  SubSchema
	Mapping *Mapping
	Err     error
}

// Extractor is the portal-facing collaborator.
type Extractor interface {
	ListCandidates(ctx context.Context) ([]string, error)
	Extract(ctx context.Context, protocollo string) ([]ExtractResult, error)
}

// Submission is a freshly ingested record handed to the dispatcher,
// one mapping per successfully extracted sub-schema.
type Submission struct {
	Protocollo string
	Mappings   map[string]*Mapping
}

// Delivery is the per-destination outcome of a dispatch.
type Delivery struct {
	Destination string
	Err         error
}

// Dispatcher forwards newly written records to downstream
// destinations. Delivery is best effort, failures are logged but
// never undo the store write.
type Dispatcher interface {
	Submit(ctx context.Context, sub Submission) []Delivery
}

type Options struct {
	// Workers > 0 switches the cycle into pipelined mode: a bounded
	// queue of extracted candidates drained by this many persistence/
	// dispatch workers while extraction keeps going.
	Workers int
	// QueueCapacity bounds the pipelined staging queue. The extraction
	// stream blocks once it is full.
	QueueCapacity int
	// Notifier, when set, receives dispatch outcomes.
	Notifier notify.Notifier
}

type Service struct {
	store      Store
	extractor  Extractor
	dispatcher Dispatcher
	options    Options
}

func NewService(store Store, extractor Extractor, dispatcher Dispatcher, options Options) Service {
	if options.QueueCapacity <= 0 {
		options.QueueCapacity = 1000
	}
	return Service{
		store:      store,
		extractor:  extractor,
		dispatcher: dispatcher,
		options:    options,
	}
}

// Report summarizes one ingestion cycle.
type Report struct {
	Cycle             string
	Candidates        int
	SkippedExisting   int
	ExtractFailures   int
	DuplicatesSkipped int
	Staged            int
	Written           int
	Dispatched        int
	DispatchFailures  int
}

func (r Report) LogAttrs() []any {
	return []any{
		"cycle", r.Cycle,
		"candidates", r.Candidates,
		"skipped_existing", r.SkippedExisting,
		"extract_failures", r.ExtractFailures,
		"duplicates_skipped", r.DuplicatesSkipped,
		"staged", r.Staged,
		"written", r.Written,
		"dispatched", r.Dispatched,
		"dispatch_failures", r.DispatchFailures,
	}
}

// candidateWork is one candidate's staged records plus its dispatch
// payload, the unit that flows through the pipelined queue.
type candidateWork struct {
	protocollo string
	records    map[string][]StagedRecord
	submission Submission
}

// RunCycle executes one full ingestion cycle. Cancelling `ctx`
// requests a graceful stop: the loop finishes the candidate it is on,
// flushes what was staged and returns. A store failure aborts the
// remainder of the cycle, batches already committed stand.
func (s Service) RunCycle(ctx context.Context) (Report, error) {
	// current-candidate work must survive the shutdown signal, the
	// loop itself watches ctx between candidates.
	opCtx := context.WithoutCancel(ctx)

	opCtx, span := tracer.Start(opCtx, "RunCycle")
	defer span.End()

	report := Report{Cycle: uuid.NewString()[:8]}
	span.SetAttributes(attribute.String("cycle", report.Cycle))

	ids, err := s.extractor.ListCandidates(opCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list candidates")
		return report, fmt.Errorf("list candidates: %w", err)
	}
	report.Candidates = len(ids)
	slog.InfoContext(opCtx, "cycle started", "cycle", report.Cycle, "candidates", len(ids))

	if s.options.Workers > 0 {
		err = s.runPipelined(ctx, opCtx, ids, &report)
	} else {
		err = s.runSequential(ctx, opCtx, ids, &report)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cycle aborted")
		slog.ErrorContext(opCtx, "cycle aborted", append(report.LogAttrs(), "err", err)...)
		return report, err
	}

	slog.InfoContext(opCtx, "cycle complete", report.LogAttrs()...)
	return report, nil
}

// preFilterSchema picks the sub-schema used for the cheap
// exists-by-protocollo check before extraction. Only an upsert-mode
// schema qualifies: in append mode a recurring protocollo can still
// carry new content.
func (s Service) preFilterSchema() (SubSchema, bool) {
	for _, schema := range SubSchemas {
		if s.store.Mode(schema) == ModeUpsert {
			return schema, true
		}
	}
	return SubSchema{}, false
}

func (s Service) runSequential(ctx, opCtx context.Context, ids []string, report *Report) error {
	preFilter, hasPreFilter := s.preFilterSchema()
	seen := map[string]bool{}
	stagedFP := map[string]map[string]bool{}
	batches := map[string][]StagedRecord{}
	var submissions []Submission

	for _, id := range ids {
		if ctx.Err() != nil {
			slog.InfoContext(opCtx, "stop requested, ending candidate loop", "cycle", report.Cycle)
			break
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		if hasPreFilter {
			exists, err := s.store.Exists(opCtx, preFilter, id)
			if err != nil {
				return fmt.Errorf("exists pre-filter: %w", err)
			}
			if exists {
				slog.DebugContext(opCtx, "skipping existing protocollo", "protocollo", id)
				report.SkippedExisting++
				continue
			}
		}

		work, err := s.extractCandidate(opCtx, id, stagedFP, report)
		if err != nil {
			return err
		}
		if work == nil {
			continue
		}
		for name, recs := range work.records {
			batches[name] = append(batches[name], recs...)
		}
		if len(work.submission.Mappings) > 0 {
			submissions = append(submissions, work.submission)
		}
	}

	// one write per sub-schema, in declared order
	for _, schema := range SubSchemas {
		recs := batches[schema.Name]
		if len(recs) == 0 {
			continue
		}
		n, err := s.store.Write(opCtx, schema, recs)
		if err != nil {
			return fmt.Errorf("write %s batch: %w", schema.Name, err)
		}
		report.Written += n
	}

	for _, sub := range submissions {
		s.dispatch(opCtx, sub, report, nil)
	}
	return nil
}

func (s Service) runPipelined(ctx, opCtx context.Context, ids []string, report *Report) error {
	preFilter, hasPreFilter := s.preFilterSchema()
	seen := map[string]bool{}
	stagedFP := map[string]map[string]bool{}

	cycleCtx, abort := context.WithCancel(opCtx)
	defer abort()

	queue := make(chan candidateWork, s.options.QueueCapacity)
	var mu sync.Mutex
	var workerErr error
	var wg sync.WaitGroup

	for i := 0; i < s.options.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for work := range queue {
				if cycleCtx.Err() != nil {
					continue
				}
				err := s.persistCandidate(opCtx, work, report, &mu)
				if err != nil {
					mu.Lock()
					if workerErr == nil {
						workerErr = err
					}
					mu.Unlock()
					abort()
					continue
				}
				if len(work.submission.Mappings) > 0 {
					s.dispatch(opCtx, work.submission, report, &mu)
				}
			}
		}()
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			slog.InfoContext(opCtx, "stop requested, ending candidate loop", "cycle", report.Cycle)
			break
		}
		if cycleCtx.Err() != nil {
			break
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		if hasPreFilter {
			exists, err := s.store.Exists(opCtx, preFilter, id)
			if err != nil {
				mu.Lock()
				if workerErr == nil {
					workerErr = fmt.Errorf("exists pre-filter: %w", err)
				}
				mu.Unlock()
				break
			}
			if exists {
				mu.Lock()
				report.SkippedExisting++
				mu.Unlock()
				continue
			}
		}

		work, err := s.extractCandidateLocked(opCtx, id, stagedFP, report, &mu)
		if err != nil {
			mu.Lock()
			if workerErr == nil {
				workerErr = err
			}
			mu.Unlock()
			break
		}
		if work == nil {
			continue
		}

		// blocks when the queue is full, bounding how far extraction
		// can run ahead of persistence
		queue <- *work
	}

	close(queue)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return workerErr
}

// persistCandidate writes one candidate's records, respecting each
// sub-schema's mode. Used by pipelined workers.
func (s Service) persistCandidate(ctx context.Context, work candidateWork, report *Report, mu *sync.Mutex) error {
	for _, schema := range SubSchemas {
		recs := work.records[schema.Name]
		if len(recs) == 0 {
			continue
		}
		n, err := s.store.Write(ctx, schema, recs)
		if err != nil {
			return fmt.Errorf("write %s for %s: %w", schema.Name, work.protocollo, err)
		}
		mu.Lock()
		report.Written += n
		mu.Unlock()
	}
	return nil
}

func (s Service) extractCandidateLocked(ctx context.Context, id string, stagedFP map[string]map[string]bool, report *Report, mu *sync.Mutex) (*candidateWork, error) {
	mu.Lock()
	defer mu.Unlock()
	return s.extractCandidate(ctx, id, stagedFP, report)
}

// extractCandidate runs extraction, fingerprinting and dedup checks
// for one candidate. Returns nil when nothing could be staged. A
// store error is fatal to the cycle, an extraction error is not.
func (s Service) extractCandidate(ctx context.Context, id string, stagedFP map[string]map[string]bool, report *Report) (*candidateWork, error) {
	ctx, span := tracer.Start(ctx, "extractCandidate")
	defer span.End()
	span.SetAttributes(attribute.String("protocollo", id))

	results, err := s.extractor.Extract(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		slog.ErrorContext(ctx, "failed to extract candidate", "protocollo", id, "err", err)
		report.ExtractFailures++
		return nil, nil
	}

	work := &candidateWork{
		protocollo: id,
		records:    map[string][]StagedRecord{},
		submission: Submission{Protocollo: id, Mappings: map[string]*Mapping{}},
	}

	for _, r := range results {
		if r.Err != nil {
			slog.WarnContext(
				ctx, "sub-schema extraction failed",
				"protocollo", id,
				"schema", r.Schema.Name,
				"err", r.Err,
			)
			report.ExtractFailures++
			continue
		}
		if r.Mapping == nil || r.Mapping.Len() == 0 {
			continue
		}

		fp := Fingerprint(r.Schema, r.Mapping)
		set := stagedFP[r.Schema.Name]
		if set == nil {
			set = map[string]bool{}
			stagedFP[r.Schema.Name] = set
		}
		if set[fp] {
			report.DuplicatesSkipped++
			continue
		}

		if s.store.Mode(r.Schema) == ModeAppend {
			dup, err := s.store.ExistsFingerprint(ctx, r.Schema, fp)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "fingerprint lookup failed")
				return nil, fmt.Errorf("fingerprint lookup: %w", err)
			}
			if dup {
				slog.DebugContext(
					ctx, "duplicate fingerprint, skipping",
					"protocollo", id,
					"schema", r.Schema.Name,
				)
				report.DuplicatesSkipped++
				continue
			}
		}

		set[fp] = true
		work.records[r.Schema.Name] = append(work.records[r.Schema.Name], StagedRecord{
			Protocollo:  id,
			Fingerprint: fp,
			Mapping:     r.Mapping,
		})
		work.submission.Mappings[r.Schema.Name] = r.Mapping
		report.Staged++
	}

	if len(work.records) == 0 {
		return nil, nil
	}
	return work, nil
}

// dispatch forwards one submission, logging every destination
// outcome independently. `mu` guards the report in pipelined mode and
// may be nil.
func (s Service) dispatch(ctx context.Context, sub Submission, report *Report, mu *sync.Mutex) {
	ctx, span := tracer.Start(ctx, "dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("protocollo", sub.Protocollo))

	deliveries := s.dispatcher.Submit(ctx, sub)
	for _, d := range deliveries {
		if mu != nil {
			mu.Lock()
		}
		if d.Err != nil {
			report.DispatchFailures++
		} else {
			report.Dispatched++
		}
		if mu != nil {
			mu.Unlock()
		}

		if d.Err != nil {
			span.RecordError(d.Err)
			slog.ErrorContext(
				ctx, "dispatch failed",
				"protocollo", sub.Protocollo,
				"destination", d.Destination,
				"err", d.Err,
			)
			if s.options.Notifier != nil {
				s.options.Notifier.Notify(
					ctx,
					"dispatch failed",
					fmt.Sprintf("protocollo %s could not be delivered to %s: %s", sub.Protocollo, d.Destination, d.Err),
				)
			}
			continue
		}

		slog.InfoContext(
			ctx, "dispatched record",
			"protocollo", sub.Protocollo,
			"destination", d.Destination,
		)
		if s.options.Notifier != nil {
			s.options.Notifier.Notify(
				ctx,
				"record delivered",
				fmt.Sprintf("protocollo %s delivered to %s", sub.Protocollo, d.Destination),
			)
		}
	}
}
