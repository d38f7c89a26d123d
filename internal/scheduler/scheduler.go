// Package scheduler drives the enrichment pipeline over the library
// under a wall-clock budget. A single invocation is strictly
// sequential: each candidate is decoded, enriched, merged and synced
// in turn, with the elapsed-time check between items acting as the
// only stop point. Progress is persisted so an interrupted cycle
// resumes exactly where it stopped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Iris/internal/catalog"
	"github.com/hbomb79/Iris/internal/database"
	"github.com/hbomb79/Iris/internal/exif"
	"github.com/hbomb79/Iris/internal/geocode"
	"github.com/hbomb79/Iris/internal/heuristics"
	"github.com/hbomb79/Iris/internal/library"
	"github.com/hbomb79/Iris/internal/metadata"
	"github.com/hbomb79/Iris/internal/vision"
	"github.com/hbomb79/Iris/pkg/logger"
	"golang.org/x/time/rate"
)

var log = logger.Get("Scheduler")

type Config struct {
	// BudgetSeconds caps the wall-clock duration of one invocation.
	BudgetSeconds int `yaml:"budget_seconds" env:"SCHEDULER_BUDGET_SECONDS" env-default:"240"`

	// SchemaVersion is the enrichment schema this build writes. Bumping
	// it marks every previously processed file stale so the next cycles
	// re-enrich the whole library.
	SchemaVersion int `yaml:"schema_version" env:"SCHEDULER_SCHEMA_VERSION" env-default:"1"`

	// ScanCheckInterval is how many candidates an enumeration scan may
	// examine between budget checks.
	ScanCheckInterval int `yaml:"scan_check_interval" env:"SCHEDULER_SCAN_CHECK_INTERVAL" env-default:"25"`

	// PacingPerSecond throttles remote-heavy items as rate-limit
	// courtesy towards the backing services. Zero disables pacing.
	PacingPerSecond float64 `yaml:"pacing_per_second" env:"SCHEDULER_PACING_PER_SECOND" env-default:"2"`
}

// Summary is the user-visible result of one invocation.
type Summary struct {
	RunID     string
	Processed int
	Skipped   int
	Failed    int
	Elapsed   time.Duration
}

type (
	// The collaborators below are the narrow slices of each package the
	// scheduler consumes; tests substitute stubs.

	VisionAnalyzer interface {
		Analyze(ctx context.Context, image []byte) (*vision.Analysis, error)
	}

	Geocoder interface {
		ReverseGeocode(ctx context.Context, lat float64, lon float64) (*geocode.Place, error)
	}

	MetadataSyncer interface {
		Sync(ctx context.Context, record *metadata.Record) catalog.SyncResult
	}

	MetadataProber interface {
		GetMetadata(ctx context.Context, fileID string, templateKey string) (map[string]any, error)
	}

	Service struct {
		config      Config
		templateKey string

		db     database.Manager
		store  Store
		source library.Source
		prober MetadataProber
		syncer MetadataSyncer
		vision VisionAnalyzer
		geo    Geocoder

		heuristics heuristics.Analyzer
		limiter    *rate.Limiter

		// now is swapped out by tests to simulate budget expiry.
		now func() time.Time
	}
)

func New(
	config Config,
	templateKey string,
	db database.Manager,
	store Store,
	source library.Source,
	prober MetadataProber,
	syncer MetadataSyncer,
	visionAnalyzer VisionAnalyzer,
	geocoder Geocoder,
) *Service {
	limit := rate.Inf
	if config.PacingPerSecond > 0 {
		limit = rate.Limit(config.PacingPerSecond)
	}

	return &Service{
		config:      config,
		templateKey: templateKey,
		db:          db,
		store:       store,
		source:      source,
		prober:      prober,
		syncer:      syncer,
		vision:      visionAnalyzer,
		geo:         geocoder,
		limiter:     rate.NewLimiter(limit, 1),
		now:         time.Now,
	}
}

// candidateClass orders work: files never enriched come first, files
// enriched under an older schema next, and already-current files last
// as a low-priority verification pass.
type candidateClass int

const (
	classNew candidateClass = iota
	classStale
	classCurrent
)

type candidate struct {
	ref   library.FileRef
	class candidateClass

	// skip is set when the file was already processed earlier in the
	// current cycle, making any further work on it redundant.
	skip bool
}

// RunOnce performs a single budget-bound invocation. An error return
// indicates the scheduler state store failed, which is fatal since
// nothing can be safely resumed; every per-file failure is instead
// absorbed into the Summary.
func (service *Service) RunOnce(ctx context.Context) (*Summary, error) {
	start := service.now()
	budget := time.Duration(service.config.BudgetSeconds) * time.Second
	queryable := service.db.GetSqlxDb()

	checkpoint, err := service.store.LoadCheckpoint(queryable)
	if err != nil {
		return nil, fmt.Errorf("scheduler cannot start: %w", err)
	}

	summary := &Summary{RunID: uuid.New().String()}
	if checkpoint == nil || checkpoint.CycleComplete || checkpoint.SchemaVersion != service.config.SchemaVersion {
		checkpoint = &Checkpoint{
			SchemaVersion:  service.config.SchemaVersion,
			CycleStartedAt: start,
		}
		log.Emit(logger.NEW, "Starting fresh enrichment cycle (schema version %d)\n", service.config.SchemaVersion)
	} else {
		log.Emit(logger.INFO, "Resuming enrichment cycle started %s\n", checkpoint.CycleStartedAt.Format(time.RFC3339))
	}
	checkpoint.RunID = summary.RunID

	candidates, overran, err := service.enumerateCandidates(ctx, queryable, checkpoint, start, budget)
	if err != nil {
		return nil, err
	}
	if overran {
		summary.Elapsed = service.now().Sub(start)
		return summary, service.persist(queryable, checkpoint, false, start)
	}

	cycleComplete := true
	for i, cand := range candidates {
		if cand.skip {
			summary.Skipped++
			continue
		}

		service.processCandidate(ctx, queryable, cand, summary)
		checkpoint.Cursor = cand.ref.ID

		if service.now().Sub(start) >= budget {
			log.Emit(logger.STOP, "Budget of %s exhausted after %d items; suspending at %s\n", budget, summary.Processed, cand.ref.ID)
			cycleComplete = i == len(candidates)-1
			break
		}

		if err := service.limiter.Wait(ctx); err != nil {
			cycleComplete = false
			break
		}
	}

	if err := service.persist(queryable, checkpoint, cycleComplete, start); err != nil {
		return nil, err
	}

	summary.Elapsed = service.now().Sub(start)
	log.Emit(logger.SUCCESS, "Run %s finished: %d processed, %d skipped, %d failed in %s\n",
		summary.RunID, summary.Processed, summary.Skipped, summary.Failed, summary.Elapsed)
	return summary, nil
}

func (service *Service) persist(db database.Queryable, checkpoint *Checkpoint, cycleComplete bool, start time.Time) error {
	checkpoint.CycleComplete = cycleComplete
	if cycleComplete {
		checkpoint.Cursor = ""
		log.Emit(logger.SUCCESS, "Enrichment cycle complete; cursor reset for next cycle\n")
	}
	checkpoint.UpdatedAt = service.now()

	if err := service.store.SaveCheckpoint(db, *checkpoint); err != nil {
		return fmt.Errorf("scheduler cannot persist progress: %w", err)
	}

	return nil
}

// enumerateCandidates lists the library and buckets candidates by
// priority class, checking the budget periodically during the scan.
func (service *Service) enumerateCandidates(ctx context.Context, db database.Queryable, checkpoint *Checkpoint, start time.Time, budget time.Duration) ([]candidate, bool, error) {
	refs, err := service.source.ListFiles(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to enumerate library: %w", err)
	}

	ledger, err := service.store.ProcessedFiles(db)
	if err != nil {
		return nil, false, fmt.Errorf("scheduler cannot start: %w", err)
	}

	interval := service.config.ScanCheckInterval
	if interval <= 0 {
		interval = 25
	}

	var fresh, stale, current []candidate
	for i, ref := range refs {
		if i > 0 && i%interval == 0 && service.now().Sub(start) >= budget {
			log.Emit(logger.STOP, "Budget exhausted during candidate scan (%d/%d examined)\n", i, len(refs))
			return nil, true, nil
		}

		row, seen := ledger[ref.ID]
		switch {
		case !seen:
			fresh = append(fresh, candidate{ref: ref, class: classNew})
		case row.SchemaVersion < service.config.SchemaVersion:
			stale = append(stale, candidate{ref: ref, class: classStale})
		default:
			processedThisCycle := !row.ProcessedAt.Before(checkpoint.CycleStartedAt)
			current = append(current, candidate{ref: ref, class: classCurrent, skip: processedThisCycle})
		}
	}

	ordered := make([]candidate, 0, len(refs))
	ordered = append(ordered, fresh...)
	ordered = append(ordered, stale...)
	ordered = append(ordered, current...)

	log.Emit(logger.INFO, "Enumerated %d candidates (%d new, %d stale, %d current)\n",
		len(ordered), len(fresh), len(stale), len(current))
	return ordered, false, nil
}

// processCandidate runs the probe and, unless it short-circuits, the
// full enrichment chain for one file. Failures never escape: they are
// tallied into the summary so the batch continues.
func (service *Service) processCandidate(ctx context.Context, db database.Queryable, cand candidate, summary *Summary) {
	var notes []string
	priorStage := ""

	prior, err := service.prober.GetMetadata(ctx, cand.ref.ID, service.templateKey)
	switch {
	case err == nil:
		if stage, ok := prior["processingStage"].(string); ok {
			priorStage = stage
		}
		if service.remoteIsCurrent(prior) {
			log.Emit(logger.DEBUG, "Skipping %s: remote metadata already at schema version %d\n", cand.ref.ID, service.config.SchemaVersion)
			summary.Skipped++
			service.recordOutcome(db, cand.ref.ID, summary, "skipped")
			return
		}
	case errors.Is(err, catalog.ErrNotFound):
		// No metadata yet; the sync step will create it.
	default:
		notes = append(notes, fmt.Sprintf("metadata probe failed: %v", err))
	}

	record, stageReached := service.enrich(ctx, cand.ref, priorStage, notes)
	result := service.syncer.Sync(ctx, record)
	if result.Outcome == catalog.OutcomeFailed {
		log.Emit(logger.ERROR, "Failed to sync %s (stage reached: %s): %v\n", cand.ref.ID, stageReached, result.Err)
		summary.Failed++
		service.recordOutcome(db, cand.ref.ID, summary, "failed")
		return
	}

	summary.Processed++
	service.recordOutcome(db, cand.ref.ID, summary, string(result.Outcome))
}

// recordOutcome writes the ledger row for a file. A write failure here
// only degrades resumability for this one file, so it is logged rather
// than aborting the run.
func (service *Service) recordOutcome(db database.Queryable, fileID string, summary *Summary, outcome string) {
	err := service.store.RecordProcessed(db, ProcessedFile{
		FileID:        fileID,
		RunID:         summary.RunID,
		SchemaVersion: service.config.SchemaVersion,
		Outcome:       outcome,
		ProcessedAt:   service.now(),
	})
	if err != nil {
		log.Emit(logger.ERROR, "Failed to record outcome for %s: %v\n", fileID, err)
	}
}

func (service *Service) remoteIsCurrent(fields map[string]any) bool {
	version, ok := fields["schemaVersion"]
	if !ok {
		return false
	}

	switch v := version.(type) {
	case float64:
		return int(v) >= service.config.SchemaVersion
	case int:
		return v >= service.config.SchemaVersion
	default:
		return false
	}
}

// enrich runs every metadata source over the file and folds the
// results. Decode and adapter failures downgrade to notes on the
// record; only the download itself failing leaves the record with
// nothing but heuristics.
func (service *Service) enrich(ctx context.Context, ref library.FileRef, priorStage string, notes []string) (*metadata.Record, string) {
	stageReached := "heuristics"
	classification := service.heuristics.Classify(ref.Path, ref.Name)

	src := metadata.Sources{
		Base: metadata.BaseAttributes{
			FileName:   ref.Name,
			FolderPath: ref.Path,
			FileSize:   ref.Size,
			UploadedAt: ref.UploadedAt,
		},
		Heuristics: &classification,
		PriorStage: priorStage,
	}

	image, err := service.source.Download(ctx, ref)
	if err != nil {
		notes = append(notes, fmt.Sprintf("download failed: %v", err))
	} else {
		stageReached = "decode"
		result, err := exif.Decode(image, exif.ContainerUnknown)
		if err != nil {
			if !errors.Is(err, exif.ErrNoMetadata) {
				notes = append(notes, fmt.Sprintf("metadata decode failed: %v", err))
			}
		} else {
			src.Technical = &result.Record
			notes = append(notes, result.Diagnostics...)
		}

		stageReached = "vision"
		analysis, err := service.vision.Analyze(ctx, image)
		if err != nil {
			notes = append(notes, fmt.Sprintf("vision analysis failed: %v", err))
		} else {
			src.Vision = analysis
		}
	}

	if src.Technical != nil && src.Technical.Latitude != nil && src.Technical.Longitude != nil {
		stageReached = "geocode"
		place, err := service.geo.ReverseGeocode(ctx, *src.Technical.Latitude, *src.Technical.Longitude)
		if err != nil {
			notes = append(notes, fmt.Sprintf("reverse geocode failed: %v", err))
		} else if place != nil {
			src.Geocode = place
		}
	}

	stageReached = "merge"
	src.Notes = notes
	record := metadata.Sanitize(metadata.Merge(ref.ID, service.config.SchemaVersion, src))
	return &record, stageReached
}
