package catalog

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/hbomb79/Iris/internal/metadata"
	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/hbomb79/Iris/pkg/retry"
)

var log = logger.Get("CatalogSync")

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeNoop    Outcome = "updated-noop"
	OutcomeUpdated Outcome = "updated"
	OutcomeFailed  Outcome = "failed"
)

// SyncResult reports how the reconciliation of one record concluded.
// A Failed outcome carries the terminal error; it is a per-file
// result, never a reason to abort the batch.
type SyncResult struct {
	Outcome Outcome
	Ops     int
	Err     error
}

// Syncer reconciles enriched records against the remote metadata
// store with minimal writes: attempt a create, and on conflict fetch
// the current instance, diff, and patch only the changed fields. Every
// remote call runs under the retry policy; exhausting it (or hitting a
// non-retryable failure) yields a Failed result.
type Syncer struct {
	store       Store
	templateKey string
	policy      retry.Policy
}

func NewSyncer(store Store, templateKey string, policy retry.Policy) *Syncer {
	return &Syncer{store: store, templateKey: templateKey, policy: policy}
}

// Sync drives the state machine for one record. Re-running Sync with
// an identical record is guaranteed to conclude with zero patch
// operations — the diff step is what makes whole-batch re-invocation
// safe.
func (syncer *Syncer) Sync(ctx context.Context, record *metadata.Record) SyncResult {
	fields := record.FieldMap()

	// ATTEMPT_CREATE
	err := syncer.policy.Do(ctx, func() error {
		return syncer.store.CreateMetadata(ctx, record.FileID, syncer.templateKey, fields)
	})
	if err == nil {
		log.Emit(logger.NEW, "created metadata instance for file %s\n", record.FileID)
		return SyncResult{Outcome: OutcomeCreated, Ops: len(fields)}
	}
	if !errors.Is(err, ErrConflict) {
		return SyncResult{Outcome: OutcomeFailed, Err: fmt.Errorf("create failed: %w", err)}
	}

	// FETCH_CURRENT
	var current map[string]any
	err = syncer.policy.Do(ctx, func() error {
		var fetchErr error
		current, fetchErr = syncer.store.GetMetadata(ctx, record.FileID, syncer.templateKey)
		return fetchErr
	})
	if err != nil {
		return SyncResult{Outcome: OutcomeFailed, Err: fmt.Errorf("fetch of existing instance failed: %w", err)}
	}

	// DIFF
	ops := Diff(current, fields)
	if len(ops) == 0 {
		return SyncResult{Outcome: OutcomeNoop}
	}

	// APPLY_PATCH
	err = syncer.policy.Do(ctx, func() error {
		return syncer.store.PatchMetadata(ctx, record.FileID, syncer.templateKey, ops)
	})
	if err != nil {
		return SyncResult{Outcome: OutcomeFailed, Ops: len(ops), Err: fmt.Errorf("patch failed: %w", err)}
	}

	log.Emit(logger.SUCCESS, "patched %d field(s) for file %s\n", len(ops), record.FileID)
	return SyncResult{Outcome: OutcomeUpdated, Ops: len(ops)}
}

// Diff computes the add/replace operations that bring the current
// remote fields in line with the new ones. Keys present only remotely
// are left untouched — the protocol is additive/override only. The
// processing stage is special-cased to honour its monotonicity: a
// remote record further along the progression is never pulled back.
func Diff(current map[string]any, next map[string]any) []PatchOp {
	keys := make([]string, 0, len(next))
	for key := range next {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	ops := make([]PatchOp, 0)
	for _, key := range keys {
		value := next[key]
		existing, present := current[key]
		if !present {
			ops = append(ops, PatchOp{Op: "add", Path: "/" + key, Value: value})
			continue
		}

		if key == "processingStage" {
			currentStage, _ := existing.(string)
			nextStage, _ := value.(string)
			if metadata.StageRank(nextStage) <= metadata.StageRank(currentStage) {
				continue
			}
		}

		if !deepEqual(existing, value) {
			ops = append(ops, PatchOp{Op: "replace", Path: "/" + key, Value: value})
		}
	}

	return ops
}

// deepEqual compares a value freshly produced by the pipeline against
// one that round-tripped through JSON, normalising the numeric and
// slice type differences that introduces.
func deepEqual(a any, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = any(s)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	default:
		return value
	}
}
