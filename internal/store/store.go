// Package store is the Postgres-backed persistence layer: source and
// fetch-run bookkeeping, the transactional per-opportunity upsert that
// resolves the opportunity/version cycle, and the queries the Dedup
// Engine and Snapshot Exporter read back from.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/someflydev/rhof/internal/dedup"
	"github.com/someflydev/rhof/internal/model"
	"github.com/someflydev/rhof/internal/registry"
	"github.com/someflydev/rhof/internal/rherr"
)

// Store wraps a pgxpool connection and implements every persistence
// operation the orchestrator drives.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UpsertSource inserts or updates a Source row from registry config,
// treating the registry as the source of truth for source metadata.
func (s *Store) UpsertSource(ctx context.Context, cfg registry.SourceConfig) error {
	configJSON, err := json.Marshal(cfg.Extra)
	if err != nil {
		return rherr.New(rherr.Database, "store.UpsertSource", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sources (source_id, display_name, crawlability, enabled, config)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			crawlability = EXCLUDED.crawlability,
			enabled      = EXCLUDED.enabled,
			config       = EXCLUDED.config,
			updated_at   = NOW()
	`, cfg.ID, cfg.Name, cfg.Crawlability, cfg.Enabled, configJSON)
	if err != nil {
		return rherr.New(rherr.Database, "store.UpsertSource", err)
	}
	return nil
}

// StartFetchRun inserts a FetchRun row in state "started" and returns
// its id.
func (s *Store) StartFetchRun(ctx context.Context) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx, `INSERT INTO fetch_runs (id, status) VALUES ($1, 'started')`, id)
	if err != nil {
		return "", rherr.New(rherr.Database, "store.StartFetchRun", err)
	}
	return id, nil
}

// FinishFetchRun records the final status and summary for a run.
func (s *Store) FinishFetchRun(ctx context.Context, runID, status string, summary interface{}) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return rherr.New(rherr.Database, "store.FinishFetchRun", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE fetch_runs SET status = $2, finished_at = NOW(), summary_json = $3
		WHERE id = $1
	`, runID, status, summaryJSON)
	if err != nil {
		return rherr.New(rherr.Database, "store.FinishFetchRun", err)
	}
	return nil
}

// HasUnfinishedFetchRun reports whether a run is still in state
// "started", used by the orchestrator's advisory-lock-or-fail-fast
// check before starting a new one.
func (s *Store) HasUnfinishedFetchRun(ctx context.Context) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM fetch_runs WHERE status = 'started'`).Scan(&count)
	if err != nil {
		return false, rherr.New(rherr.Database, "store.HasUnfinishedFetchRun", err)
	}
	return count > 0, nil
}

// UpsertRawArtifact records placement metadata keyed by (source_id,
// content_hash); fixture runs supply a deterministic id so repeats are
// no-ops.
func (s *Store) UpsertRawArtifact(ctx context.Context, runID, id, sourceID, sourceURL, contentType, contentHash, storagePath string, byteSize int64, fetchedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO raw_artifacts (id, source_id, fetch_run_id, source_url, content_type, content_hash, storage_path, byte_size, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source_id, content_hash) DO UPDATE SET
			fetch_run_id = EXCLUDED.fetch_run_id
	`, id, sourceID, runID, sourceURL, contentType, contentHash, storagePath, byteSize, fetchedAt)
	if err != nil {
		return rherr.New(rherr.Database, "store.UpsertRawArtifact", err)
	}
	return nil
}

// DedupCandidates returns the title/apply_url/company view of every
// currently active opportunity for sourceID, for the Dedup Engine to
// score incoming drafts against.
func (s *Store) DedupCandidates(ctx context.Context, sourceID string) ([]dedup.Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT o.id, o.source_id, o.apply_url, v.data_json->'title'->>'value', v.data_json->'company'->>'value'
		FROM opportunities o
		JOIN opportunity_versions v ON v.id = o.current_version_id
		WHERE o.source_id = $1 AND o.status = 'active'
	`, sourceID)
	if err != nil {
		return nil, rherr.New(rherr.Database, "store.DedupCandidates", err)
	}
	defer rows.Close()

	var out []dedup.Candidate
	for rows.Next() {
		var c dedup.Candidate
		var applyURL, title, company *string
		if err := rows.Scan(&c.OpportunityID, &c.SourceID, &applyURL, &title, &company); err != nil {
			return nil, rherr.New(rherr.Database, "store.DedupCandidates", err)
		}
		if applyURL != nil {
			c.ApplyURL = *applyURL
		}
		if title != nil {
			c.Title = *title
		}
		if company != nil {
			c.Company = *company
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PersistResult reports what UpsertOpportunity did, for summary_json.
type PersistResult struct {
	OpportunityID    string
	NewVersion       bool
	VersionNo        int
	ReviewItemOpened bool
}

// commitFailure marks an UpsertOpportunity attempt that built and
// executed the whole transaction but failed at tx.Commit, so the
// caller knows this specific attempt is safe to retry.
type commitFailure struct{ err error }

func (e *commitFailure) Error() string { return e.err.Error() }
func (e *commitFailure) Unwrap() error { return e.err }

// UpsertOpportunity implements the six-step transactional persist:
// dedup-decision branch, canonical/version row writes, tag and
// risk-flag replacement, review-item bookkeeping. Everything commits
// or nothing does. A commit failure is rolled back and retried once
// before being surfaced to the caller.
func (s *Store) UpsertOpportunity(ctx context.Context, draft model.OpportunityDraft, rawArtifactID string) (PersistResult, error) {
	result, err := s.upsertOpportunityAttempt(ctx, draft, rawArtifactID)
	var cf *commitFailure
	if errors.As(err, &cf) {
		result, err = s.upsertOpportunityAttempt(ctx, draft, rawArtifactID)
		if errors.As(err, &cf) {
			return PersistResult{}, rherr.New(rherr.Database, "store.UpsertOpportunity", cf.err)
		}
	}
	if err != nil {
		return PersistResult{}, err
	}
	return result, nil
}

// upsertOpportunityAttempt runs one full transaction attempt. A failure
// at tx.Commit is reported as a *commitFailure so UpsertOpportunity can
// tell it apart from an earlier, non-retryable failure.
func (s *Store) upsertOpportunityAttempt(ctx context.Context, draft model.OpportunityDraft, rawArtifactID string) (PersistResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PersistResult{}, rherr.New(rherr.Database, "store.UpsertOpportunity", err)
	}
	defer tx.Rollback(ctx)

	canonicalKey := model.CanonicalKey(draft)
	var applyURL *string
	if draft.ApplyURL.Populated() {
		applyURL = draft.ApplyURL.Value
	}

	// Step 1: upsert Opportunity by (source_id, canonical_key).
	oppID := uuid.New().String()
	var existingID string
	err = tx.QueryRow(ctx, `
		INSERT INTO opportunities (id, source_id, canonical_key, apply_url, status, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, 'active', NOW(), NOW())
		ON CONFLICT (canonical_key) DO UPDATE SET
			last_seen_at = NOW(),
			apply_url    = EXCLUDED.apply_url,
			updated_at   = NOW()
		RETURNING id
	`, oppID, draft.SourceID, canonicalKey, applyURL).Scan(&existingID)
	if err != nil {
		return PersistResult{}, rherr.New(rherr.Database, "store.UpsertOpportunity", err)
	}
	oppID = existingID

	// Step 2: load latest persisted data_json, if any.
	var priorMaxVersion int
	var priorDataJSON []byte
	err = tx.QueryRow(ctx, `
		SELECT version_no, data_json FROM opportunity_versions
		WHERE opportunity_id = $1 ORDER BY version_no DESC LIMIT 1
	`, oppID).Scan(&priorMaxVersion, &priorDataJSON)
	hasPrior := true
	if err != nil {
		if err == pgx.ErrNoRows {
			hasPrior = false
		} else {
			return PersistResult{}, rherr.New(rherr.Database, "store.UpsertOpportunity", err)
		}
	}

	// Step 3: serialize the candidate data_json.
	candidateJSON, err := model.SerializeData(draft)
	if err != nil {
		return PersistResult{}, rherr.New(rherr.Database, "store.UpsertOpportunity", err)
	}

	result := PersistResult{OpportunityID: oppID}

	// Step 4: insert a new version only if content changed.
	if !hasPrior || !jsonEqual(candidateJSON, priorDataJSON) {
		evidenceJSON, err := model.SerializeEvidence(draft)
		if err != nil {
			return PersistResult{}, rherr.New(rherr.Database, "store.UpsertOpportunity", err)
		}

		versionNo := priorMaxVersion + 1
		versionID := uuid.New().String()
		var artifactArg interface{}
		if rawArtifactID != "" {
			artifactArg = rawArtifactID
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO opportunity_versions (id, opportunity_id, version_no, data_json, evidence_json, raw_artifact_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, versionID, oppID, versionNo, candidateJSON, evidenceJSON, artifactArg)
		if err != nil {
			return PersistResult{}, rherr.New(rherr.Database, "store.UpsertOpportunity", err)
		}

		_, err = tx.Exec(ctx, `UPDATE opportunities SET current_version_id = $2 WHERE id = $1`, oppID, versionID)
		if err != nil {
			return PersistResult{}, rherr.New(rherr.Database, "store.UpsertOpportunity", err)
		}

		result.NewVersion = true
		result.VersionNo = versionNo
	} else {
		result.VersionNo = priorMaxVersion
	}

	// Step 5: replace tag/risk-flag associations (Open Question a:
	// replace, not merge).
	if err := s.replaceTags(ctx, tx, oppID, draft.Tags); err != nil {
		return PersistResult{}, err
	}
	if err := s.replaceRiskFlags(ctx, tx, oppID, draft.RiskFlags); err != nil {
		return PersistResult{}, err
	}

	// Step 6: open a review item if the dedup decision requires one and
	// none is already open.
	if draft.Dedup.Kind == model.DedupReviewRequired {
		opened, err := s.openReviewItemIfNone(ctx, tx, oppID, "dedup_review")
		if err != nil {
			return PersistResult{}, err
		}
		result.ReviewItemOpened = opened
	}

	if err := tx.Commit(ctx); err != nil {
		return PersistResult{}, &commitFailure{err}
	}

	return result, nil
}

// jsonEqual compares two JSON documents by decoded value rather than by
// byte string: postgres' jsonb storage re-orders object keys on its own
// terms, so data_json round-tripped through the column no longer
// matches our canonicalMarshal output byte-for-byte even when semantically
// identical.
func jsonEqual(a, b []byte) bool {
	var va, vb interface{}
	if err := json.Unmarshal(a, &va); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func (s *Store) replaceTags(ctx context.Context, tx pgx.Tx, oppID string, tags []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM opportunity_tags WHERE opportunity_id = $1`, oppID); err != nil {
		return rherr.New(rherr.Database, "store.replaceTags", err)
	}
	for _, key := range tags {
		if _, err := tx.Exec(ctx, `INSERT INTO tags (key) VALUES ($1) ON CONFLICT DO NOTHING`, key); err != nil {
			return rherr.New(rherr.Database, "store.replaceTags", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO opportunity_tags (opportunity_id, tag_key) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, oppID, key); err != nil {
			return rherr.New(rherr.Database, "store.replaceTags", err)
		}
	}
	return nil
}

func (s *Store) replaceRiskFlags(ctx context.Context, tx pgx.Tx, oppID string, flags []model.RiskFlag) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM opportunity_risk_flags WHERE opportunity_id = $1
	`, oppID); err != nil {
		return rherr.New(rherr.Database, "store.replaceRiskFlags", err)
	}
	for _, f := range flags {
		flagID := uuid.New().String()
		var existing string
		err := tx.QueryRow(ctx, `SELECT id FROM risk_flags WHERE key = $1 LIMIT 1`, f.Key).Scan(&existing)
		if err == pgx.ErrNoRows {
			if _, err := tx.Exec(ctx, `
				INSERT INTO risk_flags (id, key, severity, reason) VALUES ($1, $2, $3, $4)
			`, flagID, f.Key, f.Severity, f.Reason); err != nil {
				return rherr.New(rherr.Database, "store.replaceRiskFlags", err)
			}
		} else if err != nil {
			return rherr.New(rherr.Database, "store.replaceRiskFlags", err)
		} else {
			flagID = existing
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO opportunity_risk_flags (opportunity_id, risk_flag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, oppID, flagID); err != nil {
			return rherr.New(rherr.Database, "store.replaceRiskFlags", err)
		}
	}
	return nil
}

func (s *Store) openReviewItemIfNone(ctx context.Context, tx pgx.Tx, oppID, itemType string) (bool, error) {
	var existing string
	err := tx.QueryRow(ctx, `
		SELECT id FROM review_items WHERE opportunity_id = $1 AND item_type = $2 AND status = 'open'
	`, oppID, itemType).Scan(&existing)
	if err == nil {
		return false, nil
	}
	if err != pgx.ErrNoRows {
		return false, rherr.New(rherr.Database, "store.openReviewItemIfNone", err)
	}

	id := uuid.New().String()
	_, err = tx.Exec(ctx, `
		INSERT INTO review_items (id, opportunity_id, item_type, status)
		VALUES ($1, $2, $3, 'open')
	`, id, oppID, itemType)
	if err != nil {
		return false, rherr.New(rherr.Database, "store.openReviewItemIfNone", err)
	}
	return true, nil
}

// CurrentVersionDataJSON returns the data_json of opportunity id's
// current version, for comparing it across runs.
func (s *Store) CurrentVersionDataJSON(ctx context.Context, opportunityID string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT v.data_json FROM opportunities o
		JOIN opportunity_versions v ON v.id = o.current_version_id
		WHERE o.id = $1
	`, opportunityID).Scan(&data)
	if err != nil {
		return nil, rherr.New(rherr.Database, "store.CurrentVersionDataJSON", err)
	}
	return data, nil
}

// CountRows returns the row count of one table from a fixed allow-list;
// any other table name is rejected.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	allowed := map[string]bool{
		"sources": true, "fetch_runs": true, "raw_artifacts": true,
		"opportunities": true, "opportunity_versions": true, "review_items": true,
	}
	if !allowed[table] {
		return 0, rherr.New(rherr.Database, "store.CountRows", fmt.Errorf("unknown table %q", table))
	}
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, rherr.New(rherr.Database, "store.CountRows", err)
	}
	return n, nil
}
