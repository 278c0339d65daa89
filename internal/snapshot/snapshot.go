// Package snapshot exports a point-in-time columnar materialization of
// one sync run: a parquet file per logical table plus a hash-verified
// manifest, written under reports/<run_id>/snapshots/.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/someflydev/rhof/internal/rherr"
)

// sourceRow mirrors the sources table for columnar export.
type sourceRow struct {
	SourceID     string `parquet:"name=source_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	DisplayName  string `parquet:"name=display_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Crawlability string `parquet:"name=crawlability, type=BYTE_ARRAY, convertedtype=UTF8"`
	Enabled      bool   `parquet:"name=enabled, type=BOOLEAN"`
}

type opportunityRow struct {
	ID           string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	SourceID     string `parquet:"name=source_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	CanonicalKey string `parquet:"name=canonical_key, type=BYTE_ARRAY, convertedtype=UTF8"`
	ApplyURL     string `parquet:"name=apply_url, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status       string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	FirstSeenAt  string `parquet:"name=first_seen_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastSeenAt   string `parquet:"name=last_seen_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type opportunityVersionRow struct {
	ID            string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	OpportunityID string `parquet:"name=opportunity_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	VersionNo     int32  `parquet:"name=version_no, type=INT32"`
	DataJSON      string `parquet:"name=data_json, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt     string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type tagRow struct {
	Key string `parquet:"name=key, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type riskFlagRow struct {
	ID       string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Key      string `parquet:"name=key, type=BYTE_ARRAY, convertedtype=UTF8"`
	Severity string `parquet:"name=severity, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ManifestEntry describes one exported file.
type ManifestEntry struct {
	Path        string `json:"path"`
	ByteSize    int64  `json:"byte_size"`
	ContentHash string `json:"content_hash"`
}

// Manifest is the full set of files written for one run.
type Manifest struct {
	RunID string          `json:"run_id"`
	Files []ManifestEntry `json:"files"`
}

// Export queries pool for every row of the five exported tables and
// writes reports/<runID>/snapshots/*.parquet plus manifest.json under
// reportsRoot.
func Export(ctx context.Context, pool *pgxpool.Pool, reportsRoot, runID string) (Manifest, error) {
	dir := filepath.Join(reportsRoot, runID, "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Manifest{}, rherr.New(rherr.Storage, "snapshot.Export", err)
	}

	man := Manifest{RunID: runID}

	if err := exportSources(ctx, pool, dir, &man); err != nil {
		return Manifest{}, err
	}
	if err := exportOpportunities(ctx, pool, dir, &man); err != nil {
		return Manifest{}, err
	}
	if err := exportOpportunityVersions(ctx, pool, dir, &man); err != nil {
		return Manifest{}, err
	}
	if err := exportTags(ctx, pool, dir, &man); err != nil {
		return Manifest{}, err
	}
	if err := exportRiskFlags(ctx, pool, dir, &man); err != nil {
		return Manifest{}, err
	}

	manifestPath := filepath.Join(dir, "manifest.json")
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return Manifest{}, rherr.New(rherr.Storage, "snapshot.Export", err)
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return Manifest{}, rherr.New(rherr.Storage, "snapshot.Export", err)
	}

	return man, nil
}

func exportSources(ctx context.Context, pool *pgxpool.Pool, dir string, man *Manifest) error {
	rows, err := pool.Query(ctx, `SELECT source_id, display_name, crawlability, enabled FROM sources ORDER BY source_id`)
	if err != nil {
		return rherr.New(rherr.Database, "snapshot.exportSources", err)
	}
	defer rows.Close()

	var out []sourceRow
	for rows.Next() {
		var r sourceRow
		if err := rows.Scan(&r.SourceID, &r.DisplayName, &r.Crawlability, &r.Enabled); err != nil {
			return rherr.New(rherr.Database, "snapshot.exportSources", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return rherr.New(rherr.Database, "snapshot.exportSources", err)
	}

	return writeParquet(dir, "sources.parquet", new(sourceRow), len(out), func(w *writer.ParquetWriter) error {
		for _, r := range out {
			if err := w.Write(r); err != nil {
				return err
			}
		}
		return nil
	}, man)
}

func exportOpportunities(ctx context.Context, pool *pgxpool.Pool, dir string, man *Manifest) error {
	rows, err := pool.Query(ctx, `
		SELECT id, source_id, canonical_key, COALESCE(apply_url, ''), status,
		       first_seen_at::text, last_seen_at::text
		FROM opportunities ORDER BY id
	`)
	if err != nil {
		return rherr.New(rherr.Database, "snapshot.exportOpportunities", err)
	}
	defer rows.Close()

	var out []opportunityRow
	for rows.Next() {
		var r opportunityRow
		if err := rows.Scan(&r.ID, &r.SourceID, &r.CanonicalKey, &r.ApplyURL, &r.Status, &r.FirstSeenAt, &r.LastSeenAt); err != nil {
			return rherr.New(rherr.Database, "snapshot.exportOpportunities", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return rherr.New(rherr.Database, "snapshot.exportOpportunities", err)
	}

	return writeParquet(dir, "opportunities.parquet", new(opportunityRow), len(out), func(w *writer.ParquetWriter) error {
		for _, r := range out {
			if err := w.Write(r); err != nil {
				return err
			}
		}
		return nil
	}, man)
}

func exportOpportunityVersions(ctx context.Context, pool *pgxpool.Pool, dir string, man *Manifest) error {
	rows, err := pool.Query(ctx, `
		SELECT id, opportunity_id, version_no, data_json::text, created_at::text
		FROM opportunity_versions ORDER BY opportunity_id, version_no
	`)
	if err != nil {
		return rherr.New(rherr.Database, "snapshot.exportOpportunityVersions", err)
	}
	defer rows.Close()

	var out []opportunityVersionRow
	for rows.Next() {
		var r opportunityVersionRow
		var versionNo int32
		if err := rows.Scan(&r.ID, &r.OpportunityID, &versionNo, &r.DataJSON, &r.CreatedAt); err != nil {
			return rherr.New(rherr.Database, "snapshot.exportOpportunityVersions", err)
		}
		r.VersionNo = versionNo
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return rherr.New(rherr.Database, "snapshot.exportOpportunityVersions", err)
	}

	return writeParquet(dir, "opportunity_versions.parquet", new(opportunityVersionRow), len(out), func(w *writer.ParquetWriter) error {
		for _, r := range out {
			if err := w.Write(r); err != nil {
				return err
			}
		}
		return nil
	}, man)
}

func exportTags(ctx context.Context, pool *pgxpool.Pool, dir string, man *Manifest) error {
	rows, err := pool.Query(ctx, `SELECT key FROM tags ORDER BY key`)
	if err != nil {
		return rherr.New(rherr.Database, "snapshot.exportTags", err)
	}
	defer rows.Close()

	var out []tagRow
	for rows.Next() {
		var r tagRow
		if err := rows.Scan(&r.Key); err != nil {
			return rherr.New(rherr.Database, "snapshot.exportTags", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return rherr.New(rherr.Database, "snapshot.exportTags", err)
	}

	return writeParquet(dir, "tags.parquet", new(tagRow), len(out), func(w *writer.ParquetWriter) error {
		for _, r := range out {
			if err := w.Write(r); err != nil {
				return err
			}
		}
		return nil
	}, man)
}

func exportRiskFlags(ctx context.Context, pool *pgxpool.Pool, dir string, man *Manifest) error {
	rows, err := pool.Query(ctx, `SELECT id, key, severity FROM risk_flags ORDER BY key`)
	if err != nil {
		return rherr.New(rherr.Database, "snapshot.exportRiskFlags", err)
	}
	defer rows.Close()

	var out []riskFlagRow
	for rows.Next() {
		var r riskFlagRow
		if err := rows.Scan(&r.ID, &r.Key, &r.Severity); err != nil {
			return rherr.New(rherr.Database, "snapshot.exportRiskFlags", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return rherr.New(rherr.Database, "snapshot.exportRiskFlags", err)
	}

	return writeParquet(dir, "risk_flags.parquet", new(riskFlagRow), len(out), func(w *writer.ParquetWriter) error {
		for _, r := range out {
			if err := w.Write(r); err != nil {
				return err
			}
		}
		return nil
	}, man)
}

// writeParquet writes one parquet file, appends its manifest entry, and
// always closes the underlying file handle even on write error.
func writeParquet(dir, filename string, schema interface{}, rowCount int, write func(*writer.ParquetWriter) error, man *Manifest) error {
	path := filepath.Join(dir, filename)
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return rherr.New(rherr.Storage, "snapshot.writeParquet", err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, schema, 1)
	if err != nil {
		return rherr.New(rherr.Storage, "snapshot.writeParquet", err)
	}

	if rowCount > 0 {
		if err := write(pw); err != nil {
			return rherr.New(rherr.Storage, "snapshot.writeParquet", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return rherr.New(rherr.Storage, "snapshot.writeParquet", err)
	}

	hash, size, err := hashFile(path)
	if err != nil {
		return rherr.New(rherr.Storage, "snapshot.writeParquet", err)
	}
	rel, err := filepath.Rel(filepath.Dir(filepath.Dir(dir)), path)
	if err != nil {
		rel = path
	}
	man.Files = append(man.Files, ManifestEntry{Path: rel, ByteSize: size, ContentHash: hash})

	return nil
}

func hashFile(path string) (string, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), int64(len(data)), nil
}
