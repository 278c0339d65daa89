// Package artifact implements the content-addressed, crash-safe byte
// store that every fetched or fixture-replayed document is written to
// before anything downstream parses it.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/someflydev/rhof/internal/model"
	"github.com/someflydev/rhof/internal/rherr"
)

// Metadata describes a placed artifact.
type Metadata struct {
	ID          string
	SourceID    string
	SourceURL   string
	StoragePath string
	ContentType string
	ContentHash string
	ByteSize    int64
	FetchedAt   time.Time
}

// Store is a content-hash-addressed directory tree rooted at Root.
// Layout: <root>/<yyyy>/<mm>/<dd>/<source_id>/<first2-of-hash>/<hash><ext>.
type Store struct {
	Root string
}

// New returns a Store rooted at root, creating it if necessary.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, rherr.New(rherr.Storage, "artifact.New", err)
	}
	return &Store{Root: root}, nil
}

// Put writes content under its content hash and returns placement
// metadata. If a file already exists at the destination path with a
// matching digest, it is left untouched and its metadata is returned.
// A size mismatch against an identical hash is treated as fatal
// corruption: collisions on different bytes with identical hash are
// treated as impossible.
func (s *Store) Put(sourceID, sourceURL, contentType string, content []byte, fetchedAt time.Time, ext string) (Metadata, error) {
	hash := model.ContentHash(content)
	dir := filepath.Join(
		s.Root,
		fmt.Sprintf("%04d", fetchedAt.Year()),
		fmt.Sprintf("%02d", fetchedAt.Month()),
		fmt.Sprintf("%02d", fetchedAt.Day()),
		sourceID,
		hash[:2],
	)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Metadata{}, rherr.New(rherr.Storage, "artifact.Put", err)
	}

	finalPath := filepath.Join(dir, hash+ext)

	if info, err := os.Stat(finalPath); err == nil {
		if info.Size() != int64(len(content)) {
			return Metadata{}, rherr.New(rherr.Storage, "artifact.Put",
				fmt.Errorf("size mismatch for existing hash %s: disk=%d new=%d", hash, info.Size(), len(content)))
		}
		return s.metadataFor(finalPath, sourceID, sourceURL, contentType, hash, fetchedAt)
	}

	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return Metadata{}, rherr.New(rherr.Storage, "artifact.Put", err)
	}
	tmpPath := tmp.Name()
	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return Metadata{}, rherr.New(rherr.Storage, "artifact.Put", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Metadata{}, rherr.New(rherr.Storage, "artifact.Put", err)
	}
	if err := tmp.Close(); err != nil {
		return Metadata{}, rherr.New(rherr.Storage, "artifact.Put", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Metadata{}, rherr.New(rherr.Storage, "artifact.Put", err)
	}
	cleanupTmp = false

	return s.metadataFor(finalPath, sourceID, sourceURL, contentType, hash, fetchedAt)
}

func (s *Store) metadataFor(path, sourceID, sourceURL, contentType, hash string, fetchedAt time.Time) (Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Metadata{}, rherr.New(rherr.Storage, "artifact.metadataFor", err)
	}
	return Metadata{
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte(hash)).String(),
		SourceID:    sourceID,
		SourceURL:   sourceURL,
		StoragePath: path,
		ContentType: contentType,
		ContentHash: hash,
		ByteSize:    info.Size(),
		FetchedAt:   fetchedAt,
	}, nil
}

// PutDeterministic places content under an ID derived from sourceID and
// a caller-supplied fixture path rather than the content-hash-derived
// ID that Put assigns, so repeated
// fixture-driven runs are byte-identical. The ID does not incorporate
// extractor_version.
func (s *Store) PutDeterministic(sourceID, fixturePath, sourceURL, contentType string, content []byte, fetchedAt time.Time, ext string) (Metadata, error) {
	meta, err := s.Put(sourceID, sourceURL, contentType, content, fetchedAt, ext)
	if err != nil {
		return Metadata{}, err
	}
	meta.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceID+"|"+fixturePath)).String()
	return meta, nil
}

// Read returns the bytes stored at path (storage_path from Metadata).
func (s *Store) Read(storagePath string) ([]byte, error) {
	f, err := os.Open(storagePath)
	if err != nil {
		return nil, rherr.New(rherr.Storage, "artifact.Read", err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, rherr.New(rherr.Storage, "artifact.Read", err)
	}
	return b, nil
}

// Stat verifies that the file at storagePath hashes to wantHash,
// returning its size. Used by the artifact-immutability property test.
func (s *Store) Stat(storagePath, wantHash string) (int64, error) {
	b, err := s.Read(storagePath)
	if err != nil {
		return 0, err
	}
	got := model.ContentHash(b)
	if got != wantHash {
		return 0, rherr.New(rherr.Storage, "artifact.Stat", fmt.Errorf("hash mismatch: want %s got %s", wantHash, got))
	}
	return int64(len(b)), nil
}
