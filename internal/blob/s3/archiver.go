package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cadencefi/dcad/internal/domain"
)

// EventJournal is the narrow read surface the archiver needs from the event
// store: everything older than a cutoff, oldest first.
type EventJournal interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error)
}

// Archiver pages historic telemetry events out of the primary journal into
// object storage as JSONL, one file per archival run keyed by the cutoff day.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here; that is a separate, explicit step to be executed after
// the archive has been verified.
type Archiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader // optional; enables the idempotence check
	journal EventJournal
}

// NewArchiver creates an Archiver. reader may be nil, in which case re-runs
// overwrite the previous object for the same cutoff day.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, journal EventJournal) *Archiver {
	return &Archiver{
		writer:  writer,
		reader:  reader,
		journal: journal,
	}
}

// ArchiveEvents serializes every event older than the cutoff to JSONL and
// uploads it at archive/events/YYYY-MM-DD.jsonl. It returns the number of
// archived records; zero with a nil error means there was nothing to do.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	path := archivePath(before)

	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive events check %s: %w", path, err)
		}
		if exists {
			return 0, nil
		}
	}

	events, err := a.journal.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}
	return int64(len(events)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the UTC
// day of the cutoff time.
//
//	archive/events/2026-08-24.jsonl
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/events/%s.jsonl", before.UTC().Format("2006-01-02"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
