package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cadencefi/dcad/internal/domain"
)

var cutoff = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// memBlobStore keeps uploaded objects in memory and backs both the writer
// and reader sides of the archiver.
type memBlobStore struct {
	objects      map[string][]byte
	contentTypes map[string]string
	putErr       error
	existsErr    error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (m *memBlobStore) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = buf
	m.contentTypes[path] = contentType
	return nil
}

func (m *memBlobStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobStore) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, data := range m.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(data))})
		}
	}
	return infos, nil
}

func (m *memBlobStore) Exists(_ context.Context, path string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.objects[path]
	return ok, nil
}

// stubJournal serves a fixed event history.
type stubJournal struct {
	events []domain.Event
	err    error
	calls  int
}

func (s *stubJournal) ListBefore(_ context.Context, before time.Time) ([]domain.Event, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Event
	for _, ev := range s.events {
		if ev.At.Before(before) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func journalWith(n int) *stubJournal {
	j := &stubJournal{}
	for i := 0; i < n; i++ {
		j.events = append(j.events, domain.Event{
			Name:       "PositionExecuted",
			PositionID: uint64(i + 1),
			At:         cutoff.Add(-time.Duration(i+1) * time.Hour),
			Detail:     map[string]any{"venue": "amm"},
		})
	}
	return j
}

func TestArchiveEventsWritesJSONL(t *testing.T) {
	store := newMemBlobStore()
	journal := journalWith(3)
	a := NewArchiver(store, store, journal)

	n, err := a.ArchiveEvents(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveEvents: %v", err)
	}
	if n != 3 {
		t.Errorf("archived = %d, want 3", n)
	}

	const path = "archive/events/2026-03-01.jsonl"
	data, ok := store.objects[path]
	if !ok {
		t.Fatalf("object %s missing; stored %v", path, store.contentTypes)
	}
	if store.contentTypes[path] != "application/x-ndjson" {
		t.Errorf("content type = %q", store.contentTypes[path])
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	var ev domain.Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("line 0 not valid JSON: %v", err)
	}
	if ev.Name != "PositionExecuted" || ev.PositionID != 1 {
		t.Errorf("line 0 = %+v", ev)
	}
}

func TestArchiveEventsIdempotent(t *testing.T) {
	store := newMemBlobStore()
	journal := journalWith(2)
	a := NewArchiver(store, store, journal)

	ctx := context.Background()
	if _, err := a.ArchiveEvents(ctx, cutoff); err != nil {
		t.Fatalf("first run: %v", err)
	}

	n, err := a.ArchiveEvents(ctx, cutoff)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n != 0 {
		t.Errorf("second run archived = %d, want 0", n)
	}
	if journal.calls != 1 {
		t.Errorf("journal queried %d times, want 1 (existing object short-circuits)", journal.calls)
	}
}

func TestArchiveEventsWithoutReaderOverwrites(t *testing.T) {
	store := newMemBlobStore()
	journal := journalWith(1)
	a := NewArchiver(store, nil, journal)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		n, err := a.ArchiveEvents(ctx, cutoff)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if n != 1 {
			t.Errorf("run %d archived = %d, want 1", i, n)
		}
	}
}

func TestArchiveEventsEmptyJournal(t *testing.T) {
	store := newMemBlobStore()
	a := NewArchiver(store, store, &stubJournal{})

	n, err := a.ArchiveEvents(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveEvents: %v", err)
	}
	if n != 0 {
		t.Errorf("archived = %d, want 0", n)
	}
	if len(store.objects) != 0 {
		t.Errorf("empty archive uploaded: %v", store.objects)
	}
}

func TestArchiveEventsPropagatesFailures(t *testing.T) {
	ctx := context.Background()

	store := newMemBlobStore()
	store.existsErr = errors.New("s3: timeout")
	a := NewArchiver(store, store, journalWith(1))
	if _, err := a.ArchiveEvents(ctx, cutoff); err == nil {
		t.Error("exists failure swallowed")
	}

	store = newMemBlobStore()
	a = NewArchiver(store, store, &stubJournal{err: errors.New("pg: down")})
	if _, err := a.ArchiveEvents(ctx, cutoff); err == nil {
		t.Error("journal failure swallowed")
	}

	store = newMemBlobStore()
	store.putErr = errors.New("s3: denied")
	a = NewArchiver(store, store, journalWith(1))
	if _, err := a.ArchiveEvents(ctx, cutoff); err == nil {
		t.Error("upload failure swallowed")
	}
}

func TestArchivePathUsesUTCDay(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	at := time.Date(2026, 2, 28, 23, 30, 0, 0, est)
	if got := archivePath(at); got != "archive/events/2026-03-01.jsonl" {
		t.Errorf("archivePath = %q, want the UTC day", got)
	}
}
