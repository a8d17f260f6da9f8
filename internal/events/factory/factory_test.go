package factory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gameward/gameward/internal/events"
)

func TestEmptyDSNRejected(t *testing.T) {
	if _, err := NewSinkFromDSN(""); err == nil {
		t.Fatal("empty DSN accepted")
	}
}

func TestUnsupportedSchemeRejected(t *testing.T) {
	if _, err := NewSinkFromDSN("redis://localhost:6379"); err == nil {
		t.Fatal("unsupported scheme accepted")
	}
}

func TestSQLiteMemoryDSN(t *testing.T) {
	sink, err := NewSinkFromDSN("sqlite://:memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sink.Close() }()
	e := events.Event{Type: events.TypeSpawn, OccurredAt: time.Now(), PID: 1}
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatal(err)
	}
}

func TestBarePathDefaultsToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	sink, err := NewSinkFromDSN(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.Send(context.Background(), events.Event{Type: events.TypeExit, OccurredAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
}
