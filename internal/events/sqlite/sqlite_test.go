package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/gameward/gameward/internal/events"
)

func TestSendPersistsEvent(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sink.Close() }()

	e := events.Event{
		Type:       events.TypeCrash,
		OccurredAt: time.Now(),
		PID:        4242,
		ExitCode:   137,
		Detail:     "restart 2/5",
	}
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	row := sink.db.QueryRow(`SELECT event, pid, exit_code, detail FROM server_events`)
	var event, detail string
	var pid, code int
	if err := row.Scan(&event, &pid, &code, &detail); err != nil {
		t.Fatal(err)
	}
	if event != "crash" || pid != 4242 || code != 137 || detail != "restart 2/5" {
		t.Errorf("stored row = %s/%d/%d/%q", event, pid, code, detail)
	}
}

func TestSendMultipleAppends(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sink.Close() }()

	for _, typ := range []events.Type{events.TypeSpawn, events.TypeExit, events.TypeRestart} {
		if err := sink.Send(context.Background(), events.Event{Type: typ, OccurredAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	var n int
	if err := sink.db.QueryRow(`SELECT COUNT(*) FROM server_events`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("row count = %d", n)
	}
}

func TestNewRejectsEmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("empty DSN accepted")
	}
}
