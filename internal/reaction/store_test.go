package reaction

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func TestRecord_UpsertsCount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO reaction_buckets \(episode_id, timestamp_seconds, emoji, count\)\s+VALUES \(\$1, \$2, \$3, 1\)\s+ON CONFLICT \(episode_id, timestamp_seconds, emoji\)\s+DO UPDATE SET count = reaction_buckets.count \+ 1`).
		WithArgs("ep-1", 10, "❤️").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := NewStore(mock).Record(context.Background(), "ep-1", 10, "❤️"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestRecord_WrapsError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	dbErr := errors.New("deadlock detected")
	mock.ExpectExec(`INSERT INTO reaction_buckets`).
		WithArgs("ep-1", 10, "❤️").
		WillReturnError(dbErr)

	if err := NewStore(mock).Record(context.Background(), "ep-1", 10, "❤️"); !errors.Is(err, dbErr) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestLoadBuckets_PreservesEntryOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT timestamp_seconds, emoji, count\s+FROM reaction_buckets\s+WHERE episode_id = \$1 AND count > 0\s+ORDER BY timestamp_seconds, first_recorded_at, emoji`).
		WithArgs("ep-1").
		WillReturnRows(pgxmock.NewRows([]string{"timestamp_seconds", "emoji", "count"}).
			AddRow(10, "❤️", 3).
			AddRow(10, "😂", 15).
			AddRow(61, "🔥", 1))

	buckets, total, err := NewStore(mock).LoadBuckets(context.Background(), "ep-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 19 {
		t.Errorf("expected 19 occurrences, got %d", total)
	}
	got := buckets[10]
	if len(got) != 2 || got[0].Emoji != "❤️" || got[0].Count != 3 || got[1].Emoji != "😂" || got[1].Count != 15 {
		t.Errorf("unexpected bucket 10: %+v", got)
	}
	if len(buckets[61]) != 1 {
		t.Errorf("expected one entry at 61, got %+v", buckets[61])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestLoadBuckets_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT timestamp_seconds, emoji, count`).
		WithArgs("ep-1").
		WillReturnError(errors.New("timeout"))

	if _, _, err := NewStore(mock).LoadBuckets(context.Background(), "ep-1"); err == nil {
		t.Error("expected error")
	}
}
