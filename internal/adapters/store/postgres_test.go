package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ladiesman540/crane-platform/internal/ports"
)

func TestPostgresStoreAccept(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := NewPostgresStore(db, "readings")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta("INSERT INTO readings (sensor_id, device_addr, counter, accepted_at, payload) VALUES ($1,$2,$3,$4,$5) ON CONFLICT (device_addr, counter) DO NOTHING RETURNING id")

	mock.ExpectQuery(query).
		WithArgs("crane-1-hoist", "D1", int64(101), at, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(55)))
	mock.ExpectQuery(query).
		WithArgs("crane-1-hoist", "D1", int64(101), at, sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	a, err := s.Accept(context.Background(), "crane-1-hoist", reading("D1", 101, 1.95), at)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if a.ID != "55" || a.SensorID != "crane-1-hoist" {
		t.Fatalf("unexpected accepted reading %+v", a)
	}
	if _, err := s.Accept(context.Background(), "crane-1-hoist", reading("D1", 101, 1.95), at); !errors.Is(err, ports.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := NewPostgresStore(db, "")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, sensor_id, accepted_at, payload FROM sensor_readings WHERE sensor_id = $1 ORDER BY accepted_at DESC, id DESC LIMIT $2")).
		WithArgs("D1", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sensor_id", "accepted_at", "payload"}).
			AddRow(int64(9), "D1", at.Add(time.Second), []byte(`{"addr":"D1","counter":102,"x_velocity_mm_sec":0.5}`)).
			AddRow(int64(8), "D1", at, []byte(`{"addr":"D1","counter":101}`)))

	list, err := s.Recent(context.Background(), "D1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(list) != 2 || list[0].ID != "9" || list[0].Reading.SequenceCounter != 102 || *list[0].Reading.X.VelocityMMs != 0.5 {
		t.Fatalf("unexpected readings %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS readings")).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := NewPostgresStore(db, "readings").Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
