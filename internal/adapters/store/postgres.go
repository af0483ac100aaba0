package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// PostgresStore keeps accepted readings in one table whose unique
// (device_addr, counter) constraint is the idempotency gate.
type PostgresStore struct {
	db        *sql.DB
	tableName string
}

// OpenPostgres connects with lib/pq and makes sure the table exists.
func OpenPostgres(ctx context.Context, dsn, table string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgresStore(db, table)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(db *sql.DB, table string) *PostgresStore {
	if table == "" {
		table = "sensor_readings"
	}
	return &PostgresStore{db: db, tableName: table}
}

func (p *PostgresStore) Migrate(ctx context.Context) error {
	q := "CREATE TABLE IF NOT EXISTS " + p.tableName + ` (
	id BIGSERIAL PRIMARY KEY,
	sensor_id TEXT NOT NULL,
	device_addr TEXT NOT NULL,
	counter BIGINT NOT NULL,
	accepted_at TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL,
	UNIQUE (device_addr, counter)
)`
	if _, err := p.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("migrate %s: %w", p.tableName, err)
	}
	return nil
}

func (p *PostgresStore) Accept(ctx context.Context, sensorID string, r domain.Reading, at time.Time) (domain.AcceptedReading, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return domain.AcceptedReading{}, fmt.Errorf("marshal reading: %w", err)
	}
	at = at.UTC()
	q := "INSERT INTO " + p.tableName +
		" (sensor_id, device_addr, counter, accepted_at, payload) VALUES ($1,$2,$3,$4,$5)" +
		" ON CONFLICT (device_addr, counter) DO NOTHING RETURNING id"

	var id int64
	err = p.db.QueryRowContext(ctx, q, sensorID, r.DeviceAddress, r.SequenceCounter, at, payload).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AcceptedReading{}, ports.ErrDuplicate
	}
	if err != nil {
		return domain.AcceptedReading{}, fmt.Errorf("insert reading: %w", err)
	}
	return domain.AcceptedReading{
		ID:         domain.ReadingID(strconv.FormatInt(id, 10)),
		SensorID:   sensorID,
		AcceptedAt: at,
		Reading:    r,
	}, nil
}

func (p *PostgresStore) Recent(ctx context.Context, sensorID string, limit int) ([]domain.AcceptedReading, error) {
	q := "SELECT id, sensor_id, accepted_at, payload FROM " + p.tableName +
		" WHERE sensor_id = $1 ORDER BY accepted_at DESC, id DESC LIMIT $2"
	rows, err := p.db.QueryContext(ctx, q, sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var out []domain.AcceptedReading
	for rows.Next() {
		var (
			id      int64
			a       domain.AcceptedReading
			payload []byte
		)
		if err := rows.Scan(&id, &a.SensorID, &a.AcceptedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		if err := json.Unmarshal(payload, &a.Reading); err != nil {
			return nil, fmt.Errorf("decode reading %d: %w", id, err)
		}
		a.ID = domain.ReadingID(strconv.FormatInt(id, 10))
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }

var _ ports.ReadingStore = (*PostgresStore)(nil)
