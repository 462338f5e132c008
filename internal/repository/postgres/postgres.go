package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"github.com/tuncerburak97/gozcu/internal/model"
	"github.com/tuncerburak97/gozcu/internal/repository/migrations"
)

const insertRecord = `INSERT INTO exchange_record (
	id, project_id, timestamp, method, url, status_code, load_time_us, payload
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, connStr string) (*PostgresRepository, error) {
	pool, err := pgxpool.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresRepository{Pool: pool}, nil
}

func (r *PostgresRepository) SaveRecords(ctx context.Context, records []*model.ArchivedRecord) error {
	if len(records) == 0 {
		return nil
	}
	logger := zerolog.Ctx(ctx)

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(insertRecord,
			rec.ID, rec.ProjectID, rec.Timestamp, rec.Method, rec.URL,
			rec.StatusCode, rec.LoadTimeUs, string(rec.Payload),
		)
	}

	br := r.Pool.SendBatch(ctx, batch)
	if err := br.Close(); err != nil {
		logger.Error().Err(err).Int("count", len(records)).Msg("Failed to save records")
		return err
	}

	logger.Debug().Int("count", len(records)).Msg("Saved records to PostgreSQL")
	return nil
}

func (r *PostgresRepository) Close() error {
	r.Pool.Close()
	return nil
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	log := zerolog.Ctx(ctx)
	log.Info().Msg("Starting PostgreSQL migrations")

	if _, err := r.Pool.Exec(ctx, migrations.PostgresSchema); err != nil {
		log.Error().Err(err).Msg("PostgreSQL migrations failed")
		return fmt.Errorf("migration error: %w", err)
	}

	log.Info().Msg("PostgreSQL migrations completed successfully")
	return nil
}
