package oracle

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	_ "github.com/sijms/go-ora/v2"
	"github.com/tuncerburak97/gozcu/internal/model"
	"github.com/tuncerburak97/gozcu/internal/repository/migrations"
)

// Oracle has no ON CONFLICT; MERGE skips ids that are already stored.
const mergeRecord = `MERGE INTO exchange_records t
USING (SELECT :1 AS id FROM dual) s ON (t.id = s.id)
WHEN NOT MATCHED THEN INSERT (
	id, project_id, timestamp, method, url, status_code, load_time_us, payload
) VALUES (:2, :3, :4, :5, :6, :7, :8, :9)`

type OracleRepository struct {
	DB *sql.DB
}

func NewOracleRepository(ctx context.Context, connStr string) (*OracleRepository, error) {
	db, err := sql.Open("oracle", connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to Oracle: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to reach Oracle: %w", err)
	}
	return &OracleRepository{DB: db}, nil
}

func (r *OracleRepository) SaveRecords(ctx context.Context, records []*model.ArchivedRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, mergeRecord)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err = stmt.ExecContext(ctx,
			rec.ID,
			rec.ID, rec.ProjectID, rec.Timestamp, rec.Method, rec.URL,
			rec.StatusCode, rec.LoadTimeUs, string(rec.Payload),
		)
		if err != nil {
			return fmt.Errorf("save record %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

func (r *OracleRepository) Close() error {
	return r.DB.Close()
}

func (r *OracleRepository) Migrate(ctx context.Context) error {
	log := zerolog.Ctx(ctx)
	log.Info().Msg("Starting Oracle migrations")

	if _, err := r.DB.ExecContext(ctx, migrations.OracleSchema); err != nil {
		log.Error().Err(err).Msg("Oracle migrations failed")
		return fmt.Errorf("migration error: %w", err)
	}

	log.Info().Msg("Oracle migrations completed successfully")
	return nil
}
