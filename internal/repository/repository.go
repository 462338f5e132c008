// Package repository persists archived records to the configured backend.
package repository

import (
	"context"

	"github.com/tuncerburak97/gozcu/internal/model"
)

// RecordRepository stores batches of archived records. Saving a record whose
// id already exists is not an error.
type RecordRepository interface {
	SaveRecords(ctx context.Context, records []*model.ArchivedRecord) error
	Migrate(ctx context.Context) error
	Close() error
}
