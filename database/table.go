package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-scrape-films/models"
	"gorm.io/gorm"
)

const insertBatchSize = 500

// filmRow is the relational layout of one table row. Missing values are NULL.
type filmRow struct {
	ID        int64          `gorm:"column:id;primaryKey;autoIncrement:false"`
	Rating    sql.NullInt64  `gorm:"column:rating"`
	Title     sql.NullString `gorm:"column:title;type:text"`
	Year      sql.NullInt64  `gorm:"column:year"`
	Director  sql.NullString `gorm:"column:director;type:text"`
	Actors    sql.NullString `gorm:"column:actors;type:text"`
	Countries sql.NullString `gorm:"column:countries;type:text"`
}

func toFilmRow(row models.Row) filmRow {
	return filmRow{
		ID:        row.ID,
		Rating:    sql.NullInt64{Int64: int64(row.Rating), Valid: row.Rating != models.NoRating},
		Title:     sql.NullString{String: row.Title, Valid: row.Title != ""},
		Year:      sql.NullInt64{Int64: int64(row.Year), Valid: row.Year != models.UnknownYear},
		Director:  sql.NullString{String: row.Director, Valid: row.Director != ""},
		Actors:    sql.NullString{String: row.Actors, Valid: row.Actors != ""},
		Countries: sql.NullString{String: row.Countries, Valid: row.Countries != ""},
	}
}

// TableWriter copies reconciled tables into the database, one table per
// playlist.
type TableWriter struct {
	db *gorm.DB
}

// NewTableWriter returns a writer on db.
func NewTableWriter(db *gorm.DB) *TableWriter {
	return &TableWriter{db: db}
}

// Write creates the table if needed and replaces its content with rows.
func (w *TableWriter) Write(ctx context.Context, name string, rows models.Table) error {
	if err := EnsureTable(ctx, w.db, name); err != nil {
		return err
	}
	if err := Replace(ctx, w.db, name, rows); err != nil {
		return err
	}
	slog.Info("database table replaced", slog.String("table", name), slog.Int("rows", len(rows)))
	return nil
}

// EnsureTable creates or migrates the playlist table.
func EnsureTable(ctx context.Context, db *gorm.DB, name string) error {
	if err := db.WithContext(ctx).Table(name).AutoMigrate(&filmRow{}); err != nil {
		return fmt.Errorf("migrate table %s: %w", name, err)
	}
	return nil
}

// Replace deletes every row of the table and inserts rows, in one
// transaction.
func Replace(ctx context.Context, db *gorm.DB, name string, rows models.Table) error {
	records := make([]filmRow, 0, len(rows))
	for _, row := range rows {
		records = append(records, toFilmRow(row))
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(name).Where("1 = 1").Delete(&filmRow{}).Error; err != nil {
			return fmt.Errorf("clear table: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		session := tx.Session(&gorm.Session{SkipDefaultTransaction: true})
		if err := session.Table(name).CreateInBatches(records, insertBatchSize).Error; err != nil {
			return fmt.Errorf("insert rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace table %s: %w", name, err)
	}
	return nil
}
