package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"pcanalytics.shikanime.studio/internal/config"
	dbpgx "pcanalytics.shikanime.studio/internal/database/pgx"
)

var tracer = otel.Tracer("pcanalytics/database")

// Database stores session slots in Postgres.
type Database struct {
	pg *pgxpool.Pool
}

// NewForConfig constructs a Database using the provided config.
func NewForConfig(cfg *config.Config) (*Database, error) {
	pg, err := dbpgx.NewClientForConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(pg), nil
}

// NewClient constructs a Database using the provided pgx pool.
func NewClient(pg *pgxpool.Pool) *Database { return &Database{pg: pg} }

// Pool returns the underlying pgx pool.
func (db *Database) Pool() *pgxpool.Pool { return db.pg }

// Ping verifies the provided database connection is available
func (db *Database) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Database.Ping")
	defer span.End()
	if db.pg == nil {
		return fmt.Errorf("database connection not available")
	}
	return db.pg.Ping(ctx)
}

func (db *Database) Close() error {
	if db.pg == nil {
		return nil
	}
	db.pg.Close()
	return nil
}

// GetSlot returns the value stored under name; ok is false when the slot was never written.
func (db *Database) GetSlot(ctx context.Context, name string) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "Database.GetSlot")
	span.SetAttributes(attribute.String("slot", name))
	defer span.End()
	if db.pg == nil {
		return "", false, fmt.Errorf("database connection not available")
	}
	var value string
	err := db.pg.QueryRow(ctx, GetSlotQuery, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, fmt.Errorf("get slot %s failed: %w", name, err)
	}
	return value, true, nil
}

// PutSlot writes value under name, replacing any previous value.
func (db *Database) PutSlot(ctx context.Context, name, value string) error {
	ctx, span := tracer.Start(ctx, "Database.PutSlot")
	span.SetAttributes(attribute.String("slot", name))
	defer span.End()
	if db.pg == nil {
		return fmt.Errorf("database connection not available")
	}
	if _, err := db.pg.Exec(ctx, PutSlotQuery, name, value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("put slot %s failed: %w", name, err)
	}
	slog.DebugContext(ctx, "slot written", "slot", name)
	return nil
}

// DeleteSlot removes name. Deleting a missing slot is not an error.
func (db *Database) DeleteSlot(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "Database.DeleteSlot")
	span.SetAttributes(attribute.String("slot", name))
	defer span.End()
	if db.pg == nil {
		return fmt.Errorf("database connection not available")
	}
	tag, err := db.pg.Exec(ctx, DeleteSlotQuery, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete slot %s failed: %w", name, err)
	}
	slog.DebugContext(ctx, "slot deleted", "slot", name, "rows", tag.RowsAffected())
	return nil
}
