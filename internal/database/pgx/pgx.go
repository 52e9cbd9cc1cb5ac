package pgx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"pcanalytics.shikanime.studio/internal/config"
)

// MaxConns caps the pool; the slot store issues a handful of small queries per request.
const MaxConns = 4

// NewClientForConfig creates a pgxpool.Pool using DSN information from cfg.
func NewClientForConfig(cfg *config.Config) (*pgxpool.Pool, error) {
	dsnURL, err := cfg.GetDsn()
	if err != nil {
		return nil, err
	}
	if dsnURL.Scheme != "postgres" && dsnURL.Scheme != "postgresql" {
		return nil, fmt.Errorf("unsupported DSN scheme %q", dsnURL.Scheme)
	}
	pcfg, err := pgxpool.ParseConfig(dsnURL.String())
	if err != nil {
		return nil, fmt.Errorf("invalid DSN: %w", err)
	}
	pcfg.MaxConns = MaxConns
	return pgxpool.NewWithConfig(context.Background(), pcfg)
}
