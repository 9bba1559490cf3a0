package serverindex

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/exogenesis-omega/constellation/internal/config"
)

// New selects and constructs an Index backend from cfg.Database, grounded
// on the teacher's persistence factory.go dispatch-by-backend-name
// pattern. "memory" never fails; "postgres" and "qdrant" dial their
// respective services and migrate/ensure schema before returning.
func New(ctx context.Context, cfg config.DatabaseConfig, dimension int) (Index, error) {
	switch cfg.VectorBackend {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("serverindex: connect postgres: %w", err)
		}
		return NewPostgres(ctx, pool, dimension)
	case "qdrant":
		return NewQdrant(ctx, cfg.QdrantDSN, "constellation_patterns", dimension)
	default:
		return nil, fmt.Errorf("serverindex: unknown VECTOR_BACKEND %q", cfg.VectorBackend)
	}
}
