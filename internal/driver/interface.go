// Package driver talks Cypher to Memgraph over the Bolt protocol.
package driver

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphDriver runs parameterized Cypher and returns fully buffered results.
type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	// EnsureSchema creates constraints and indices. Repeated calls are harmless.
	EnsureSchema(ctx context.Context) error
	Close(ctx context.Context) error
}
