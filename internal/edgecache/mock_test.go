package edgecache

import (
	"context"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type MockDriver struct {
	mu            sync.Mutex
	QueryExecuted string
	QueryParams   map[string]interface{}
	Queries       []string
	Respond       func(query string, params map[string]interface{}) (neo4j.EagerResult, error)
	IndicesBuilt  bool
	Closed        bool
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.mu.Lock()
	m.QueryExecuted = query
	m.QueryParams = params
	m.Queries = append(m.Queries, query)
	respond := m.Respond
	m.mu.Unlock()
	if respond == nil {
		return neo4j.EagerResult{}, nil
	}
	return respond(query, params)
}

func (m *MockDriver) EnsureSchema(ctx context.Context) error {
	m.IndicesBuilt = true
	return nil
}

func (m *MockDriver) Close(ctx context.Context) error {
	m.Closed = true
	return nil
}

func record(keys []string, values ...any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}
