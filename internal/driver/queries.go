package driver

// SchemaQueries are applied by EnsureSchema.
var SchemaQueries = []string{
	"CREATE CONSTRAINT ON (a:Article) ASSERT a.article_id IS UNIQUE;",
	"CREATE INDEX ON :Article(article_id);",
	"CREATE INDEX ON :Identity(id);",
}

const (
	// InsertEdgeIfAbsentQuery creates the SIMILAR relationship from the
	// smaller article id to the larger one unless it exists. The caller's
	// nonce is only written on create, so `inserted` is true for exactly one
	// writer.
	InsertEdgeIfAbsentQuery = `
		MERGE (s:Article {article_id: $source_id})
		MERGE (t:Article {article_id: $target_id})
		MERGE (s)-[e:SIMILAR]->(t)
		ON CREATE SET e.score = $score,
			e.model_version = $model_version,
			e.created_by = $created_by,
			e.created_at = $created_at,
			e.nonce = $nonce
		RETURN e.nonce = $nonce AS inserted
	`

	EdgesTouchingQuery = `
		MATCH (s:Article)-[e:SIMILAR]->(t:Article)
		WHERE s.article_id IN $ids OR t.article_id IN $ids
		RETURN s.article_id AS source_id,
			t.article_id AS target_id,
			e.score AS score,
			e.model_version AS model_version,
			e.created_by AS created_by,
			e.created_at AS created_at
	`

	IncrementEdgesDiscoveredQuery = `
		MATCH (u:Identity {id: $id})
		SET u.edges_discovered = coalesce(u.edges_discovered, 0) + $n
		RETURN u.edges_discovered AS edges_discovered
	`

	IncrementSearchesQuery = `
		MATCH (u:Identity {id: $id})
		SET u.total_searches = coalesce(u.total_searches, 0) + 1
		RETURN u.total_searches AS total_searches
	`
)
