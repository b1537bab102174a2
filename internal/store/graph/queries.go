package graph

// Node labels and relationship types cannot be parameterized in Cypher, so
// these templates take validated label/type names via fmt and everything else
// via query parameters. All writes are MERGE-based: repeating any of them is
// a no-op, which is what makes batch replay safe.

const (
	saveNodeQueryTmpl = `
		MERGE (n:%s {natural_key: $natural_key})
		SET n += $props
		RETURN n.natural_key AS natural_key
	`

	// Returns zero records when either endpoint is missing; the projector
	// treats that as a deferred dependency, never a dropped edge.
	saveEdgeQueryTmpl = `
		MATCH (s:%s {natural_key: $source_key})
		MATCH (t:%s {natural_key: $target_key})
		MERGE (s)-[e:%s]->(t)
		SET e.field = $field
		RETURN e.field AS field
	`

	nodeExistsQueryTmpl = `
		MATCH (n:%s {natural_key: $natural_key})
		RETURN n.natural_key AS natural_key
	`

	deleteNodeQueryTmpl = `
		MATCH (n:%s {natural_key: $natural_key})
		DETACH DELETE n
	`

	listKeysQueryTmpl = `
		MATCH (n:%s)
		RETURN n.natural_key AS natural_key
		ORDER BY natural_key
	`

	countEdgesQueryTmpl = `
		MATCH (:%s {natural_key: $natural_key})-[e]-()
		RETURN count(e) AS edges
	`

	// Both repoint queries skip edges whose far endpoint is the survivor
	// itself; moving those would mint a self-loop. The skipped edge dies
	// with the loser's DETACH DELETE.
	repointOutgoingQueryTmpl = `
		MATCH (loser:%s {natural_key: $loser})-[e:%s]->(t)
		MATCH (survivor:%s {natural_key: $survivor})
		WHERE t <> survivor
		MERGE (survivor)-[e2:%s]->(t)
		SET e2 += properties(e)
		DELETE e
	`

	repointIncomingQueryTmpl = `
		MATCH (s)-[e:%s]->(loser:%s {natural_key: $loser})
		MATCH (survivor:%s {natural_key: $survivor})
		WHERE s <> survivor
		MERGE (s)-[e2:%s]->(survivor)
		SET e2 += properties(e)
		DELETE e
	`
)
