package driver

const (
	SaveRecordQuery = `
		MERGE (r:Record {company_id: $company_id, id: $id})
		SET r.entity = $entity,
			r.fields = $fields,
			r.updated_at = $updated_at
		WITH r
		SET r.created_at = coalesce(r.created_at, $updated_at)
		RETURN r.id AS id
	`

	ListRecordsQuery = `
		MATCH (r:Record {company_id: $company_id, entity: $entity})
		RETURN r.id AS id, r.fields AS fields
		ORDER BY r.created_at, r.id
	`

	GetRecordQuery = `
		MATCH (r:Record {company_id: $company_id, id: $id})
		RETURN r.id AS id, r.fields AS fields
	`

	LogMergeQuery = `
		MATCH (r:Record {company_id: $company_id, id: $id})
		CREATE (m:Merge {uuid: $uuid, strategy: $strategy, incoming: $incoming, similarity: $similarity, created_at: $created_at})
		CREATE (r)-[:MERGED_FROM]->(m)
		RETURN m.uuid AS uuid
	`

	GetMergeHistoryQuery = `
		MATCH (r:Record {company_id: $company_id, id: $id})-[:MERGED_FROM]->(m:Merge)
		RETURN m.uuid AS uuid, m.strategy AS strategy, m.incoming AS incoming, m.similarity AS similarity, m.created_at AS created_at
		ORDER BY m.created_at DESC
	`
)
