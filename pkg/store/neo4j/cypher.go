package neo4j

const findExactOrAliasCypher = `
MATCH (e:Entity {group_id: $tenant})
WHERE toLower(e.name) IN $names
   OR any(a IN coalesce(e.aliases, []) WHERE toLower(a) IN $names)
RETURN e.id AS id
ORDER BY id`

const vectorSearchCypher = `
CALL db.index.vector.queryNodes($index, $k, $embedding) YIELD node, score
WHERE node.group_id = $tenant
RETURN node.id AS id, score
ORDER BY score DESC, id
LIMIT $limit`

const getNeighborsCypher = `
MATCH (e:Entity {group_id: $tenant, id: $id})-[r:RELATED]-(n:Entity {group_id: $tenant})
WHERE n.id <> e.id
RETURN n.id AS id, max(coalesce(r.weight, 1.0)) AS weight
ORDER BY id`

const getEntitiesCypher = `
MATCH (e:Entity {group_id: $tenant})
WHERE e.id IN $ids
RETURN e.id AS id, e.name AS name, coalesce(e.aliases, []) AS aliases, e.embedding AS embedding,
       e.community_id AS community_id, coalesce(e.degree, COUNT { (e)-[:RELATED]-() }) AS degree`

const getCommunityPeersCypher = `
MATCH (e:Entity {group_id: $tenant, id: $id})
WHERE e.community_id IS NOT NULL
MATCH (p:Entity {group_id: $tenant, community_id: e.community_id})
WHERE p.id <> e.id
WITH p, coalesce(p.degree, COUNT { (p)-[:RELATED]-() }) AS degree
RETURN p.id AS id
ORDER BY degree DESC, id
LIMIT $limit`

const chunkReturn = `
RETURN c.id AS id, c.text AS text, coalesce(c.doc_title, '') AS doc_title, c.section_heading AS section_heading,
       c.page_number AS page_number, coalesce(c.source_document, '') AS source_document, c.embedding AS embedding,
       [(c)-[:MENTIONS]->(m:Entity {group_id: $tenant}) | m.id] AS entity_ids`

const getChunksForEntityCypher = `
MATCH (c:Chunk {group_id: $tenant})-[:MENTIONS]->(:Entity {group_id: $tenant, id: $id})
WITH c ORDER BY c.id LIMIT $limit` + chunkReturn

const searchChunksCypher = `
CALL db.index.vector.queryNodes($index, $k, $embedding) YIELD node AS c, score
WHERE c.group_id = $tenant
WITH c, score ORDER BY score DESC, c.id LIMIT $limit` + chunkReturn + `, score`

const getChunksCypher = `
MATCH (c:Chunk {group_id: $tenant})
WHERE c.id IN $ids` + chunkReturn
