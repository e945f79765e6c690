package pgx

// All statements take the tenant as $1.

const findExactOrAliasSQL = `
SELECT id
FROM entities
WHERE group_id = $1
  AND (lower(name) = ANY($2::text[])
       OR EXISTS (SELECT 1 FROM unnest(aliases) AS a WHERE lower(a) = ANY($2::text[])))
ORDER BY id`

const vectorSearchSQL = `
SELECT id, 1 - (embedding <=> $2) AS similarity
FROM entities
WHERE group_id = $1 AND embedding IS NOT NULL
ORDER BY embedding <=> $2, id
LIMIT $3`

const getNeighborsSQL = `
SELECT CASE WHEN source_id = $2 THEN target_id ELSE source_id END AS neighbor,
       MAX(weight) AS weight
FROM edges
WHERE group_id = $1 AND (source_id = $2 OR target_id = $2)
GROUP BY neighbor
ORDER BY neighbor`

const getEntitiesSQL = `
SELECT id, name, aliases, embedding, community_id, degree
FROM entities
WHERE group_id = $1 AND id = ANY($2::text[])`

const getCommunityPeersSQL = `
SELECT p.id
FROM entities e
JOIN entities p
  ON p.group_id = e.group_id AND p.community_id = e.community_id AND p.id <> e.id
WHERE e.group_id = $1 AND e.id = $2
ORDER BY p.degree DESC, p.id
LIMIT $3`

const chunkColumns = `
c.id, c.text, c.doc_title, c.section_heading, c.page_number, c.source_document, c.embedding,
ARRAY(SELECT ce2.entity_id FROM chunk_entities ce2
      WHERE ce2.group_id = c.group_id AND ce2.chunk_id = c.id
      ORDER BY ce2.entity_id) AS entity_ids`

const getChunksForEntitySQL = `
SELECT` + chunkColumns + `
FROM chunk_entities ce
JOIN chunks c ON c.group_id = ce.group_id AND c.id = ce.chunk_id
WHERE ce.group_id = $1 AND ce.entity_id = $2
ORDER BY c.id
LIMIT $3`

const searchChunksSQL = `
SELECT` + chunkColumns + `, 1 - (c.embedding <=> $2) AS similarity
FROM chunks c
WHERE c.group_id = $1 AND c.embedding IS NOT NULL
ORDER BY c.embedding <=> $2, c.id
LIMIT $3`

const getChunksSQL = `
SELECT` + chunkColumns + `
FROM chunks c
WHERE c.group_id = $1 AND c.id = ANY($2::text[])`

const listEntityIDsSQL = `
SELECT id
FROM entities
WHERE group_id = $1 AND embedding IS NOT NULL
ORDER BY id`
