package postgres

const queryGetDocument = `
SELECT version, body
FROM documents
WHERE collection = $1 AND id = $2
`

// Unconditional upsert. xmax is zero only for freshly inserted rows.
const queryUpsertDocument = `
INSERT INTO documents (collection, id, version, body)
VALUES ($1, $2, 1, $3)
ON CONFLICT (collection, id) DO UPDATE
SET version = documents.version + 1, body = EXCLUDED.body, updated_at = now()
RETURNING version, (xmax = 0) AS created
`

const queryCreateDocument = `
INSERT INTO documents (collection, id, version, body)
VALUES ($1, $2, 1, $3)
ON CONFLICT (collection, id) DO NOTHING
RETURNING version
`

const queryUpdateDocumentIfVersion = `
UPDATE documents
SET version = version + 1, body = $4, updated_at = now()
WHERE collection = $1 AND id = $2 AND version = $3
RETURNING version
`

const queryDeleteDocument = `
DELETE FROM documents
WHERE collection = $1 AND id = $2
`

const queryCountDocuments = `
SELECT count(*)
FROM documents
WHERE collection = $1
`

const querySearchDocumentsPrefix = `
SELECT id, version, body
FROM documents
WHERE collection = $1`
