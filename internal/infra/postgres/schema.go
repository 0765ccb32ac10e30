package postgres

// schemaSQL はミラー用のスキーマ
// rag_store_meta は常に 1 行で、rag_chunks に入っているストアを表す
const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS rag_store_meta (
    singleton   BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
    build_id    UUID        NOT NULL,
    model_id    TEXT        NOT NULL,
    dimension   INTEGER     NOT NULL,
    chunk_count INTEGER     NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    mirrored_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rag_chunks (
    id           INTEGER PRIMARY KEY,
    content      TEXT      NOT NULL,
    start_offset INTEGER   NOT NULL,
    end_offset   INTEGER   NOT NULL,
    pages        INTEGER[] NOT NULL DEFAULT '{}',
    embedding    VECTOR    NOT NULL
);
`

const (
	deleteChunksSQL = `TRUNCATE rag_chunks`
	deleteMetaSQL   = `DELETE FROM rag_store_meta`

	insertMetaSQL = `
INSERT INTO rag_store_meta (build_id, model_id, dimension, chunk_count, created_at)
VALUES ($1, $2, $3, $4, $5)`

	selectMetaSQL = `
SELECT build_id, model_id, dimension, chunk_count, created_at, mirrored_at
FROM rag_store_meta`

	// コサイン距離 <=> はゼロベクトルで NaN になるため、その場合の類似度は 0 とする
	// メタ行の build_id が $4 と一致しなければ 0 行になる
	searchSQL = `
SELECT c.id,
       CASE
           WHEN $2::boolean OR vector_norm(c.embedding) = 0 THEN 0
           ELSE 1 - (c.embedding <=> $1)
       END AS score
FROM rag_chunks c
JOIN rag_store_meta m ON m.build_id = $4
ORDER BY score DESC, c.id ASC
LIMIT $3`
)
