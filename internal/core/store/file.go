package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/AmanBhanse/agathon-backend/internal/core/ingestion/chunk"
)

// CompressedExt はこの拡張子で終わるパスを zstd 圧縮して保存する
const CompressedExt = ".zst"

// record は永続化フォーマット
type record struct {
	BuildID   uuid.UUID     `json:"build_id"`
	ModelID   string        `json:"model_id"`
	Dimension int           `json:"dimension"`
	CreatedAt time.Time     `json:"created_at"`
	Count     int           `json:"count"`
	Chunks    []chunkRecord `json:"chunks"`
}

type chunkRecord struct {
	ID        int       `json:"id"`
	Text      string    `json:"text"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
	Pages     []int     `json:"pages"`
	Embedding []float32 `json:"embedding"`
}

// Save はストアを path に原子的に書き込む
func Save(s *Store, path string) error {
	rec := toRecord(s)
	compressed := isCompressed(path)
	return WriteFileAtomic(path, func(w io.Writer) error {
		return writeRecord(w, rec, compressed)
	})
}

// WriteFileAtomic は同じディレクトリの一時ファイルに書き込んでからリネームする
// 書き込み途中で失敗しても path の既存ファイルは変更されない
func WriteFileAtomic(path string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

// Load は path からストアを読み込む
// ファイルが無ければ ErrNotFound、内容が不整合なら CorruptError を返す
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer f.Close()

	rec, err := readRecord(f, isCompressed(path))
	if err != nil {
		return nil, &CorruptError{Path: path, Reason: "cannot decode record", Err: err}
	}

	s, err := fromRecord(rec)
	if err != nil {
		var cerr *CorruptError
		if errors.As(err, &cerr) {
			cerr.Path = path
			return nil, cerr
		}
		return nil, &CorruptError{Path: path, Reason: "invalid chunk", Err: err}
	}
	return s, nil
}

func isCompressed(path string) bool {
	return strings.HasSuffix(path, CompressedExt)
}

func writeRecord(w io.Writer, rec *record, compressed bool) error {
	bw := bufio.NewWriter(w)
	var out io.Writer = bw

	var zw *zstd.Encoder
	if compressed {
		var err error
		zw, err = zstd.NewWriter(bw)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		out = zw
	}

	if err := json.NewEncoder(out).Encode(rec); err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to finish zstd stream: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush store file: %w", err)
	}
	return nil
}

func readRecord(r io.Reader, compressed bool) (*record, error) {
	in := bufio.NewReader(r)
	var src io.Reader = in
	if compressed {
		zr, err := zstd.NewReader(in)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		src = zr
	}

	var rec record
	if err := json.NewDecoder(src).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func toRecord(s *Store) *record {
	rec := &record{
		BuildID:   s.buildID,
		ModelID:   s.modelID,
		Dimension: s.dimension,
		CreatedAt: s.createdAt,
		Count:     len(s.chunks),
		Chunks:    make([]chunkRecord, len(s.chunks)),
	}
	for i, c := range s.chunks {
		rec.Chunks[i] = chunkRecord{
			ID:        c.ID(),
			Text:      c.Text(),
			Start:     c.Start(),
			End:       c.End(),
			Pages:     c.Pages(),
			Embedding: s.embeddings[i],
		}
	}
	return rec
}

func fromRecord(rec *record) (*Store, error) {
	if rec.Count != len(rec.Chunks) {
		return nil, corruptf("header count %d does not match %d chunks", rec.Count, len(rec.Chunks))
	}

	chunks := make([]chunk.Chunk, 0, len(rec.Chunks))
	embeddings := make([][]float32, 0, len(rec.Chunks))
	for i, cr := range rec.Chunks {
		c, err := chunk.NewChunk(cr.ID, cr.Text, cr.Start, cr.End, cr.Pages)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		chunks = append(chunks, c)
		if cr.Embedding != nil {
			embeddings = append(embeddings, cr.Embedding)
		}
	}

	s, err := newStore(rec.BuildID, rec.ModelID, rec.CreatedAt, chunks, embeddings)
	if err != nil {
		return nil, err
	}
	if s.Len() > 0 && s.dimension != rec.Dimension {
		return nil, corruptf("header dimension %d does not match vectors of dimension %d", rec.Dimension, s.dimension)
	}
	return s, nil
}
