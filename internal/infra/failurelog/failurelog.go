package failurelog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AmanBhanse/agathon-backend/internal/core/ingestion"
)

// Suffix はストアファイルに付ける失敗ログの拡張子
const Suffix = ".failures.jsonl"

// Entry はプレースホルダーで保存されたチャンク 1 件のログレコード
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	BuildID   string    `json:"build_id"`
	ModelID   string    `json:"model_id"`
	ChunkID   int       `json:"chunk_id"`
	Pages     []int     `json:"pages,omitempty"`
	Error     string    `json:"error"`
}

// Writer は Embedding 失敗を JSON Lines 形式で追記する
type Writer struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// PathFor はストアファイルに対応する失敗ログのパスを返す
func PathFor(storePath string) string {
	return storePath + Suffix
}

// NewWriter は新しい Writer を作成する
// path が空の場合は記録を行わない
func NewWriter(path string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{path: path, logger: logger}
}

// Path は書き込み先のパスを返す
func (w *Writer) Path() string {
	return w.path
}

// LogFailures は失敗チャンクを追記する
func (w *Writer) LogFailures(failed []ingestion.FailedChunk) error {
	if w.path == "" || len(failed) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open failure log: %w", err)
	}
	defer f.Close()

	now := time.Now().UTC()
	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	for _, fc := range failed {
		entry := Entry{
			Timestamp: now,
			BuildID:   fc.BuildID.String(),
			ModelID:   fc.ModelID,
			ChunkID:   fc.ChunkID,
			Pages:     fc.Pages,
		}
		if fc.Err != nil {
			entry.Error = fc.Err.Error()
		}
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to write failure log: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write failure log: %w", err)
	}

	w.logger.Warn("embedding failures recorded",
		"path", w.path,
		"count", len(failed),
	)
	return nil
}

// ReadAll は失敗ログの全レコードを読み込む
// ファイルが存在しない場合は空を返す
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open failure log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("failed to parse failure log line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read failure log: %w", err)
	}
	return entries, nil
}

// ForBuild は指定した build_id のレコードだけを返す
func ForBuild(entries []Entry, buildID string) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.BuildID == buildID {
			out = append(out, e)
		}
	}
	return out
}

// インターフェース実装の確認
var _ ingestion.FailureLog = (*Writer)(nil)
