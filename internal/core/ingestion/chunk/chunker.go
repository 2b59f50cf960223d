package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/hayasaka/kb-rag/internal/core/knowledge"
)

const (
	// DefaultChunkSize はチャンクの最大文字数
	DefaultChunkSize = 1000
	// DefaultOverlap は隣接チャンク間で重複させる文字数
	DefaultOverlap = 200
)

// 文境界として扱う区切り。前方のものほど優先される。
var sentenceBoundaries = []string{". ", "。", "! ", "? ", "！", "？", "\n\n", "\n"}

// Chunker はテキストを文字数ウィンドウで分割する。
// ウィンドウ末尾が本文の途中に落ちる場合は直近の文境界まで縮める。
type Chunker struct {
	chunkSize int
	overlap   int
	encoder   *tiktoken.Tiktoken
}

// ChunkerOption は Chunker のオプション設定
type ChunkerOption func(*Chunker)

// WithChunkSize はチャンクの最大文字数を設定する
func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) {
		c.chunkSize = size
	}
}

// WithOverlap はチャンク間の重複文字数を設定する
func WithOverlap(overlap int) ChunkerOption {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

// NewChunker は新しいChunkerを作成する
func NewChunker(opts ...ChunkerOption) (*Chunker, error) {
	// cl100k_baseエンコーダを使用（text-embedding-3-smallと互換）
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}

	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlap,
		encoder:   encoder,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive: %d", c.chunkSize)
	}
	if c.overlap < 0 || c.overlap >= c.chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, chunkSize): %d", c.overlap)
	}

	return c, nil
}

// Split はテキストをチャンクに分割する。空テキストは空スライスを返す。
func (c *Chunker) Split(text string) []knowledge.Chunk {
	var chunks []knowledge.Chunk
	if text == "" {
		return chunks
	}

	start := 0
	ordinal := 0
	for start < len(text) {
		end := start + c.chunkSize
		if end > len(text) {
			end = len(text)
		}

		// 本文の途中で切れる場合はウィンドウ内の最後の文境界まで縮める
		if end < len(text) {
			found := false
			for _, sep := range sentenceBoundaries {
				if idx := strings.LastIndex(text[start:end], sep); idx != -1 {
					end = start + idx + len(sep)
					found = true
					break
				}
			}
			// 境界がない場合もルーンの途中では切らない
			if !found {
				for end > start && !utf8.RuneStart(text[end]) {
					end--
				}
				if end == start {
					_, size := utf8.DecodeRuneInString(text[start:])
					end = start + size
				}
			}
		}

		content := strings.TrimSpace(text[start:end])
		if content != "" {
			chunks = append(chunks, knowledge.Chunk{
				Ordinal:    ordinal,
				Content:    content,
				TokenCount: c.CountTokens(content),
			})
			ordinal++
		}

		if end >= len(text) {
			break
		}
		next := end - c.overlap
		for next > start && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			// 境界調整でウィンドウが極端に縮んだ場合でも前進を保証する
			next = end
		}
		start = next
	}

	return chunks
}

// CountTokens はテキストのトークン数を数える
func (c *Chunker) CountTokens(text string) int {
	return len(c.encoder.Encode(text, nil, nil))
}
