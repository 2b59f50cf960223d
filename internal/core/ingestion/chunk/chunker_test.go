package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_EmptyText(t *testing.T) {
	c, err := NewChunker()
	require.NoError(t, err)

	assert.Empty(t, c.Split(""))
}

func TestChunker_ShortTextSingleChunk(t *testing.T) {
	c, err := NewChunker()
	require.NoError(t, err)

	chunks := c.Split("Refunds are accepted within 30 days of purchase.")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, "Refunds are accepted within 30 days of purchase.", chunks[0].Content)
	assert.Positive(t, chunks[0].TokenCount)
}

func TestChunker_BreaksAtSentenceBoundary(t *testing.T) {
	c, err := NewChunker(WithChunkSize(50), WithOverlap(10))
	require.NoError(t, err)

	text := "First sentence here. Second sentence follows on. Third sentence closes it out."
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	// 先頭チャンクは文の途中で切れない
	assert.True(t, strings.HasSuffix(chunks[0].Content, "."),
		"chunk should end at a sentence boundary, got %q", chunks[0].Content)
}

func TestChunker_OverlapCarriesContext(t *testing.T) {
	c, err := NewChunker(WithChunkSize(100), WithOverlap(30))
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("Sentence number with some padding words inside. ")
	}
	chunks := c.Split(b.String())
	require.Greater(t, len(chunks), 2)

	// 後続チャンクの先頭は前チャンクの末尾領域から始まる（重複あり）
	for i := 1; i < len(chunks); i++ {
		head := chunks[i].Content
		if len(head) > 20 {
			head = head[:20]
		}
		assert.Contains(t, b.String(), head)
	}

	// Ordinal は連番
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
	}
}

func TestChunker_ProgressGuaranteedWithoutBoundaries(t *testing.T) {
	c, err := NewChunker(WithChunkSize(40), WithOverlap(20))
	require.NoError(t, err)

	// 区切り文字を一切含まない長文でも停止する
	text := strings.Repeat("x", 500)
	chunks := c.Split(text)
	require.NotEmpty(t, chunks)

	total := 0
	for _, ch := range chunks {
		total += len(ch.Content)
	}
	assert.GreaterOrEqual(t, total, len(text), "overlapping chunks must cover the whole text")
}

func TestChunker_CJKTextKeepsValidUTF8(t *testing.T) {
	c, err := NewChunker()
	require.NoError(t, err)

	// 句読点のない日本語長文でもルーンの途中で切らない
	text := strings.Repeat("返金は三十日以内に受け付けます", 100)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Content),
			"chunk %d contains invalid UTF-8: %q", i, ch.Content)
	}
}

func TestChunker_BreaksAtJapaneseSentenceBoundary(t *testing.T) {
	c, err := NewChunker(WithChunkSize(60), WithOverlap(15))
	require.NoError(t, err)

	text := strings.Repeat("返金は購入後三十日以内に受け付けます。", 10)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	// 先頭チャンクは句点で終わり、UTF-8として正しい
	assert.True(t, strings.HasSuffix(chunks[0].Content, "。"),
		"chunk should end at a sentence boundary, got %q", chunks[0].Content)
	for i, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Content), "chunk %d contains invalid UTF-8", i)
	}
}

func TestNewChunker_InvalidConfig(t *testing.T) {
	_, err := NewChunker(WithChunkSize(0))
	require.Error(t, err)

	_, err = NewChunker(WithChunkSize(100), WithOverlap(100))
	require.Error(t, err)
}
