package localembed

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/hayasaka/kb-rag/internal/core/embedding"
)

const (
	// ModelName は本実装の識別子。永続化されるプロバイダ情報に現れる。
	ModelName = "local-hash-v1"
	// Dimension は出力ベクトルの次元数
	Dimension = 384
)

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Embedder は特徴ハッシュによる決定的なローカルEmbedding実装。
// 外部APIも認証情報も不要で、同一テキストには常に同一ベクトルを返す。
// 検索品質は学習済みモデルに劣るが、フォールバック先として常に利用できる。
type Embedder struct{}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder() *Embedder {
	return &Embedder{}
}

// Embed は単一テキストの Embedding を生成する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

// BatchEmbed はバッチで Embedding を生成する
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return ModelName
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return Dimension
}

// embed はトークンをハッシュでバケットに割り当て、頻度を重みとしてL2正規化する。
// 符号ビットで衝突の偏りを打ち消す（feature hashing の定石）。
func (e *Embedder) embed(text string) []float32 {
	vec := make([]float32, Dimension)

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec
	}

	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()

		bucket := int(sum % Dimension)
		sign := float32(1)
		if (sum>>63)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// インターフェース実装の確認
var _ embedding.Backend = (*Embedder)(nil)
