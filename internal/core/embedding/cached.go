package embedding

import "context"

// VectorCache はクエリEmbeddingのキャッシュインターフェース
type VectorCache interface {
	Get(key string) ([]float32, bool)
	Set(key string, vector []float32)
}

// CachedBackend は Backend をキャッシュ付きで包むデコレータ。
// 同一テキストの再ベクトル化を避ける。キーにはモデル名を含める
// （モデル変更後に旧ベクトルを返さないため）。
type CachedBackend struct {
	inner Backend
	cache VectorCache
}

// NewCachedBackend は新しい CachedBackend を作成する
func NewCachedBackend(inner Backend, cache VectorCache) *CachedBackend {
	return &CachedBackend{inner: inner, cache: cache}
}

// Embed はキャッシュ経由で単一テキストをベクトル化する
func (b *CachedBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	key := b.key(text)
	if vector, ok := b.cache.Get(key); ok {
		return vector, nil
	}

	vector, err := b.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	b.cache.Set(key, vector)
	return vector, nil
}

// BatchEmbed はキャッシュ未命中のテキストだけを下位バックエンドに渡す
func (b *CachedBackend) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	var (
		missTexts   []string
		missIndexes []int
	)
	for i, text := range texts {
		if vector, ok := b.cache.Get(b.key(text)); ok {
			vectors[i] = vector
			continue
		}
		missTexts = append(missTexts, text)
		missIndexes = append(missIndexes, i)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	embedded, err := b.inner.BatchEmbed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIndexes {
		vectors[idx] = embedded[j]
		b.cache.Set(b.key(texts[idx]), embedded[j])
	}
	return vectors, nil
}

// ModelName は下位バックエンドのモデル名を返す
func (b *CachedBackend) ModelName() string {
	return b.inner.ModelName()
}

// Dimension は下位バックエンドのベクトル次元を返す
func (b *CachedBackend) Dimension() int {
	return b.inner.Dimension()
}

func (b *CachedBackend) key(text string) string {
	return b.inner.ModelName() + "\x00" + text
}

var _ Backend = (*CachedBackend)(nil)
