package embedding

import "fmt"

// Provider はEmbeddingプロバイダの種別を表すタグ付きバリアント。
// 文字列名での動的分岐は行わず、構築時に ParseProvider で検証する。
type Provider string

const (
	// ProviderOpenAI は有償・高品質のEmbeddingプロバイダ（要クレデンシャル）
	ProviderOpenAI Provider = "openai"
	// ProviderLocal はローカル実行の無償プロバイダ。常に利用可能で、
	// 他プロバイダが使えない場合の指定フォールバック先となる。
	ProviderLocal Provider = "local"
	// ProviderAnthropic は生成専用のプロバイダ。Embedding能力を持たないため、
	// Embedding用途に設定された場合はフォールバック先に置換される。
	ProviderAnthropic Provider = "anthropic"
)

// FallbackProvider はEmbedding不能・失敗時の指定フォールバック先
const FallbackProvider = ProviderLocal

// ParseProvider はプロバイダ名を検証して Provider を返す。
// 未知の名前は構築時エラーとなる（実行時の文字列比較分岐にしない）。
func ParseProvider(name string) (Provider, error) {
	switch Provider(name) {
	case ProviderOpenAI, ProviderLocal, ProviderAnthropic:
		return Provider(name), nil
	default:
		return "", fmt.Errorf("unsupported embedding provider: %q", name)
	}
}

// CanEmbed はこのプロバイダがEmbedding能力を持つかを返す
func (p Provider) CanEmbed() bool {
	switch p {
	case ProviderOpenAI, ProviderLocal:
		return true
	default:
		return false
	}
}

func (p Provider) String() string {
	return string(p)
}
