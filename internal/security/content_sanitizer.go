// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService は改善済み求人票のHTMLをサニタイズし、
// フィード消費側をXSSなどのリスクから保護する。
// bluemondayライブラリを使用した許可リストベースのポリシーで、
// テキスト改善プロンプトが許可するタグだけを通過させる。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
// テキスト改善の出力（外部LLM由来の非信頼テキスト）を公開テーブルへ保存する前に使用する。
type ContentSanitizerService interface {
	// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// 許可タグ（b, strong, u, i, br, p, ul, li, em）のみを通過させ、
	// script, iframe, style, aタグおよびon*イベント属性を除去する。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// 許可タグ集合は改善プロンプトが「サポートされる唯一のタグ」と宣言する集合と
// 一致させている: b, strong, u, i, br, p, ul, li, em。
// リンク除去はプロンプトの指示でもあるため、aタグは許可リストに含めない
// （モデルが指示を無視してリンクを返しても、ここで確実に落ちる）。
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"b", "strong", "u", "i",
		"br", "p", "ul", "li", "em",
	)

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
