// Package enrich は求人票テキストの改善機能を提供する。
// OpenAI互換のChat Completions APIを呼び出し、求人票の要約整形と
// 本文の読みやすさ改善を行う。呼び出しはレート制限とタイムアウトで
// 制御され、失敗は呼び出し元が原文フォールバックで吸収する。
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultEndpoint はOpenAI Chat Completions APIのエンドポイント。
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	// defaultModel は求人票改善に使用するモデル。
	defaultModel = "gpt-4.1-mini"
)

// systemPrompt はモデルに与える役割指示。
const systemPrompt = "Sei un assistente esperto nella formattazione di annunci di lavoro per LinkedIn. Il tuo compito è migliorare la formattazione mantenendo il testo originale."

// improvePrompt は求人票改善の指示プロンプト。
// summaryの書き換え規則、保持すべきブロック、出力として許可される
// HTMLタグ（b, strong, u, i, br, p, ul, li, em）を定義する。
// ここで許可されるタグ集合はsecurity.NewContentSanitizerのポリシーと一致させること。
const improvePrompt = `Il tuo compito è:

modificare il summary dell'annuncio ovvero la prima parte della job description in questo modo:

- fai risaltare la posizione e la laurea richiesta;

- breve descrizione del ruolo;

- benefit e RAL se sono presenti nell'annuncio;

- utilizza sempre la terza persona nel summary

- mantieni la lingua originale dell'annuncio

lascia intatto tutto il resto ovvero introduzione, conclusione e locations.

Per description invece:

- togli tutti i link o collegamenti esterni

- non modificare il testo originale dell'annuncio

- mantieni la lingua originale dell'annuncio

- dividi il testo in paragrafi sensati e inserisci gli elenchi puntati nel testo dove necessari per migliorare la leggibilità

restituisci la job description in HTML e utilizza questi tag html che sono i soli supportati:

<b>, <strong> Bold/Strong

<u> Underline

<i> italic

<br> Line Break

<p> Paragraph

<ul> Unordered List

<li> Ordered List

<em> Emphasized text(italics)`

// TextImprover は求人票テキスト改善のインターフェース。
// 失敗（エラー・タイムアウト）の扱いは呼び出し元の責務であり、
// 昇格処理では常に原文フォールバックに縮退させる。
type TextImprover interface {
	// Improve は求人票本文を改善したテキストを返す。
	Improve(ctx context.Context, text string) (string, error)
}

// Config はClientの設定パラメータ。
type Config struct {
	// APIKey はOpenAI APIキー。
	APIKey string
	// Model は使用するモデル名（デフォルト: gpt-4.1-mini）。
	Model string
	// Endpoint はAPIエンドポイント。テスト用に差し替え可能。
	Endpoint string
	// Timeout は1呼び出しあたりのタイムアウト。
	Timeout time.Duration
	// RatePerMinute は1分あたりの最大呼び出し回数。
	// 共有かつレート制限された外部リソースのため、既定で控えめに抑える。
	RatePerMinute int
}

// Client はOpenAI Chat Completions APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	apiKey     string
	model      string
	endpoint   string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(cfg Config, logger *slog.Logger) *Client {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
		apiKey:     cfg.APIKey,
		model:      model,
		endpoint:   endpoint,
	}
}

// chatRequest はChat Completions APIのリクエストボディ。
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse はChat Completions APIのレスポンスボディ。
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Improve は求人票本文を改善したテキストを返す。
// レート制限の待機後にAPIを1回呼び出す。空文字列の入力はそのまま返す。
// HTTPエラー・タイムアウト・不正レスポンスはすべてエラーとして返し、
// 原文フォールバックの判断は呼び出し元に委ねる。
func (c *Client) Improve(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}

	// レート制限（コンテキストキャンセルで待機も中断される）
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("レート制限の待機が中断されました: %w", err)
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: improvePrompt + "\n\nJob description originale:\n\n" + text},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("テキスト改善APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// エラーボディは診断ログ用に先頭だけ読む
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Error("テキスト改善APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return "", fmt.Errorf("テキスト改善APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("テキスト改善APIのレスポンスにchoicesが含まれていません")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// compile-time interface check
var _ TextImprover = (*Client)(nil)
