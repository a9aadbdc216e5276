// Package geoip はクライアントIPのベストエフォートなジオ情報解決を提供する。
//
// ルックアップはipwho.is互換のエンドポイントに対して行う。クライアントIPは
// X-Forwarded-For由来で攻撃者が任意の値を注入できるため、HTTPクライアントは
// safeurlで構築し、内部ネットワークへのリクエストをDialerレベルでブロックする。
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// Geo はルックアップ結果のジオ情報。欠損フィールドはログ出力時に省略される。
type Geo struct {
	CountryISOCode string `json:"country_iso_code,omitempty"`
	CountryName    string `json:"country_name,omitempty"`
	RegionISOCode  string `json:"region_iso_code,omitempty"`
	RegionName     string `json:"region_name,omitempty"`
	CityName       string `json:"city_name,omitempty"`
	ContinentName  string `json:"continent_name,omitempty"`
}

// Resolver はIPアドレスのジオ情報を解決するインターフェース。
type Resolver interface {
	// Lookup はIPアドレスのジオ情報を返す。
	// 解決できない場合はnilを返す（エラーは返さない）。
	Lookup(ctx context.Context, ip string) *Geo
}

// HTTPDoer はHTTPリクエスト実行のインターフェース。テスト用に差し替え可能。
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Lookuper はipwho.is互換のAPIでジオ情報を解決する実装。
type Lookuper struct {
	client  HTTPDoer
	base    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewLookuper はLookuperの新しいインスタンスを生成する。
// baseはipwho.is互換APIのベースURL。ログ出力の付加情報が目的のため、
// タイムアウトは短く抑えてリクエスト処理を遅らせない。
func NewLookuper(base string, timeout time.Duration, logger *slog.Logger) *Lookuper {
	if timeout <= 0 {
		timeout = 150 * time.Millisecond
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	wrapped := safeurl.Client(config)

	return &Lookuper{
		client:  wrapped.Client,
		base:    strings.TrimRight(base, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

// lookupResponse はipwho.is互換APIのレスポンスボディ。
type lookupResponse struct {
	Success     *bool  `json:"success"`
	CountryCode string `json:"country_code"`
	Country     string `json:"country"`
	RegionCode  string `json:"region_code"`
	Region      string `json:"region"`
	City        string `json:"city"`
	Continent   string `json:"continent"`
}

// Lookup はIPアドレスのジオ情報を返す。
// プライベートIP・不正なIPはルックアップせずnilを返す。
// APIの失敗はすべてnilに縮退し、呼び出し元の処理を妨げない。
func (l *Lookuper) Lookup(ctx context.Context, ip string) *Geo {
	if isPrivateOrInvalidIP(ip) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s", l.base, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}

	resp, err := l.client.Do(req)
	if err != nil {
		l.logger.Debug("ジオ情報のルックアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil
	}

	var data lookupResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil
	}
	if data.Success != nil && !*data.Success {
		return nil
	}

	return &Geo{
		CountryISOCode: data.CountryCode,
		CountryName:    data.Country,
		RegionISOCode:  data.RegionCode,
		RegionName:     data.Region,
		CityName:       data.City,
		ContinentName:  data.Continent,
	}
}

// isPrivateOrInvalidIP はルックアップをスキップすべきIPかを判定する。
func isPrivateOrInvalidIP(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return true
	}
	return parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() || parsed.IsUnspecified()
}

// compile-time interface check
var _ Resolver = (*Lookuper)(nil)
