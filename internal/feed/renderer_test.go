package feed

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/jobwrap/internal/model"
)

func strPtr(s string) *string { return &s }

var renderNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

// TestRender_EmptyFeed は求人0件のフィードがlastBuildDateだけを含むことを検証する。
func TestRender_EmptyFeed(t *testing.T) {
	got := Render(nil, renderNow)

	want := strings.Join([]string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		"<source>",
		" <lastBuildDate> Mon, 02 Jun 2025 12:00:00 GMT </lastBuildDate>",
		"</source>",
	}, "\n")

	if got != want {
		t.Errorf("Render(nil) = %q, want %q", got, want)
	}
}

// TestRender_SingleJob は求人1件の完全なフィード形状を検証する。
func TestRender_SingleJob(t *testing.T) {
	lbd := time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC)
	postings := []*model.PublishedPosting{{
		ID:              42,
		PartnerJobID:    strPtr("ext-42"),
		Position:        "Software Engineer",
		Description:     "<p>Great job</p>",
		Company:         "Acme",
		CompanyID:       "acme-1",
		ApplyURL:        "https://example.com/apply",
		Location:        "Milano",
		WorkplaceTypes:  "Remote",
		ExperienceLevel: "Mid-Senior",
		Jobtype:         "Full-time",
		LastBuildDate:   &lbd,
	}}

	got := Render(postings, renderNow)

	want := strings.Join([]string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		"<source>",
		" <lastBuildDate> Thu, 01 May 2025 08:30:00 GMT </lastBuildDate>",
		" <job>",
		"  <partnerJobId><![CDATA[ext-42]]></partnerJobId>",
		"  <company><![CDATA[Acme]]></company>",
		"  <title><![CDATA[Software Engineer]]></title>",
		"  <description><![CDATA[<p>Great job</p>]]></description>",
		"  <applyUrl><![CDATA[https://example.com/apply]]></applyUrl>",
		"  <companyId> <![CDATA[acme-1]]></companyId>",
		"  <location><![CDATA[Milano]]></location>",
		"  <workplaceTypes><![CDATA[Remote]]></workplaceTypes>",
		"  <experienceLevel><![CDATA[Mid-Senior]]></experienceLevel>",
		"  <jobtype><![CDATA[Full-time]]></jobtype>",
		" </job>",
		"</source>",
	}, "\n")

	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

// TestRender_NullSafety は全フィールドが欠損した求人でも全要素が空CDATAで出力されることを検証する。
func TestRender_NullSafety(t *testing.T) {
	postings := []*model.PublishedPosting{{ID: 7}}

	got := Render(postings, renderNow)

	// 欠損フィールドは要素省略ではなく空CDATAになる
	elements := []string{
		"  <company><![CDATA[]]></company>",
		"  <title><![CDATA[]]></title>",
		"  <description><![CDATA[]]></description>",
		"  <applyUrl><![CDATA[]]></applyUrl>",
		"  <companyId> <![CDATA[]]></companyId>",
		"  <location><![CDATA[]]></location>",
		"  <workplaceTypes><![CDATA[]]></workplaceTypes>",
		"  <experienceLevel><![CDATA[]]></experienceLevel>",
		"  <jobtype><![CDATA[]]></jobtype>",
	}
	for _, el := range elements {
		if !strings.Contains(got, el) {
			t.Errorf("出力に %q が含まれていない:\n%s", el, got)
		}
	}

	// partnerJobIdは代理キーにフォールバックする
	if !strings.Contains(got, "<partnerJobId><![CDATA[7]]></partnerJobId>") {
		t.Errorf("partnerJobIdが代理キー7にフォールバックしていない:\n%s", got)
	}
}

// TestRender_PartnerJobIDFallback はpartnerJobIdのフォールバック順序を検証する。
func TestRender_PartnerJobIDFallback(t *testing.T) {
	tests := []struct {
		name    string
		posting *model.PublishedPosting
		want    string
	}{
		{
			name:    "partner_job_idを優先",
			posting: &model.PublishedPosting{ID: 1, PartnerJobID: strPtr("ext-1")},
			want:    "<partnerJobId><![CDATA[ext-1]]></partnerJobId>",
		},
		{
			name:    "空文字列キーは代理キーにフォールバック",
			posting: &model.PublishedPosting{ID: 2, PartnerJobID: strPtr("")},
			want:    "<partnerJobId><![CDATA[2]]></partnerJobId>",
		},
		{
			name:    "キーも代理キーもなければ空",
			posting: &model.PublishedPosting{},
			want:    "<partnerJobId><![CDATA[]]></partnerJobId>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render([]*model.PublishedPosting{tt.posting}, renderNow)
			if !strings.Contains(got, tt.want) {
				t.Errorf("出力に %q が含まれていない:\n%s", tt.want, got)
			}
		})
	}
}

// TestRender_CDATAEscapeRoundTrip はリテラル"]]>"を含む本文が安全に描画されることを検証する。
func TestRender_CDATAEscapeRoundTrip(t *testing.T) {
	original := "before ]]> after"
	postings := []*model.PublishedPosting{{ID: 1, Description: original}}

	got := Render(postings, renderNow)

	if !strings.Contains(got, "]]]]><![CDATA[>") {
		t.Errorf("CDATA分割マーカーが含まれていない:\n%s", got)
	}

	// 分割マーカーを外すと元のテキストが復元される
	start := strings.Index(got, "<description><![CDATA[")
	end := strings.Index(got, "]]></description>")
	if start < 0 || end < 0 {
		t.Fatalf("description要素が見つからない:\n%s", got)
	}
	content := got[start+len("<description><![CDATA[") : end]
	restored := strings.ReplaceAll(content, "]]]]><![CDATA[>", "]]>")
	if restored != original {
		t.Errorf("復元結果 = %q, want %q", restored, original)
	}

	// XMLとしてパース可能であること
	type document struct {
		XMLName xml.Name `xml:"source"`
		Jobs    []struct {
			Description string `xml:"description"`
		} `xml:"job"`
	}
	var doc document
	if err := xml.Unmarshal([]byte(got), &doc); err != nil {
		t.Fatalf("XMLパースに失敗: %v", err)
	}
	if len(doc.Jobs) != 1 || doc.Jobs[0].Description != original {
		t.Errorf("パース後のdescription = %q, want %q", doc.Jobs[0].Description, original)
	}
}

// TestRender_StripsIllegalControlChars はXMLで不正な制御文字が除去されることを検証する。
func TestRender_StripsIllegalControlChars(t *testing.T) {
	postings := []*model.PublishedPosting{{
		ID:          1,
		Description: "a\x00b\x08c\x0bd\x0ce\x1ff\x7fg\th\ni\rj",
	}}

	got := Render(postings, renderNow)

	if !strings.Contains(got, "<description><![CDATA[abcdefg\th\ni\rj]]></description>") {
		t.Errorf("制御文字の除去が不正:\n%s", got)
	}
}

// TestRender_CoercesInvalidUTF8 は不正なUTF-8バイト列が置換されることを検証する。
func TestRender_CoercesInvalidUTF8(t *testing.T) {
	postings := []*model.PublishedPosting{{
		ID:          1,
		Description: "valid \xff\xfe invalid",
	}}

	got := Render(postings, renderNow)

	if strings.Contains(got, "\xff") || strings.Contains(got, "\xfe") {
		t.Errorf("不正なUTF-8バイトが残っている:\n%q", got)
	}
	if !strings.Contains(got, "valid") || !strings.Contains(got, "invalid") {
		t.Errorf("有効なテキストが失われている:\n%s", got)
	}
}

// TestRender_LastBuildDateIsMax はlastBuildDateが求人の最大値になることを検証する。
func TestRender_LastBuildDateIsMax(t *testing.T) {
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 3, 15, 18, 45, 0, 0, time.UTC)
	postings := []*model.PublishedPosting{
		{ID: 1, LastBuildDate: &older},
		{ID: 2, LastBuildDate: &newer},
		{ID: 3},
	}

	got := Render(postings, renderNow)

	if !strings.Contains(got, " <lastBuildDate> Sat, 15 Mar 2025 18:45:00 GMT </lastBuildDate>") {
		t.Errorf("lastBuildDateが最大値になっていない:\n%s", got)
	}
}

// TestRender_Deterministic は同一入力に対して常に同一出力を返すことを検証する。
func TestRender_Deterministic(t *testing.T) {
	lbd := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	postings := []*model.PublishedPosting{
		{ID: 1, PartnerJobID: strPtr("a"), Position: "X", LastBuildDate: &lbd},
		{ID: 2, PartnerJobID: strPtr("b"), Position: "Y", LastBuildDate: &lbd},
	}

	first := Render(postings, renderNow)
	second := Render(postings, renderNow)
	if first != second {
		t.Error("同一入力で出力が変わった")
	}
}

// TestRender_PreservesInputOrder は求人が入力順のまま描画されることを検証する。
func TestRender_PreservesInputOrder(t *testing.T) {
	postings := []*model.PublishedPosting{
		{ID: 1, Position: "First"},
		{ID: 2, Position: "Second"},
		{ID: 3, Position: "Third"},
	}

	got := Render(postings, renderNow)

	i1 := strings.Index(got, "First")
	i2 := strings.Index(got, "Second")
	i3 := strings.Index(got, "Third")
	if !(i1 < i2 && i2 < i3) {
		t.Errorf("求人の順序が入力順でない: %d, %d, %d", i1, i2, i3)
	}
}
