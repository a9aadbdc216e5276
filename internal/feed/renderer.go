// Package feed は公開求人のXMLフィード生成を提供する。
//
// フィードはLinkedInのジョブラッピング形式に従う。消費側のパーサーが
// 要素内の空白配置まで含めて検証するため、encoding/xmlではなく
// 行単位の組み立てで正確なバイト列を生成する。
package feed

import (
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/jobwrap/internal/model"
)

// Render は公開求人のリストからフィードXMLを生成する純粋関数。
// 同一入力には常に同一出力を返す。求人は入力順のまま描画される。
// lastBuildDateは求人のLastBuildDateの最大値、1件もなければnowを使用する。
func Render(postings []*model.PublishedPosting, now time.Time) string {
	var parts []string
	parts = append(parts, `<?xml version="1.0" encoding="UTF-8"?>`)
	parts = append(parts, "<source>")
	parts = append(parts, " <lastBuildDate> "+formatRFC1123GMT(lastBuildDate(postings, now))+" </lastBuildDate>")

	for _, job := range postings {
		parts = append(parts, " <job>")
		parts = append(parts, "  <partnerJobId>"+cdata(partnerJobID(job))+"</partnerJobId>")
		parts = append(parts, "  <company>"+cdata(job.Company)+"</company>")
		parts = append(parts, "  <title>"+cdata(job.Position)+"</title>")
		parts = append(parts, "  <description>"+cdata(job.Description)+"</description>")
		parts = append(parts, "  <applyUrl>"+cdata(job.ApplyURL)+"</applyUrl>")
		// companyIdの要素名直後の空白は消費側が期待する形式の一部
		parts = append(parts, "  <companyId> "+cdata(job.CompanyID)+"</companyId>")
		parts = append(parts, "  <location>"+cdata(job.Location)+"</location>")
		parts = append(parts, "  <workplaceTypes>"+cdata(job.WorkplaceTypes)+"</workplaceTypes>")
		parts = append(parts, "  <experienceLevel>"+cdata(job.ExperienceLevel)+"</experienceLevel>")
		parts = append(parts, "  <jobtype>"+cdata(job.Jobtype)+"</jobtype>")
		parts = append(parts, " </job>")
	}

	parts = append(parts, "</source>")
	return strings.Join(parts, "\n")
}

// lastBuildDate は求人のLastBuildDateの最大値を返す。1件もなければfallbackを返す。
func lastBuildDate(postings []*model.PublishedPosting, fallback time.Time) time.Time {
	var max time.Time
	for _, p := range postings {
		if p.LastBuildDate != nil && p.LastBuildDate.After(max) {
			max = *p.LastBuildDate
		}
	}
	if max.IsZero() {
		return fallback
	}
	return max
}

// formatRFC1123GMT は時刻をRFC1123のGMT表記で整形する。
func formatRFC1123GMT(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// partnerJobID はフィードのpartnerJobId値を返す。
// partner_job_idを優先し、なければ代理キーのid、それもなければ空文字列。
func partnerJobID(p *model.PublishedPosting) string {
	if p.HasPartnerJobID() {
		return *p.PartnerJobID
	}
	if p.ID != 0 {
		return strconv.FormatInt(p.ID, 10)
	}
	return ""
}

// cdata はテキストをCDATAセクションに包んで返す。
// 包む前に、不正なUTF-8を置換し、XMLで許されない制御文字を除去し、
// リテラルの"]]>"をCDATA分割で無害化する。
func cdata(text string) string {
	return "<![CDATA[" + escapeCDATA(text) + "]]>"
}

// escapeCDATA はCDATAセクション内で安全なテキストに変換する。
func escapeCDATA(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	text = stripIllegalChars(text)
	// "]]>"をそのまま含めるとCDATAが途中で終端するため、2つのセクションに分割する
	return strings.ReplaceAll(text, "]]>", "]]]]><![CDATA[>")
}

// stripIllegalChars はXML 1.0で許されない制御文字を除去する。
// タブ・改行・復帰は保持する。
func stripIllegalChars(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		default:
			return r
		}
	}, text)
}
