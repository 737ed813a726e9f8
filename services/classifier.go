package services

import (
	"regexp"
	"strings"
)

// PageClass is the classifier's verdict for one extracted page.
type PageClass struct {
	IsTable   bool
	Excluded  bool
	ImageOnly bool
	Reason    string
}

// Detection reasons. Persisted in fragment metadata, so renaming one
// invalidates stored rows.
const (
	ReasonExcluded          = "excluded_page"
	ReasonImageOnly         = "image_only_page"
	ReasonTableStructure    = "table_with_structure"
	ReasonAppendixStructure = "appendix_with_structure"
	ReasonStructureOnly     = "structure_only_table"
	ReasonKeywordNoStruct   = "keyword_found_but_lacks_structure"
	ReasonNoSignals         = "no_keyword_and_no_structure"
)

// Navigation headings that mark table-of-contents style pages. The
// source corpus is bilingual Indonesian/English.
var navigationTitles = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*daftar\s+isi`),
	regexp.MustCompile(`table\s+of\s+contents`),
	regexp.MustCompile(`(?m)^\s*daftar\s+tabel`),
	regexp.MustCompile(`list\s+of\s+tables`),
	regexp.MustCompile(`(?m)^\s*daftar\s+gambar`),
	regexp.MustCompile(`list\s+of\s+figures`),
	regexp.MustCompile(`(?m)^\s*daftar\s+grafik`),
	regexp.MustCompile(`list\s+of\s+graphs`),
	regexp.MustCompile(`(?m)^\s*daftar\s+lampiran`),
	regexp.MustCompile(`list\s+of\s+appendices`),
}

var (
	bibliographyPattern = regexp.MustCompile(`(?m)^\s*daftar\s+pustaka|references|bibliography|referensi`)
	dotLeaderPattern    = regexp.MustCompile(`\.{5,}\s*\d+\s*$`)

	tableKeywordPatterns = []*regexp.Regexp{
		regexp.MustCompile(`tabel\s+\d[\d\.]*`),
		regexp.MustCompile(`table\s+\d[\d\.]*`),
		regexp.MustCompile(`lanjutan\s+tabel`),
		regexp.MustCompile(`tabel\s+[\d\.]+\s*\(lanjutan\)`),
		regexp.MustCompile(`(?m)^tabel$`),
		regexp.MustCompile(`(?m)^table$`),
	}
	appendixPattern = regexp.MustCompile(`(?m)^\s*lampiran|appendix`)

	columnNumberPattern = regexp.MustCompile(`\(\s*\d+\s*\)`)

	multiSpacePattern = regexp.MustCompile(`\s{2,}`)
)

// CleanPageText normalizes extracted page text for storage: trims each
// line, collapses runs of whitespace, drops empty lines.
func CleanPageText(raw string) string {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cleaned = append(cleaned, multiSpacePattern.ReplaceAllString(line, " "))
	}
	return strings.Join(cleaned, "\n")
}

func firstLines(text string, n int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.ToLower(strings.Join(lines, "\n"))
}

// isExcludedPage drops boilerplate: navigation/TOC pages, dot-leader
// index pages, near-empty covers and pages with no usable text.
func isExcludedPage(rawText string, pageNum int) bool {
	trimmed := strings.TrimSpace(rawText)
	lines := strings.Split(trimmed, "\n")
	head := firstLines(rawText, 5)

	for _, pattern := range navigationTitles {
		if pattern.MatchString(head) {
			return true
		}
	}

	dotLeaderCount := 0
	for _, line := range lines {
		if dotLeaderPattern.MatchString(line) {
			dotLeaderCount++
		}
	}
	if len(lines) > 5 && float64(dotLeaderCount)/float64(len(lines)) > 0.4 {
		return true
	}

	if bibliographyPattern.MatchString(head) {
		return true
	}
	if pageNum == 1 && len(lines) < 10 {
		return true
	}
	if len(trimmed) < 50 {
		return true
	}
	return false
}

func hasTableKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, pattern := range tableKeywordPatterns {
		if pattern.MatchString(lower) {
			return true
		}
	}
	return false
}

func hasAppendixKeyword(text string) bool {
	return appendixPattern.MatchString(firstLines(text, 5))
}

// hasColumnNumbering looks for at least two distinct parenthesized
// small integers, the signature of numbered table columns.
func hasColumnNumbering(text string) bool {
	matches := columnNumberPattern.FindAllString(text, -1)
	distinct := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		distinct[strings.ReplaceAll(m, " ", "")] = struct{}{}
	}
	return len(distinct) >= 2
}

// ClassifyPage labels one page of extracted text. Test order matters:
// exclusion wins over everything, then keyword and structural signals
// combine per the decision table. A page with no extractable text at
// all is image-only.
func ClassifyPage(rawText string, pageNum int) PageClass {
	if strings.TrimSpace(rawText) == "" {
		return PageClass{ImageOnly: true, Reason: ReasonImageOnly}
	}
	if isExcludedPage(rawText, pageNum) {
		return PageClass{Excluded: true, Reason: ReasonExcluded}
	}

	tableKw := hasTableKeyword(rawText)
	appendixKw := hasAppendixKeyword(rawText)
	anyKeyword := tableKw || appendixKw
	structure := hasColumnNumbering(rawText)

	switch {
	case anyKeyword && structure:
		reason := ReasonTableStructure
		if !tableKw {
			reason = ReasonAppendixStructure
		}
		return PageClass{IsTable: true, Reason: reason}
	case structure:
		return PageClass{IsTable: true, Reason: ReasonStructureOnly}
	case anyKeyword:
		return PageClass{Reason: ReasonKeywordNoStruct}
	default:
		return PageClass{Reason: ReasonNoSignals}
	}
}
