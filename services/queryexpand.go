package services

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Acronyms common in the statistics corpus. Queries using the short
// form embed poorly against releases written with the long form.
var acronymDictionary = map[string]string{
	"ntp": "nilai tukar petani",
	"ipm": "indeks pembangunan manusia",
	"ihk": "indeks harga konsumen",
	"pdb": "produk domestik bruto",
	"pph": "perkembangan pariwisata dan hotel",
	"tpt": "tingkat pengangguran terbuka",
	"ikg": "indeks ketimpangan gender",
}

var (
	wordPattern      = regexp.MustCompile(`\b\w+\b`)
	yearRangePattern = regexp.MustCompile(`(?i)\b(20\d{2})\s*(?:hingga|sampai|ke|dan|-)\s*(20\d{2})\b`)
	yearPattern      = regexp.MustCompile(`\b(20\d{2})\b`)
)

// ExpandQuery appends the long form of any known acronym, and the
// requested years as extra terms, biasing similarity toward releases
// that spell things out.
func ExpandQuery(prompt string, years []int) string {
	var extra []string
	for _, word := range wordPattern.FindAllString(strings.ToLower(prompt), -1) {
		if long, ok := acronymDictionary[word]; ok {
			extra = append(extra, long)
		}
	}
	for _, year := range years {
		extra = append(extra, strconv.Itoa(year))
	}
	if len(extra) == 0 {
		return prompt
	}
	return prompt + " " + strings.Join(extra, " ")
}

// ExtractYears pulls requested years out of a prompt, expanding ranges
// like "2020 sampai 2023". Returned sorted and deduplicated.
func ExtractYears(prompt string) []int {
	seen := make(map[int]struct{})

	if m := yearRangePattern.FindStringSubmatch(prompt); m != nil {
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		for y := start; y <= end; y++ {
			seen[y] = struct{}{}
		}
	}
	for _, m := range yearPattern.FindAllString(prompt, -1) {
		y, _ := strconv.Atoi(m)
		seen[y] = struct{}{}
	}

	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}
