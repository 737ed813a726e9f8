package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// filler pads a page past the exclusion thresholds without tripping
// any table signal.
func filler(lines int) string {
	var b strings.Builder
	for i := 0; i < lines; i++ {
		b.WriteString("Perekonomian daerah menunjukkan pertumbuhan yang stabil sepanjang periode pengamatan.\n")
	}
	return b.String()
}

func TestClassifyPageImageOnly(t *testing.T) {
	cls := ClassifyPage("   \n\t  ", 12)
	assert.True(t, cls.ImageOnly)
	assert.False(t, cls.IsTable)
	assert.Equal(t, ReasonImageOnly, cls.Reason)
}

func TestClassifyPageExclusions(t *testing.T) {
	tests := []struct {
		name string
		text string
		page int
	}{
		{"table of contents heading", "DAFTAR ISI\n" + filler(12), 3},
		{"list of tables heading", "Daftar Tabel\n" + filler(12), 4},
		{"bibliography heading", "Daftar Pustaka\n" + filler(12), 90},
		{"short cover page", "Statistik Daerah 2024\nBadan Pusat Statistik\nKatalog 1101\nISSN 123\nNomor 5\nRilis\nFoto\nDesain\nCetak", 1},
		{"too little text", "Halaman kosong.", 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := ClassifyPage(tt.text, tt.page)
			assert.True(t, cls.Excluded, "expected exclusion")
			assert.Equal(t, ReasonExcluded, cls.Reason)
		})
	}
}

func TestClassifyPageDotLeaderIndex(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 8; i++ {
		b.WriteString("Tabel 2.1 Penduduk menurut kelompok umur ................ 15\n")
	}
	b.WriteString("Penutup\nLampiran\n")

	cls := ClassifyPage(b.String(), 7)
	assert.True(t, cls.Excluded)
}

func TestClassifyPageDecisionTable(t *testing.T) {
	structure := "(1) (2) (3)\nGorontalo 120 450\nBoalemo 80 300\n"

	tests := []struct {
		name       string
		text       string
		wantTable  bool
		wantReason string
	}{
		{
			"keyword with structure",
			"Tabel 2.1 Jumlah Penduduk\n" + structure + filler(5),
			true, ReasonTableStructure,
		},
		{
			"appendix with structure",
			"Lampiran 3 Rincian Anggaran\n" + structure + filler(5),
			true, ReasonAppendixStructure,
		},
		{
			"structure without keyword",
			filler(3) + structure,
			true, ReasonStructureOnly,
		},
		{
			"keyword without structure",
			"Tabel 4.2 Ringkasan\n" + filler(8),
			false, ReasonKeywordNoStruct,
		},
		{
			"plain narrative",
			filler(8),
			false, ReasonNoSignals,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := ClassifyPage(tt.text, 25)
			assert.Equal(t, tt.wantTable, cls.IsTable)
			assert.Equal(t, tt.wantReason, cls.Reason)
			assert.False(t, cls.Excluded)
		})
	}
}

func TestColumnNumberingNeedsTwoDistinctMarkers(t *testing.T) {
	repeated := "(1) uraian (1) uraian ( 1 ) uraian\n" + filler(8)
	cls := ClassifyPage(repeated, 25)
	assert.False(t, cls.IsTable, "repeats of one marker are not column numbering")

	spaced := "( 1 ) ( 2 )\n" + filler(8)
	cls = ClassifyPage(spaced, 25)
	assert.True(t, cls.IsTable, "whitespace inside markers must not hide them")
}

func TestCleanPageText(t *testing.T) {
	raw := "  Judul   Halaman  \n\n\n   Baris    kedua \t disini \n"
	assert.Equal(t, "Judul Halaman\nBaris kedua disini", CleanPageText(raw))
}
