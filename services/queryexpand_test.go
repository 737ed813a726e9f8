package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandQueryAcronyms(t *testing.T) {
	got := ExpandQuery("Berapa NTP bulan ini?", nil)
	assert.Equal(t, "Berapa NTP bulan ini? nilai tukar petani", got)
}

func TestExpandQueryAppendsYears(t *testing.T) {
	got := ExpandQuery("pertumbuhan ekonomi", []int{2022, 2023})
	assert.Equal(t, "pertumbuhan ekonomi 2022 2023", got)
}

func TestExpandQueryNoOp(t *testing.T) {
	prompt := "bagaimana cuaca hari ini"
	assert.Equal(t, prompt, ExpandQuery(prompt, nil))
}

func TestExtractYears(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		want   []int
	}{
		{"single year", "data IPM tahun 2023", []int{2023}},
		{"multiple years", "bandingkan 2021 dan 2023", []int{2021, 2022, 2023}},
		{"indonesian range", "inflasi 2020 sampai 2023", []int{2020, 2021, 2022, 2023}},
		{"hyphen range", "TPT 2022-2024", []int{2022, 2023, 2024}},
		{"duplicates collapse", "tahun 2023, lagi 2023", []int{2023}},
		{"no years", "berapa jumlah penduduk", []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractYears(tt.prompt))
		})
	}
}
