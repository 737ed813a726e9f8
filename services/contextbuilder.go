package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"regional-stats-chatbot/models"
)

// emptyContextNote is returned when retrieval found nothing at all.
const emptyContextNote = "Tidak ditemukan data yang relevan. Mohon informasikan kepada pengguna."

// BuildContext renders the final result set into the bounded context
// block handed to the generator. News is grouped by release year,
// newest year first; fragments are grouped per document, pages
// ascending. Requested years with no surviving news are flagged
// explicitly so the generator knows not to fabricate them.
func BuildContext(results []Retrieved, requestedYears []int) string {
	if len(results) == 0 {
		return emptyContextNote
	}

	var news []*models.NewsItem
	var frags []*models.ContentFragment
	for _, r := range results {
		if r.News != nil {
			news = append(news, r.News)
		} else if r.Fragment != nil {
			frags = append(frags, r.Fragment)
		}
	}

	var b strings.Builder

	if len(news) > 0 {
		b.WriteString("--- KONTEKS DARI BERITA RESMI STATISTIK ---\n\n")
		writeNewsByYear(&b, news)
	}
	if len(frags) > 0 {
		b.WriteString("--- KONTEKS DARI DOKUMEN PDF ---\n\n")
		writeFragmentsByDocument(&b, frags)
	}

	if missing := missingYears(news, requestedYears); missing != "" {
		b.WriteString(fmt.Sprintf(
			"CATATAN UNTUK AI: Data berita untuk tahun %s tidak ditemukan. Anda wajib memberitahu pengguna.\n\n",
			missing))
	}

	b.WriteString("--- AKHIR DARI KONTEKS ---\n\n")
	return b.String()
}

func writeNewsByYear(b *strings.Builder, news []*models.NewsItem) {
	byYear := make(map[int][]*models.NewsItem)
	for _, item := range news {
		year := item.ReleaseDate.Year()
		byYear[year] = append(byYear[year], item)
	}

	years := make([]int, 0, len(byYear))
	for year := range byYear {
		years = append(years, year)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))

	for _, year := range years {
		items := byYear[year]
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].ReleaseDate.After(items[j].ReleaseDate)
		})

		fmt.Fprintf(b, "### Berita Tahun %d ###\n", year)
		for _, item := range items {
			fmt.Fprintf(b, "**Judul:** %s\n", item.Title)
			fmt.Fprintf(b, "**Tanggal Rilis:** %s\n", item.ReleaseDate.Format("2006-01-02"))
			fmt.Fprintf(b, "**Ringkasan:** %s\n", item.Summary)
			if item.Link != "" {
				fmt.Fprintf(b, "**Link:** %s\n", item.Link)
			}
			b.WriteString("\n")
		}
	}
}

func writeFragmentsByDocument(b *strings.Builder, frags []*models.ContentFragment) {
	type docGroup struct {
		name  string
		link  string
		year  int
		frags []*models.ContentFragment
	}

	groups := make(map[string]*docGroup)
	var order []string
	for _, frag := range frags {
		key := frag.DocumentID.String()
		g := groups[key]
		if g == nil {
			doc := models.SourceDocument{DisplayName: frag.DocumentName}
			g = &docGroup{name: frag.DocumentName, link: frag.DocumentLink, year: doc.Year()}
			groups[key] = g
			order = append(order, key)
		}
		g.frags = append(g.frags, frag)
	}

	// Documents ordered by the year parsed from their name ascending,
	// ties alphabetically, so multi-year report series read in order.
	sort.SliceStable(order, func(i, j int) bool {
		gi, gj := groups[order[i]], groups[order[j]]
		if gi.year != gj.year {
			return gi.year < gj.year
		}
		return gi.name < gj.name
	})

	for _, key := range order {
		g := groups[key]
		sort.SliceStable(g.frags, func(i, j int) bool {
			return g.frags[i].PageNumber < g.frags[j].PageNumber
		})

		fmt.Fprintf(b, "### Dokumen: %s ###\n", g.name)
		if g.link != "" {
			fmt.Fprintf(b, "**Link:** %s\n", g.link)
		}
		for _, frag := range g.frags {
			fmt.Fprintf(b, "**Halaman %d:**\n%s\n\n", frag.PageNumber, frag.Body())
		}
	}
}

func missingYears(news []*models.NewsItem, requestedYears []int) string {
	if len(requestedYears) == 0 {
		return ""
	}
	found := make(map[int]struct{}, len(news))
	for _, item := range news {
		found[item.ReleaseDate.Year()] = struct{}{}
	}

	var missing []string
	for _, year := range requestedYears {
		if _, ok := found[year]; !ok {
			missing = append(missing, strconv.Itoa(year))
		}
	}
	return strings.Join(missing, ", ")
}

// Exchange is one prior question/answer pair from the session.
type Exchange struct {
	Question string
	Answer   string
}

func validExchange(e Exchange) bool {
	answer := strings.ToLower(strings.TrimSpace(e.Answer))
	return e.Question != "" && answer != "" &&
		!strings.HasPrefix(answer, "error") &&
		!strings.HasPrefix(answer, "data:")
}

// FormatHistory renders up to the last two valid exchanges. Follow-up
// questions ("what did I just ask?") only need the immediate tail, and
// more history crowds out data context.
func FormatHistory(history []Exchange) string {
	var valid []Exchange
	for _, e := range history {
		if validExchange(e) {
			valid = append(valid, e)
		}
	}
	if len(valid) == 0 {
		return ""
	}

	var b strings.Builder
	if len(valid) >= 2 {
		recent := valid[len(valid)-2:]
		b.WriteString("### Dua Interaksi Terakhir ###\n\n")
		for i, e := range recent {
			indicator := "SEBELUMNYA"
			if i == len(recent)-1 {
				indicator = "PERTANYAAN TERAKHIR"
			}
			fmt.Fprintf(&b, "**%s:** %s\n", indicator, e.Question)
			fmt.Fprintf(&b, "**JAWABAN:** %s\n\n", e.Answer)
		}
	} else {
		e := valid[len(valid)-1]
		b.WriteString("### Interaksi Terakhir ###\n\n")
		fmt.Fprintf(&b, "**PERTANYAAN:** %s\n", e.Question)
		fmt.Fprintf(&b, "**JAWABAN:** %s\n\n", e.Answer)
	}
	return b.String()
}

// BuildPrompt assembles the final generation prompt: persona, history,
// data context and the presentation rules the generator must follow.
func BuildPrompt(context, userPrompt, historyContext string) string {
	return fmt.Sprintf(`
Kamu adalah Asisten AI Data Statistik Daerah. Misi utama kamu adalah menyajikan data secara akurat dan dalam format yang paling mudah dibaca.

%s

--- Konteks Data Relevan (Sumber Utama Jawaban) ---
%s
--- Akhir Konteks Data ---

**Pertanyaan Pengguna:** %s

---
## ATURAN WAJIB DIIKUTI

### Bagian A: Logika Interaksi & Percakapan

1. Jika pengguna bertanya "apa yang saya tanyakan tadi?" atau variasi serupa, WAJIB merujuk HANYA pada PERTANYAAN TERAKHIR sebelum pertanyaan ini. Abaikan 'Konteks Data' dan fokus hanya pada riwayat percakapan.
2. Jika pertanyaan hanya sapaan (contoh: "halo", "selamat pagi"), abaikan 'Konteks Data' dan jawab dengan singkat dan ramah.

### Bagian B: Aturan Format & Penyajian Data

1. Tabel dalam konteks mungkin memiliki header dengan beberapa tingkat. Gabungkan semua tingkat menjadi satu header kolom yang deskriptif, dipisahkan tanda hubung. Jangan pernah memperlakukan header sebagai baris data.
2. Jika "Konteks Data" berisi beberapa halaman dari dokumen yang sama, data tersebut saling berkaitan. WAJIB menampilkan informasi dari SEMUA halaman tersebut secara berurutan.
3. Sajikan data dari setiap halaman yang relevan secara terpisah di bawah sub-judul yang jelas (contoh: **Data dari Halaman 133**). JANGAN menggabungkannya menjadi satu tabel besar. Jika data berbentuk tabel, WAJIB gunakan format tabel Markdown.
4. Setelah menampilkan data, WAJIB menyertakan teks penjelasan seperti "Catatan/Note" dan "Sumber/Source" yang ada di dalam konteks, di bawah sub-judul "Catatan Tambahan".
5. Di awal jawaban, sebutkan nama file dan rentang halaman yang digunakan.
6. Jawabanmu HARUS didasarkan HANYA pada "Konteks Data Relevan".
7. Jika 'Konteks Data' menyediakan Link untuk dokumen atau berita yang digunakan, WAJIB menampilkannya di bawah judul "Sumber Digital".
`, historyContext, context, userPrompt)
}
