package chunker

import (
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// addTable starts a new pending table or extends the pending one when the
// header repeats on the next page.
func (r *run) addTable(page int, table [][]string) {
	if len(table) == 0 || len(table[0]) == 0 {
		return
	}
	header := table[0]

	if p := r.pending; p != nil && slices.Equal(p.header, header) && p.pages[len(p.pages)-1]+1 == page {
		p.rows = append(p.rows, table[1:]...)
		p.pages = append(p.pages, page)
		return
	}

	r.flushTable()
	r.pending = &pendingTable{
		header: header,
		rows:   slices.Clone(table[1:]),
		pages:  []int{page},
	}
}

func (r *run) flushTable() {
	p := r.pending
	if p == nil {
		return
	}
	r.pending = nil

	if len(p.header) <= 1 || !hasContent(p.rows) {
		r.logger.Warn("skipped incomplete table",
			zap.String("source", r.source),
			zap.Ints("pages", p.pages),
			zap.Strings("header", p.header))
		return
	}

	page := firstPage(p.pages)
	content := renderTable(p.header, p.rows)
	if utf8.RuneCountInString(content) <= r.cfg.TableLimit {
		r.emit(Chunk{Content: content, Page: page, Type: TypeTable})
		return
	}

	mid := len(p.rows) / 2
	for _, part := range [][][]string{p.rows[:mid], p.rows[mid:]} {
		r.emit(Chunk{Content: renderTable(p.header, part), Page: page, Type: TypeTable})
	}
}

func hasContent(rows [][]string) bool {
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				return true
			}
		}
	}
	return false
}

// firstPage returns the smallest positive page, or 1.
func firstPage(pages []int) int {
	best := 0
	for _, p := range pages {
		if p > 0 && (best == 0 || p < best) {
			best = p
		}
	}
	if best == 0 {
		return 1
	}
	return best
}

// renderTable formats rows as a markdown table.
func renderTable(header []string, rows [][]string) string {
	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("| ")
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString(" |\n")
	}

	writeRow(header)
	b.WriteString("|")
	b.WriteString(strings.Repeat("-|", len(header)))
	b.WriteString("\n")
	for _, row := range rows {
		writeRow(row)
	}
	return strings.TrimSpace(b.String())
}
