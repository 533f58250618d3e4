package chunker_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/knowme/internal/chunker"
	"github.com/fyrsmithlabs/knowme/internal/parser"
)

func TestChunker_Paragraphs(t *testing.T) {
	c := chunker.New(chunker.Config{}, nil)

	chunks := c.Chunk("book.pdf", []parser.Page{
		{Number: 1, Text: "Cats are mammals.\n\n  \n\nIllustration 3: a cat"},
		{Number: 2, Text: "See Exhibit A.\n\nQuestions for practice\n\nPlain paragraph."},
	})

	want := []chunker.Chunk{
		{Content: "Cats are mammals.", Page: 1, Source: "book.pdf", Type: chunker.TypeText},
		{Content: "Illustration 3: a cat", Page: 1, Source: "book.pdf", Type: chunker.TypeIllustration},
		{Content: "See Exhibit A.", Page: 2, Source: "book.pdf", Type: chunker.TypeExhibit},
		{Content: "Questions for practice", Page: 2, Source: "book.pdf", Type: chunker.TypeQuestion},
		{Content: "Plain paragraph.", Page: 2, Source: "book.pdf", Type: chunker.TypeText},
	}
	assert.Equal(t, want, chunks)
}

func TestChunker_LongParagraphSplitsOnSentences(t *testing.T) {
	c := chunker.New(chunker.Config{TextLimit: 40, FlexLimit: 50}, nil)

	para := "First sentence is here. Second one follows! Is this the third? Yes it is."
	chunks := c.Chunk("a.txt", []parser.Page{{Number: 4, Text: para}})

	require.NotEmpty(t, chunks)
	var joined []string
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Content), 40)
		assert.Equal(t, 4, ch.Page)
		joined = append(joined, ch.Content)
	}
	assert.Equal(t, para, strings.Join(joined, " "))
	assert.Equal(t, "First sentence is here.", chunks[0].Content)
}

func TestChunker_OversizedSentenceKept(t *testing.T) {
	c := chunker.New(chunker.Config{TextLimit: 20, FlexLimit: 25}, nil)

	long := strings.Repeat("word ", 10) + "end."
	chunks := c.Chunk("a.txt", []parser.Page{{Number: 1, Text: long + " Short tail."}})

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.TrimSpace(long), chunks[0].Content)
	assert.Equal(t, "Short tail.", chunks[1].Content)
}

func TestChunker_DropsDuplicates(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := chunker.New(chunker.Config{}, zap.New(core))

	chunks := c.Chunk("a.pdf", []parser.Page{
		{Number: 1, Text: "Same   Text here"},
		{Number: 2, Text: "same text\nhere\n\nother"},
	})

	require.Len(t, chunks, 2)
	assert.Equal(t, "Same   Text here", chunks[0].Content)
	assert.Equal(t, "other", chunks[1].Content)
	assert.Equal(t, 1, logs.FilterMessage("skipped duplicate chunk").Len())
}

func TestChunker_Tables(t *testing.T) {
	header := []string{"Name", "Age"}

	tests := []struct {
		name  string
		pages []parser.Page
		want  []chunker.Chunk
	}{
		{
			name: "single table",
			pages: []parser.Page{
				{Number: 3, Tables: [][][]string{{header, {"Ann", "30"}}}},
			},
			want: []chunker.Chunk{
				{Content: "| Name | Age |\n|-|-|\n| Ann | 30 |", Page: 3, Source: "t.pdf", Type: chunker.TypeTable},
			},
		},
		{
			name: "merged across consecutive pages",
			pages: []parser.Page{
				{Number: 1, Tables: [][][]string{{header, {"Ann", "30"}}}},
				{Number: 2, Tables: [][][]string{{header, {"Bob", "41"}}}},
			},
			want: []chunker.Chunk{
				{Content: "| Name | Age |\n|-|-|\n| Ann | 30 |\n| Bob | 41 |", Page: 1, Source: "t.pdf", Type: chunker.TypeTable},
			},
		},
		{
			name: "gap in pages starts a new table",
			pages: []parser.Page{
				{Number: 1, Tables: [][][]string{{header, {"Ann", "30"}}}},
				{Number: 3, Tables: [][][]string{{header, {"Bob", "41"}}}},
			},
			want: []chunker.Chunk{
				{Content: "| Name | Age |\n|-|-|\n| Ann | 30 |", Page: 1, Source: "t.pdf", Type: chunker.TypeTable},
				{Content: "| Name | Age |\n|-|-|\n| Bob | 41 |", Page: 3, Source: "t.pdf", Type: chunker.TypeTable},
			},
		},
		{
			name: "single column header skipped",
			pages: []parser.Page{
				{Number: 1, Tables: [][][]string{{{"Only"}, {"x"}}}},
			},
			want: nil,
		},
		{
			name: "empty rows skipped",
			pages: []parser.Page{
				{Number: 1, Tables: [][][]string{{header, {" ", ""}}}},
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := chunker.New(chunker.Config{}, nil)
			assert.Equal(t, tt.want, c.Chunk("t.pdf", tt.pages))
		})
	}
}

func TestChunker_LargeTableHalved(t *testing.T) {
	c := chunker.New(chunker.Config{TableLimit: 60}, nil)

	table := [][]string{{"k", "v"}}
	for _, row := range []string{"a", "b", "c", "d"} {
		table = append(table, []string{row, strings.Repeat(row, 10)})
	}
	chunks := c.Chunk("t.pdf", []parser.Page{{Number: 2, Tables: [][][]string{table}}})

	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(chunks[0].Content, "| k | v |\n|-|-|\n| a |"))
	assert.Contains(t, chunks[1].Content, "| c |")
	assert.NotContains(t, chunks[1].Content, "| a |")
	for _, ch := range chunks {
		assert.Equal(t, 2, ch.Page)
		assert.Equal(t, chunker.TypeTable, ch.Type)
	}
}
