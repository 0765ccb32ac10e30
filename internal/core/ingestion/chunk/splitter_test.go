package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_SlidingWindow(t *testing.T) {
	chunks, err := Split("abcdefghij", 4, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	expected := []struct {
		text       string
		start, end int
	}{
		{"abcd", 0, 4},
		{"defg", 3, 7},
		{"ghij", 6, 10},
	}
	for i, e := range expected {
		assert.Equal(t, i, chunks[i].ID())
		assert.Equal(t, e.text, chunks[i].Text())
		assert.Equal(t, e.start, chunks[i].Start())
		assert.Equal(t, e.end, chunks[i].End())
	}
}

func TestSplit_CoversWholeText(t *testing.T) {
	text := strings.Repeat("Leitlinie Therapie ", 137)
	length := len([]rune(text))

	for _, tc := range []struct{ size, overlap int }{
		{1200, 200}, {100, 0}, {50, 49}, {7, 3}, {5000, 10},
	} {
		chunks, err := Split(text, tc.size, tc.overlap)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)

		assert.Equal(t, 0, chunks[0].Start())
		assert.Equal(t, length, chunks[len(chunks)-1].End())
		for i := 1; i < len(chunks); i++ {
			// 隙間なく overlap 文字だけ重なる
			assert.Equal(t, chunks[i-1].End()-tc.overlap, chunks[i].Start())
			assert.LessOrEqual(t, chunks[i].Start(), chunks[i-1].End())
		}
		for _, c := range chunks {
			assert.LessOrEqual(t, c.End()-c.Start(), tc.size)
			assert.Less(t, c.Start(), c.End())
		}
	}
}

func TestSplit_TrimsTextButKeepsOffsets(t *testing.T) {
	chunks, err := Split("  ab  cd  ", 5, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "ab", chunks[0].Text())
	assert.Equal(t, 0, chunks[0].Start())
	assert.Equal(t, 5, chunks[0].End())
	assert.Equal(t, "cd", chunks[1].Text())
	assert.Equal(t, 5, chunks[1].Start())
	assert.Equal(t, 10, chunks[1].End())
}

func TestSplit_CountsCharactersNotBytes(t *testing.T) {
	chunks, err := Split("Übelkeit", 4, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Übel", chunks[0].Text())
	assert.Equal(t, "keit", chunks[1].Text())
}

func TestSplit_ChunksMatchConstructor(t *testing.T) {
	for _, text := range []string{"abcdefghij", "     \n\n   Fieber", "Übelkeit und Erbrechen", " "} {
		chunks, err := Split(text, 4, 1)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)

		for i, c := range chunks {
			want, err := NewChunk(i, c.Text(), c.Start(), c.End(), nil)
			require.NoError(t, err)
			assert.Equal(t, want, c)
		}
	}
}

func TestSplit_ShortAndEmptyText(t *testing.T) {
	chunks, err := Split("abc", 10, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Start())
	assert.Equal(t, 3, chunks[0].End())

	chunks, err = Split("", 10, 2)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		field   string
	}{
		{"zero size", 0, 0, "size"},
		{"negative size", -5, 0, "size"},
		{"negative overlap", 10, -1, "overlap"},
		{"overlap equals size", 10, 10, "overlap"},
		{"overlap exceeds size", 10, 11, "overlap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Split("some text", tt.size, tt.overlap)
			require.Error(t, err)
			assert.Nil(t, chunks)
			assert.ErrorIs(t, err, ErrInvalidConfig)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestSplitDocument_AttributesPages(t *testing.T) {
	doc := Document{Pages: []Page{
		{Number: 1, Text: "aaaa"},
		{Number: 2, Text: "bbbb"},
		{Number: 3, Text: "cccc"},
	}}

	// 連結後: "aaaa\n\nbbbb\n\ncccc" (16 文字)
	chunks, err := SplitDocument(doc, Config{Size: 6, Overlap: 2})
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	assert.Equal(t, []int{1}, chunks[0].Pages())    // [0,6)
	assert.Equal(t, []int{2}, chunks[1].Pages())    // [4,10) 区切り文字とページ 2
	assert.Equal(t, []int{2, 3}, chunks[2].Pages()) // [8,14)
	assert.Equal(t, []int{3}, chunks[3].Pages())    // [12,16)
}

func TestSplitDocument_InvalidConfigBeforeWork(t *testing.T) {
	_, err := SplitDocument(Document{Pages: []Page{{Number: 1, Text: "x"}}}, Config{Size: 4, Overlap: 4})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDocumentJoin(t *testing.T) {
	doc := Document{Pages: []Page{{Number: 1, Text: "Seite"}, {Number: 2, Text: ""}, {Number: 3, Text: "drei"}}}
	text, ranges := doc.Join()

	assert.Equal(t, "Seite\n\n\n\ndrei", text)
	assert.Equal(t, []PageRange{
		{Number: 1, Start: 0, End: 5},
		{Number: 2, Start: 7, End: 7},
		{Number: 3, Start: 9, End: 13},
	}, ranges)
}

func TestAttributePages_NoDuplicatesAndSorted(t *testing.T) {
	c, err := NewChunk(0, "x", 0, 10, nil)
	require.NoError(t, err)

	got := AttributePages([]Chunk{c}, []PageRange{
		{Number: 4, Start: 5, End: 8},
		{Number: 2, Start: 0, End: 3},
		{Number: 4, Start: 8, End: 9},
		{Number: 9, Start: 10, End: 12},
	})
	require.Len(t, got, 1)
	assert.Equal(t, []int{2, 4}, got[0].Pages())
	assert.Empty(t, c.Pages())
}

func TestNewChunk_Validation(t *testing.T) {
	_, err := NewChunk(0, "x", 3, 3, nil)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = NewChunk(0, "x", -1, 3, nil)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = NewChunk(0, "x", 0, 3, []int{2, 2})
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = NewChunk(0, "x", 0, 3, []int{0})
	assert.ErrorIs(t, err, ErrInvalidRange)

	c, err := NewChunk(2, "x", 0, 3, []int{1, 5})
	require.NoError(t, err)
	assert.Equal(t, 2, c.ID())
	assert.Equal(t, []int{1, 5}, c.Pages())
}
