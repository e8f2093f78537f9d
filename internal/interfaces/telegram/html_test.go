package telegram

import (
	"strings"
	"testing"
)

func TestRenderHTML(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"plain words", []string{"plain words"}},
		{"**bold** and *italic*", []string{"<b>bold</b>", "<i>italic</i>"}},
		{"`x < y`", []string{"<code>x &lt; y</code>"}},
		{"```\nif a < b {\n}\n```", []string{"<pre>if a &lt; b {\n}\n</pre>"}},
		{"# Title\nbody", []string{"<b>Title</b>"}},
		{"[site](https://example.com)", []string{`<a href="https://example.com">site</a>`}},
		{"- one\n- two", []string{"• one", "• two"}},
	}
	for _, tc := range cases {
		got := RenderHTML(tc.in)
		for _, want := range tc.want {
			if !strings.Contains(got, want) {
				t.Errorf("RenderHTML(%q) = %q, missing %q", tc.in, got, want)
			}
		}
	}
}

func TestRenderHTMLEscapesRawTags(t *testing.T) {
	got := RenderHTML("use <script> never")
	if strings.Contains(got, "<script>") {
		t.Errorf("raw tag leaked: %q", got)
	}
	if !strings.Contains(got, "&lt;script&gt;") {
		t.Errorf("tag not escaped: %q", got)
	}
}

func TestChunkShortPassthrough(t *testing.T) {
	chunks := Chunk("hello")
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestChunkPrefersParagraphBoundary(t *testing.T) {
	first := strings.Repeat("a", 3000)
	second := strings.Repeat("b", 3000)
	chunks := Chunk(first + "\n\n" + second)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if chunks[0] != first || chunks[1] != second {
		t.Errorf("split off boundary: len(%d), len(%d)", len(chunks[0]), len(chunks[1]))
	}
}

func TestChunkHardCutWithoutBoundaries(t *testing.T) {
	text := strings.Repeat("x", MessageLimit+100)
	chunks := Chunk(text)
	if len(chunks) != 2 || len(chunks[0]) != MessageLimit || len(chunks[1]) != 100 {
		t.Errorf("chunks lens = %d", len(chunks))
	}
}
