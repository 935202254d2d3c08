package extract_test

import (
	"testing"

	"github.com/arcware-labs/metaproto/extract"
)

func TestBlockJSON(t *testing.T) {
	text := "Here is my answer:\n\n```json\n{\"status\":\"accepted\"}\n```\n\nLet me know if you have questions."
	got := extract.Block(text, extract.LangJSON)
	want := `{"status":"accepted"}`
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestBlockLastFenceWins(t *testing.T) {
	text := "```json\n{\"a\":1}\n```\nsome words\n```json\n{\"a\":2}\n```"
	got := extract.Block(text, extract.LangJSON)
	want := `{"a":2}`
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestBlockPython(t *testing.T) {
	text := "```python\ndef add(a, b):\n    return a + b\n```"
	got := extract.Block(text, extract.LangPython)
	want := "def add(a, b):\n    return a + b"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestBlockNoLangTag(t *testing.T) {
	text := "```\nplain fenced text\n```"
	got := extract.Block(text, extract.LangAny)
	if got != "plain fenced text" {
		t.Errorf("got %q want %q", got, "plain fenced text")
	}
}

func TestBlockMissingReturnsNone(t *testing.T) {
	if got := extract.Block("no fences here at all", extract.LangJSON); got != extract.None {
		t.Errorf("got %q want None", got)
	}
}

func TestBlockUnclosedFenceReturnsNone(t *testing.T) {
	text := "```json\n{\"status\":\"accepted\""
	if got := extract.Block(text, extract.LangJSON); got != extract.None {
		t.Errorf("got %q want None", got)
	}
}

func TestBlockWrongLangReturnsNone(t *testing.T) {
	text := "```python\nprint(1)\n```"
	if got := extract.Block(text, extract.LangJSON); got != extract.None {
		t.Errorf("got %q want None", got)
	}
}
