package render

import (
	"strings"
	"testing"
)

func TestRenderHeadingsAndTables(t *testing.T) {
	out, err := NewRenderer().Render("# Kontrata\n\n| Pala | Roli |\n|---|---|\n| A | Qiradhënës |\n")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, `<h1 id="kontrata">Kontrata</h1>`) {
		t.Fatalf("missing heading: %s", out)
	}
	if !strings.Contains(out, "<table>") {
		t.Fatalf("missing table: %s", out)
	}
}

func TestRenderEscapesRawHTML(t *testing.T) {
	out, err := NewRenderer().Render("<script>alert(1)</script>")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(out, "<script>") {
		t.Fatalf("raw html leaked: %s", out)
	}
}

func TestRenderEmpty(t *testing.T) {
	out, err := NewRenderer().Render("")
	if err != nil || out != "" {
		t.Fatalf("Render(\"\") = %q, %v", out, err)
	}
}
