package msgcat

import (
    "os"
    "path/filepath"
    "strings"
    "testing"
)

func TestEmbeddedCatalogRenders(t *testing.T) {
    c, err := New("")
    if err != nil { t.Fatalf("New: %v", err) }

    out, err := c.Render("party.roster", map[string]any{
        "Proposer": "Alice", "Game": "chess", "Count": 2, "Max": 3,
        "Names": []string{"Alice", "Bob"}, "Prefix": "!", "Code": "ABC123",
    })
    if err != nil { t.Fatalf("Render: %v", err) }
    for _, want := range []string{"(2/3)", "1. Alice", "2. Bob", "!참가 ABC123"} {
        if !strings.Contains(out, want) { t.Fatalf("roster missing %q:\n%s", want, out) }
    }
}

func TestMissingKeyIsAnError(t *testing.T) {
    c, err := New("")
    if err != nil { t.Fatalf("New: %v", err) }
    if _, err := c.Render("rating.show", map[string]any{"Name": "x"}); err == nil {
        t.Fatalf("expected missing template data to fail")
    }
    if got := c.Text("does.not.exist", nil); got != "does.not.exist" {
        t.Fatalf("Text fallback = %q", got)
    }
}

func TestOverrideDir(t *testing.T) {
    dir := t.TempDir()
    body := "rating:\n  show: \"{{.Name}}={{.Value}}\"\n"
    if err := os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(body), 0o644); err != nil {
        t.Fatalf("write: %v", err)
    }
    c, err := New(dir)
    if err != nil { t.Fatalf("New: %v", err) }
    out := c.Text("rating.show", map[string]any{"Name": "bob", "Value": 1016, "Game": "chess"})
    if out != "bob=1016" { t.Fatalf("override not applied: %q", out) }
    if !c.Has("help") { t.Fatalf("embedded keys should survive overrides") }
}

func TestDuplicateOverrideKeysRejected(t *testing.T) {
    dir := t.TempDir()
    for _, n := range []string{"a.yaml", "b.yml"} {
        if err := os.WriteFile(filepath.Join(dir, n), []byte("help: x\n"), 0o644); err != nil {
            t.Fatalf("write: %v", err)
        }
    }
    if _, err := New(dir); err == nil {
        t.Fatalf("expected duplicate key error")
    }
}
