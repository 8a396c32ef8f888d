package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func testBase() *Base {
	return &Base{Questions: []Item{
		{Keywords: []string{"服务器", "server"}, Answer: "服务器每周三维护。"},
		{Keywords: []string{"价格", "price"}, Answer: "价格见官网。"},
	}}
}

func TestSearch(t *testing.T) {
	b := testBase()

	tests := []struct {
		query string
		want  string
	}{
		{"请问服务器什么时候维护", "服务器每周三维护。"},
		{"What is the SERVER schedule?", "服务器每周三维护。"},
		{"price list please", "价格见官网。"},
		{"tell me a joke", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := b.Search(tt.query); got != tt.want {
			t.Errorf("Search(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestSearch_FirstMatchWins(t *testing.T) {
	b := testBase()
	if got := b.Search("server price"); got != "服务器每周三维护。" {
		t.Errorf("got %q, want the first item's answer", got)
	}
}

func TestSearch_NilBase(t *testing.T) {
	var b *Base
	if got := b.Search("anything"); got != "" {
		t.Errorf("nil base should match nothing, got %q", got)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knowledge.json")
	content := `{"questions":[{"keywords":["faq"],"answer":"see the pinned message"}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := b.Search("where is the FAQ?"); got != "see the pinned message" {
		t.Errorf("Search = %q", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_BadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knowledge.json")
	if err := os.WriteFile(path, []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
