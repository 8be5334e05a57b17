package cli

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseMessages(t *testing.T) {
	want := []string{"My wife Lena loves sushi", "We're going to Tokyo"}

	tests := []struct {
		name     string
		filename string
		data     string
	}{
		{"text", "messages.txt", "My wife Lena loves sushi\n\n# comment\nWe're going to Tokyo\n"},
		{"no extension", "", "  My wife Lena loves sushi  \nWe're going to Tokyo"},
		{"yaml list", "m.yaml", "- My wife Lena loves sushi\n- We're going to Tokyo\n"},
		{"yaml object", "m.yml", "messages:\n  - My wife Lena loves sushi\n  - \"\"\n  - We're going to Tokyo\n"},
		{"json list", "m.json", `["My wife Lena loves sushi", "We're going to Tokyo"]`},
		{"json object", "m.json", `{"messages": ["My wife Lena loves sushi", "We're going to Tokyo"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMessages([]byte(tt.data), tt.filename)
			if err != nil {
				t.Fatalf("ParseMessages error: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("ParseMessages = %q, want %q", got, want)
			}
		})
	}
}

func TestParseMessages_Invalid(t *testing.T) {
	if _, err := ParseMessages([]byte(`{"messages": 3}`), "m.json"); err == nil {
		t.Error("ParseMessages should fail for malformed JSON")
	}
	if _, err := ParseMessages([]byte("messages: [a, b"), "m.yaml"); err == nil {
		t.Error("ParseMessages should fail for malformed YAML")
	}
}

func TestLoadMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.txt")
	if err := os.WriteFile(path, []byte("hello\nworld\n"), 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	got, err := LoadMessages(path)
	if err != nil {
		t.Fatalf("LoadMessages error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"hello", "world"}) {
		t.Errorf("LoadMessages = %q", got)
	}

	if _, err := LoadMessages(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("LoadMessages should fail for a missing file")
	}
}
