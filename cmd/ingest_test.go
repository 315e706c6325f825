package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseTags(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", pairs: nil, want: nil},
		{name: "single", pairs: []string{"team=platform"}, want: map[string]string{"team": "platform"}},
		{
			name:  "value with equals",
			pairs: []string{"query=a=b"},
			want:  map[string]string{"query": "a=b"},
		},
		{name: "missing value separator", pairs: []string{"team"}, wantErr: true},
		{name: "empty key", pairs: []string{"=platform"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTags(tt.pairs)
			if tt.wantErr {
				if err == nil {
					t.Fatal("parseTags() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTags() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseTags() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("tag %q = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestReadContentFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adr.md")
	if err := os.WriteFile(path, []byte("Use event sourcing"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := readContent(path)
	if err != nil {
		t.Fatalf("readContent() error = %v", err)
	}
	if got != "Use event sourcing" {
		t.Errorf("readContent() = %q", got)
	}

	if _, err := readContent(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Error("readContent() error = nil for missing file")
	}
}
