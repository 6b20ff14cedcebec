package replicate

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestNormalizeOutputShapes(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{
			name: "single string",
			raw:  `"https://weights.example.com/a.safetensors"`,
			want: []string{"https://weights.example.com/a.safetensors"},
		},
		{
			name: "array of strings",
			raw:  `["https://a.example.com/w.zip", "https://b.example.com/w.zip"]`,
			want: []string{"https://a.example.com/w.zip", "https://b.example.com/w.zip"},
		},
		{
			name: "array drops empty entries",
			raw:  `["", "https://a.example.com/w.zip", "  "]`,
			want: []string{"https://a.example.com/w.zip"},
		},
		{
			name: "object with url key",
			raw:  `{"url": "https://a.example.com/w.tar"}`,
			want: []string{"https://a.example.com/w.tar"},
		},
		{
			name: "object with file key",
			raw:  `{"file": "https://a.example.com/w.safetensors"}`,
			want: []string{"https://a.example.com/w.safetensors"},
		},
		{
			name: "object with weights key",
			raw:  `{"weights": "https://a.example.com/w.bin", "metrics": {"loss": 0.1}}`,
			want: []string{"https://a.example.com/w.bin"},
		},
		{
			name: "url key wins over weights key",
			raw:  `{"weights": "https://b.example.com/w.bin", "url": "https://a.example.com/w.bin"}`,
			want: []string{"https://a.example.com/w.bin"},
		},
		{name: "null", raw: `null`, wantErr: true},
		{name: "empty string", raw: `""`, wantErr: true},
		{name: "empty array", raw: `[]`, wantErr: true},
		{name: "object without known keys", raw: `{"metrics": {"loss": 0.1}}`, wantErr: true},
		{name: "number", raw: `42`, wantErr: true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := NormalizeOutput(json.RawMessage(c.raw))
			if c.wantErr {
				if err == nil {
					t.Fatalf("want error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, c.want) {
				t.Fatalf("output: want=%v got=%v", c.want, got)
			}
		})
	}
}

func TestWeightsURLPicksFirst(t *testing.T) {
	url, err := WeightsURL(&PollResult{Output: []string{"https://a/w.bin", "https://b/w.bin"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://a/w.bin" {
		t.Fatalf("url: want=https://a/w.bin got=%s", url)
	}

	if _, err := WeightsURL(&PollResult{}); err == nil {
		t.Fatalf("want error on empty output")
	}
	if _, err := WeightsURL(nil); err == nil {
		t.Fatalf("want error on nil result")
	}
}
