package shared

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFormatCurl(t *testing.T) {
	t.Run("renders method, sorted headers and body", func(t *testing.T) {
		got := FormatCurl(CurlCommand{
			Method:  "post",
			URL:     "https://dev.example.com/org/_apis/wit/$batch?api-version=7.1",
			Headers: map[string]string{"X-Trace": "abc", "Content-Type": "application/json"},
			Body:    `[{"method":"PATCH"}]`,
		})

		want := "curl -X POST 'https://dev.example.com/org/_apis/wit/$batch?api-version=7.1' \\\n" +
			"  -H 'Content-Type: application/json' \\\n" +
			"  -H 'X-Trace: abc' \\\n" +
			`  --data-raw '[{"method":"PATCH"}]'`
		if got != want {
			t.Errorf("unexpected command:\n%s\nwant:\n%s", got, want)
		}
	})

	t.Run("defaults to GET without body", func(t *testing.T) {
		got := FormatCurl(CurlCommand{URL: "https://example.com"})
		if got != "curl -X GET 'https://example.com'" {
			t.Errorf("unexpected command: %s", got)
		}
	})

	t.Run("escapes single quotes", func(t *testing.T) {
		got := FormatCurl(CurlCommand{Method: "POST", URL: "https://example.com", Body: `{"title":"it's"}`})
		if !strings.Contains(got, `'{"title":"it'\''s"}'`) {
			t.Errorf("quote not escaped: %s", got)
		}
	})
}

func TestParseCurlCommand(t *testing.T) {
	tt := []struct {
		name        string
		curlCmd     string
		wantMethod  string
		wantURL     string
		wantHeaders map[string]string
		wantBody    string
		wantErr     bool
	}{
		{
			name:        "single header with single quotes",
			curlCmd:     `curl -H 'Authorization: Bearer token123' https://api.example.com`,
			wantMethod:  "GET",
			wantURL:     "https://api.example.com",
			wantHeaders: map[string]string{"Authorization": "Bearer token123"},
		},
		{
			name:        "single header with double quotes",
			curlCmd:     `curl -H "Authorization: Bearer token123" 'https://api.example.com'`,
			wantMethod:  "GET",
			wantURL:     "https://api.example.com",
			wantHeaders: map[string]string{"Authorization": "Bearer token123"},
		},
		{
			name:        "explicit method and data",
			curlCmd:     `curl -X PATCH 'https://api.example.com/items/1' -H 'Content-Type: application/json-patch+json' --data-raw '[]'`,
			wantMethod:  "PATCH",
			wantURL:     "https://api.example.com/items/1",
			wantHeaders: map[string]string{"Content-Type": "application/json-patch+json"},
			wantBody:    "[]",
		},
		{
			name:        "data implies POST",
			curlCmd:     `curl https://api.example.com -d '{"a":1}'`,
			wantMethod:  "POST",
			wantURL:     "https://api.example.com",
			wantHeaders: map[string]string{},
			wantBody:    `{"a":1}`,
		},
		{
			name:        "multiline with continuations",
			curlCmd:     "curl -X POST 'https://api.example.com' \\\n  -H 'Accept: */*' \\\n  --data-raw 'x'",
			wantMethod:  "POST",
			wantURL:     "https://api.example.com",
			wantHeaders: map[string]string{"Accept": "*/*"},
			wantBody:    "x",
		},
		{
			name:    "no url",
			curlCmd: `curl -H 'Accept: */*'`,
			wantErr: true,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseCurlCommand([]byte(tc.curlCmd))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Method != tc.wantMethod {
				t.Errorf("method: expected %s, got %s", tc.wantMethod, got.Method)
			}
			if got.URL != tc.wantURL {
				t.Errorf("url: expected %s, got %s", tc.wantURL, got.URL)
			}
			if got.Body != tc.wantBody {
				t.Errorf("body: expected %q, got %q", tc.wantBody, got.Body)
			}
			if len(got.Headers) != len(tc.wantHeaders) {
				t.Errorf("expected %d headers, got %d: %v", len(tc.wantHeaders), len(got.Headers), got.Headers)
			}
			for k, v := range tc.wantHeaders {
				if got.Headers[k] != v {
					t.Errorf("header %s: expected %q, got %q", k, v, got.Headers[k])
				}
			}
		})
	}
}

func TestParseCurlFile(t *testing.T) {
	t.Run("reads a rendered audit command back", func(t *testing.T) {
		rendered := FormatCurl(CurlCommand{
			Method:  "POST",
			URL:     "https://dev.example.com/org/_apis/wit/$batch?api-version=7.1",
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    `[{"value":"it's"}]`,
		})
		path := filepath.Join(t.TempDir(), "batch.sh")
		if err := os.WriteFile(path, []byte(rendered), 0o644); err != nil {
			t.Fatal(err)
		}

		got, err := ParseCurlFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Body != `[{"value":"it's"}]` {
			t.Errorf("unexpected body %q", got.Body)
		}
		if got.URL != "https://dev.example.com/org/_apis/wit/$batch?api-version=7.1" {
			t.Errorf("unexpected url %q", got.URL)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := ParseCurlFile(filepath.Join(t.TempDir(), "nope.sh")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
