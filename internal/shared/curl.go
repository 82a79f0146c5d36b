// Utilities for rendering and parsing cURL commands.
package shared

import (
	"fmt"
	"maps"
	"os"
	"regexp"
	"slices"
	"strings"
)

// CurlCommand is a single HTTP request expressed as a cURL invocation.
type CurlCommand struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// quoteEscape is the shell sequence for a single quote inside a single-quoted string.
const quoteEscape = `'\''`

var (
	curlMethodRegex = regexp.MustCompile(`(?:-X|--request)\s+'?([A-Za-z]+)'?`)
	curlHeaderRegex = regexp.MustCompile(`(?:-H|--header)\s+(?:'([^']+)'|"([^"]+)")`)
	curlDataRegex   = regexp.MustCompile(`(?:--data-raw|--data|-d)\s+(?:'([^']*)'|"([^"]*)")`)
	curlURLRegex    = regexp.MustCompile(`(?:'(https?://[^']+)'|"(https?://[^"]+)"|(https?://\S+))`)
)

// FormatCurl renders c as a copy-pasteable multi-line shell command. Headers are sorted by name.
func FormatCurl(c CurlCommand) string {
	method := strings.ToUpper(c.Method)
	if method == "" {
		method = "GET"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "curl -X %s %s", method, shellQuote(c.URL))
	for _, key := range slices.Sorted(maps.Keys(c.Headers)) {
		fmt.Fprintf(&b, " \\\n  -H %s", shellQuote(key+": "+c.Headers[key]))
	}
	if c.Body != "" {
		fmt.Fprintf(&b, " \\\n  --data-raw %s", shellQuote(c.Body))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", quoteEscape) + "'"
}

// ParseCurlFile reads a .sh file containing a cURL command.
func ParseCurlFile(filepath string) (*CurlCommand, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read curl file: %w", err)
	}

	return ParseCurlCommand(content)
}

// ParseCurlCommand parses a cURL command string into its method, url, headers and body.
//
// The method defaults to POST when a body is present and GET otherwise.
func ParseCurlCommand(data []byte) (*CurlCommand, error) {
	curlCmd := string(data)
	curlCmd = strings.ReplaceAll(curlCmd, "\\\n", " ")
	curlCmd = strings.ReplaceAll(curlCmd, quoteEscape, "\x00")

	restore := func(s string) string { return strings.ReplaceAll(s, "\x00", "'") }
	pick := func(m []string) string {
		for _, s := range m[1:] {
			if s != "" {
				return restore(s)
			}
		}
		return ""
	}

	cmd := &CurlCommand{Headers: make(map[string]string)}

	for _, match := range curlHeaderRegex.FindAllStringSubmatch(curlCmd, -1) {
		parts := strings.SplitN(pick(match), ":", 2)
		if len(parts) == 2 {
			cmd.Headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	if m := curlDataRegex.FindStringSubmatch(curlCmd); m != nil {
		cmd.Body = pick(m)
	}

	// Strip header and data arguments so urls inside them are not mistaken for the target.
	stripped := curlHeaderRegex.ReplaceAllString(curlCmd, " ")
	stripped = curlDataRegex.ReplaceAllString(stripped, " ")
	if m := curlURLRegex.FindStringSubmatch(stripped); m != nil {
		cmd.URL = pick(m)
	}
	if cmd.URL == "" {
		return nil, fmt.Errorf("%w: no url found in curl command", ErrInvalidInput)
	}

	if m := curlMethodRegex.FindStringSubmatch(stripped); m != nil {
		cmd.Method = strings.ToUpper(m[1])
	} else if cmd.Body != "" {
		cmd.Method = "POST"
	} else {
		cmd.Method = "GET"
	}

	return cmd, nil
}
