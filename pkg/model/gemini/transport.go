package gemini

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
)

const (
	// LevelTrace is a custom log level for detailed HTTP traffic.
	LevelTrace = slog.Level(-8)
)

// loggingTransport dumps Gemini REST traffic when LevelTrace is enabled.
type loggingTransport struct {
	base http.RoundTripper
}

func newHTTPClient() *http.Client {
	return &http.Client{Transport: &loggingTransport{base: http.DefaultTransport}}
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !slog.Default().Enabled(req.Context(), LevelTrace) {
		return t.base.RoundTrip(req)
	}

	reqDump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		slog.Debug("Failed to dump Gemini request", "error", err)
	} else {
		slog.Log(req.Context(), LevelTrace, "Gemini REST Request", "url", redact(req.URL.String()), "dump", redact(string(reqDump)))
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Streaming bodies are not dumped so they are not consumed here.
	isStream := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") ||
		strings.Contains(req.URL.Query().Get("alt"), "sse")

	respDump, err := httputil.DumpResponse(resp, !isStream)
	if err != nil {
		slog.Debug("Failed to dump Gemini response", "error", err)
	} else {
		slog.Log(req.Context(), LevelTrace, "Gemini REST Response", "status", resp.StatusCode, "isStream", isStream, "dump", string(respDump))
	}
	return resp, nil
}

// redact hides API keys passed as header or query parameter.
func redact(s string) string {
	for _, marker := range []string{"X-Goog-Api-Key: ", "key="} {
		i := strings.Index(s, marker)
		if i < 0 {
			continue
		}
		start := i + len(marker)
		end := start
		for end < len(s) && s[end] != '&' && s[end] != '\r' && s[end] != '\n' {
			end++
		}
		s = s[:start] + "REDACTED" + s[end:]
	}
	return s
}
