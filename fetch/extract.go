package fetch

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
)

var redundantNewLines = regexp.MustCompile(`\n{3,}`)

// Extract returns the readable text of a fetched body. HTML is reduced to its
// main article text; other text types are returned decoded. contentType is
// used to pick the charset and pageURL to resolve relative links.
func Extract(body []byte, contentType, pageURL string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		r = bytes.NewReader(body)
	}

	if !isHTML(contentType, body) {
		text, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("decoding body: %w", err)
		}
		return strings.TrimSpace(string(text)), nil
	}

	var base *url.URL
	if pageURL != "" {
		if u, err := url.Parse(pageURL); err == nil {
			base = u
		}
	}

	doc, err := readability.FromReader(r, base)
	if err != nil {
		return "", fmt.Errorf("extracting article: %w", err)
	}

	return cleanupText(doc.TextContent), nil
}

func isHTML(contentType string, body []byte) bool {
	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			return mediaType == "text/html" || mediaType == "application/xhtml+xml"
		}
	}
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

func cleanupText(text string) string {
	return strings.TrimSpace(redundantNewLines.ReplaceAllString(text, "\n"))
}
