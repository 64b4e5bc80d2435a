package fetch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const article = `<!DOCTYPE html>
<html>
<head><title>An article</title></head>
<body>
  <nav><a href="/">Home</a> <a href="/about">About</a></nav>
  <article>
    <h1>An article</h1>
    <p>Mirroring a feed keeps a durable copy of every entry it has ever published,
    even after the original site rotates old posts out of its syndication document.</p>
    <p>Each entry is stored once, identified by its GUID, and the full body of the linked
    page is kept alongside it so the archive can be read without the original site.</p>
    <p>Readers of the archive receive a regular RSS document containing the most recent
    entries, ordered newest first, exactly as a feed reader expects.</p>
  </article>
  <footer>Copyright example.com</footer>
</body>
</html>`

func TestExtract_HTML(t *testing.T) {
	text, err := Extract([]byte(article), "text/html; charset=utf-8", "https://example.com/posts/1")
	require.NoError(t, err)
	require.Contains(t, text, "Mirroring a feed keeps a durable copy")
	require.Contains(t, text, "ordered newest first")
	require.NotContains(t, text, "<p>")
}

func TestExtract_SniffsHTMLWithoutContentType(t *testing.T) {
	text, err := Extract([]byte(article), "", "")
	require.NoError(t, err)
	require.Contains(t, text, "stored once, identified by its GUID")
}

func TestExtract_Charset(t *testing.T) {
	// "café" in ISO-8859-1.
	body := []byte("Un caf\xe9 noir.")
	text, err := Extract(body, "text/plain; charset=iso-8859-1", "")
	require.NoError(t, err)
	require.Equal(t, "Un café noir.", text)
}

func TestExtract_PlainText(t *testing.T) {
	text, err := Extract([]byte("  just text\n"), "text/plain", "")
	require.NoError(t, err)
	require.Equal(t, "just text", text)
}

func TestCleanupText(t *testing.T) {
	require.Equal(t, "a\nb", cleanupText("a\n\n\n\nb"))
	require.Equal(t, "a\n\nb", cleanupText("a\n\nb"))
	require.False(t, strings.HasPrefix(cleanupText("\n\nx"), "\n"))
}
