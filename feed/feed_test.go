package feed

import (
	"encoding/json"
	"errors"
	"os"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return data
}

func TestParseRSS2(t *testing.T) {
	meta, entries, err := Parse(readTestdata(t, "rss2.xml"))
	require.NoError(t, err)

	require.Equal(t, "Example Blog", meta.Title)
	require.Equal(t, "https://example.com/", meta.Link)
	require.Equal(t, "Posts about examples", meta.Description)

	got := slices.Collect(entries)
	require.Len(t, got, 2)

	require.Equal(t, "https://example.com/posts/1", got[0].GUID)
	require.Equal(t, "First post", got[0].Title)
	require.Equal(t, "https://example.com/posts/1", got[0].URL)
	require.NotNil(t, got[0].Date)
	require.Equal(t, time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC), *got[0].Date)

	require.Equal(t, "urn:example:2", got[1].GUID)
}

func TestParseAtom(t *testing.T) {
	meta, entries, err := Parse(readTestdata(t, "atom.xml"))
	require.NoError(t, err)
	require.Equal(t, "Atom Example", meta.Title)

	got := slices.Collect(entries)
	require.Len(t, got, 1)
	require.Equal(t, "urn:uuid:1225c695-cfb8-4ebb-aaaa-80da344efa6a", got[0].GUID)
	require.Equal(t, "https://atom.example.com/entries/1", got[0].Link)
}

func TestParseKeepsItemsWithoutGUID(t *testing.T) {
	raw := `<?xml version="1.0"?><rss version="2.0"><channel><title>T</title><link>https://e/</link>
<item><title>noguid</title></item>
<item><link>https://e/x</link></item>
<item><guid>a</guid><title>A</title></item>
<item><guid>a</guid><title>A again</title></item>
</channel></rss>`

	_, entries, err := Parse([]byte(raw))
	require.NoError(t, err)

	got := slices.Collect(entries)
	require.Len(t, got, 4)

	require.Empty(t, got[0].GUID)
	require.Equal(t, "noguid", got[0].Title)

	require.Empty(t, got[1].GUID, "a link is not a GUID")
	require.Equal(t, "https://e/x", got[1].Link)
	require.Equal(t, "https://e/x", got[1].URL)

	require.Equal(t, "a", got[2].GUID)
	require.Equal(t, "A", got[2].Title)
	require.Equal(t, "a", got[3].GUID)
}

func TestParseAtomEntryWithoutID(t *testing.T) {
	raw := `<?xml version="1.0" encoding="utf-8"?><feed xmlns="http://www.w3.org/2005/Atom"><title>T</title>
<entry><title>no id</title><link href="https://e/1"/></entry>
<entry><title>with id</title><id>urn:2</id></entry>
</feed>`

	_, entries, err := Parse([]byte(raw))
	require.NoError(t, err)

	got := slices.Collect(entries)
	require.Len(t, got, 2)
	require.Empty(t, got[0].GUID)
	require.Equal(t, "https://e/1", got[0].Link)
	require.Equal(t, "urn:2", got[1].GUID)
	require.Equal(t, "with id", got[1].Title)
}

func TestParseRSS1About(t *testing.T) {
	raw := `<?xml version="1.0"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns="http://purl.org/rss/1.0/">
<channel rdf:about="https://e/"><title>R1</title><link>https://e/</link><description>d</description></channel>
<item rdf:about="https://e/1"><title>One</title><link>https://e/1</link></item>
</rdf:RDF>`

	_, entries, err := Parse([]byte(raw))
	require.NoError(t, err)

	got := slices.Collect(entries)
	require.Len(t, got, 1)
	require.Equal(t, "https://e/1", got[0].GUID)
	require.Equal(t, "One", got[0].Title)
}

func TestParseEnclosuresAndImage(t *testing.T) {
	raw := `<?xml version="1.0"?><rss version="2.0"><channel><title>Pod</title><link>https://e/</link>
<item><guid>ep1</guid><title>Episode 1</title>
<enclosure url="https://e/ep1.mp3" type="audio/mpeg" length="1234"/>
<image><url>https://e/ep1.png</url><title>cover</title></image>
</item></channel></rss>`

	_, entries, err := Parse([]byte(raw))
	require.NoError(t, err)

	got := slices.Collect(entries)
	require.Len(t, got, 1)
	require.Equal(t, []any{
		map[string]any{"url": "https://e/ep1.mp3", "type": "audio/mpeg", "length": float64(1234)},
	}, got[0].Extra["enclosures"])
	require.Equal(t, map[string]any{"url": "https://e/ep1.png", "title": "cover"}, got[0].Extra["image"])

	t.Run("survives storage and rendering", func(t *testing.T) {
		data, err := json.Marshal(got[0])
		require.NoError(t, err)

		var back Entry
		require.NoError(t, json.Unmarshal(data, &back))
		require.Equal(t, got[0].Extra, back.Extra)

		xml, err := Render(Meta{Title: "Pod"}, []Entry{back})
		require.NoError(t, err)
		require.Contains(t, xml, `url="https://e/ep1.mp3"`)
		require.Contains(t, xml, `length="1234"`)
	})
}

func TestParseEntriesStopEarly(t *testing.T) {
	_, entries, err := Parse(readTestdata(t, "rss2.xml"))
	require.NoError(t, err)

	var n int
	for range entries {
		n++
		break
	}
	require.Equal(t, 1, n)
}

func TestParseInvalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a feed at all", "<html><body>hi</body></html>"} {
		_, _, err := Parse([]byte(raw))
		require.Error(t, err, "input %q", raw)

		var perr *ParseError
		require.True(t, errors.As(err, &perr), "input %q", raw)
	}
}

func TestEntryCTime(t *testing.T) {
	require.Zero(t, Entry{GUID: "a"}.CTime())

	date := time.UnixMilli(1136214245000).UTC()
	require.EqualValues(t, 1136214245000, Entry{GUID: "a", Date: &date}.CTime())
}

func TestEntrySourceURL(t *testing.T) {
	require.Equal(t, "https://a", Entry{Link: "https://a"}.SourceURL())
	require.Equal(t, "https://b", Entry{Link: "https://a", URL: "https://b"}.SourceURL())
}

func TestEntryJSON(t *testing.T) {
	date := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e := Entry{GUID: "g1", Date: &date, Title: "Hello", Categories: []string{"go"}}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	require.JSONEq(t, `{"guid":"g1","date":"2024-05-01T10:00:00Z","title":"Hello","categories":["go"]}`, string(data))

	var back Entry
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, e, back)
}

func TestEntryJSONKeepsUnknownFields(t *testing.T) {
	in := `{"guid":"g1","title":"Hello","comments":"https://e/c","source":{"url":"https://e/feed","name":"E"},"rank":3}`

	var e Entry
	require.NoError(t, json.Unmarshal([]byte(in), &e))
	require.Equal(t, "g1", e.GUID)
	require.Equal(t, "Hello", e.Title)
	require.Equal(t, map[string]any{
		"comments": "https://e/c",
		"source":   map[string]any{"url": "https://e/feed", "name": "E"},
		"rank":     float64(3),
	}, e.Extra)

	out, err := json.Marshal(e)
	require.NoError(t, err)
	require.JSONEq(t, in, string(out))

	t.Run("known fields win", func(t *testing.T) {
		out, err := json.Marshal(Entry{GUID: "g1", Extra: map[string]any{"guid": "other", "x": 1}})
		require.NoError(t, err)
		require.JSONEq(t, `{"guid":"g1","x":1}`, string(out))
	})
}

func TestEntryKeysMatchJSONTags(t *testing.T) {
	typ := reflect.TypeOf(Entry{})
	tags := map[string]bool{}
	for i := range typ.NumField() {
		name, _, _ := strings.Cut(typ.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			tags[name] = true
		}
	}
	require.Equal(t, tags, entryKeys)
}

func TestRender(t *testing.T) {
	date := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	meta := Meta{
		Title:       "Mirror",
		Link:        "https://example.com/",
		Description: "A mirrored feed",
		Language:    "en",
	}
	entries := []Entry{
		{GUID: "g2", Title: "Newer", Link: "https://example.com/2", Date: &date, Content: "full body"},
		{GUID: "g1", Title: "Older", Link: "https://example.com/1", Summary: "short"},
	}

	xml, err := Render(meta, entries)
	require.NoError(t, err)

	require.Contains(t, xml, `<rss version="2.0"`)
	require.Contains(t, xml, "<title>Mirror</title>")
	require.Contains(t, xml, "<language>en</language>")
	require.Contains(t, xml, "<guid>g2</guid>")
	require.Contains(t, xml, "full body")
	require.Contains(t, xml, "Wed, 01 May 2024 10:00:00 +0000")
	require.Less(t, strings.Index(xml, "Newer"), strings.Index(xml, "Older"))
}

func TestRenderRoundTrip(t *testing.T) {
	meta, entries, err := Parse(readTestdata(t, "rss2.xml"))
	require.NoError(t, err)

	xml, err := Render(meta, slices.Collect(entries))
	require.NoError(t, err)

	meta2, entries2, err := Parse([]byte(xml))
	require.NoError(t, err)
	require.Equal(t, meta.Title, meta2.Title)

	got := slices.Collect(entries2)
	require.Len(t, got, 2)
	require.Equal(t, "https://example.com/posts/1", got[0].GUID)
	require.Equal(t, "urn:example:2", got[1].GUID)
}

func TestRenderEmpty(t *testing.T) {
	xml, err := Render(Meta{Title: "Empty"}, nil)
	require.NoError(t, err)
	require.Contains(t, xml, "<title>Empty</title>")
	require.NotContains(t, xml, "<item>")
}
