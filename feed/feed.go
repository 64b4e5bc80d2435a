// Package feed converts between syndication documents and the metadata and
// entries stored in an archive.
package feed

import (
	"encoding/json"
	"time"
)

// Meta is the feed-level metadata of a mirrored feed.
type Meta struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Link        string         `json:"link,omitempty"`
	XMLURL      string         `json:"xmlUrl,omitempty"`
	Language    string         `json:"language,omitempty"`
	Author      string         `json:"author,omitempty"`
	ImageURL    string         `json:"imageUrl,omitempty"`
	Categories  []string       `json:"categories,omitempty"`
	Updated     *time.Time     `json:"updated,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Entry is a single item of a feed. GUID identifies the entry within its
// archive and is required before an entry can be stored.
type Entry struct {
	GUID       string     `json:"guid"`
	Date       *time.Time `json:"date,omitempty"`
	Title      string     `json:"title,omitempty"`
	Link       string     `json:"link,omitempty"`
	Summary    string     `json:"summary,omitempty"`
	Content    string     `json:"content,omitempty"`
	Author     string     `json:"author,omitempty"`
	Categories []string   `json:"categories,omitempty"`

	// URL is where the entry's full body is fetched from. Parsed entries
	// default it to Link.
	URL string `json:"url,omitempty"`

	// Extra holds every other field of the item. It is flattened into the
	// entry's JSON object, and unknown keys decode into it.
	Extra map[string]any `json:"-"`
}

// entryFields has Entry's fields without its JSON methods.
type entryFields Entry

var entryKeys = map[string]bool{
	"guid": true, "date": true, "title": true, "link": true, "summary": true,
	"content": true, "author": true, "categories": true, "url": true,
}

// MarshalJSON writes the known fields and the keys of Extra as one object.
// Known fields win over Extra keys of the same name.
func (e Entry) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(entryFields(e))
	if err != nil || len(e.Extra) == 0 {
		return data, err
	}

	merged := make(map[string]any, len(e.Extra)+len(entryKeys))
	for k, v := range e.Extra {
		if !entryKeys[k] {
			merged[k] = v
		}
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(data, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known fields and keeps every other key in Extra.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var fields entryFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*e = Entry(fields)
	e.Extra = nil
	for k, v := range all {
		if !entryKeys[k] {
			e.setExtra(k, v)
		}
	}
	return nil
}

func (e *Entry) setExtra(key string, v any) {
	if e.Extra == nil {
		e.Extra = make(map[string]any)
	}
	e.Extra[key] = v
}

// CTime returns the entry date as milliseconds since the epoch, or 0 when
// the entry has no date.
func (e Entry) CTime() int64 {
	if e.Date == nil || e.Date.IsZero() {
		return 0
	}
	return e.Date.UnixMilli()
}

// SourceURL returns URL, falling back to Link.
func (e Entry) SourceURL() string {
	if e.URL != "" {
		return e.URL
	}
	return e.Link
}
