package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/SlyMarbo/rss"
	"github.com/samber/lo"
	"golang.org/x/net/html/charset"
)

// ParseError is returned when a document is not a valid RSS or Atom feed.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("feed: parse: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse reads an RSS or Atom document. It returns the feed metadata and the
// entries in document order. Nothing is returned unless the whole document
// parses.
//
// Every item in the document yields an entry. An entry's GUID comes only from
// the item's guid (RSS), id (Atom) or rdf:about (RSS 1.0); items without one
// are yielded with an empty GUID rather than skipped or keyed by their link.
func Parse(raw []byte) (Meta, iter.Seq[Entry], error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Meta{}, nil, &ParseError{Err: fmt.Errorf("empty document")}
	}

	parsed, err := rss.Parse(raw)
	if err != nil {
		return Meta{}, nil, &ParseError{Err: err}
	}

	meta := Meta{
		Title:       parsed.Title,
		Description: parsed.Description,
		Link:        parsed.Link,
		XMLURL:      parsed.UpdateURL,
		Language:    parsed.Language,
		Author:      parsed.Author,
		Categories:  parsed.Categories,
	}
	if parsed.Image != nil {
		meta.ImageURL = parsed.Image.URL
	}
	if latest := lo.MaxBy(parsed.Items, func(a, b *rss.Item) bool { return a.Date.After(b.Date) }); latest != nil && !latest.Date.IsZero() {
		updated := latest.Date.UTC()
		meta.Updated = &updated
	}

	idents, err := scanItems(raw, isAtom(raw))
	if err != nil {
		return Meta{}, nil, &ParseError{Err: err}
	}

	byKey := make(map[string]*rss.Item, len(parsed.Items))
	for _, item := range parsed.Items {
		byKey[item.ID] = item
	}

	entries := func(yield func(Entry) bool) {
		used := make(map[string]bool, len(idents))
		for _, ident := range idents {
			var e Entry
			key := ident.key
			if item, ok := byKey[key]; ok && key != "" && !used[key] {
				used[key] = true
				e = entryFromItem(item)
			} else {
				e = Entry{Title: strings.TrimSpace(ident.Title), Link: ident.link, URL: ident.link}
			}
			e.GUID = ident.guid()
			if !yield(e) {
				return
			}
		}
	}

	return meta, entries, nil
}

func entryFromItem(item *rss.Item) Entry {
	e := Entry{
		Title:      item.Title,
		Link:       item.Link,
		Summary:    strings.TrimSpace(item.Summary),
		Content:    strings.TrimSpace(item.Content),
		Categories: item.Categories,
		URL:        item.Link,
	}
	if !item.Date.IsZero() {
		date := item.Date.UTC().Truncate(time.Millisecond)
		e.Date = &date
	}

	if len(item.Enclosures) > 0 {
		e.setExtra("enclosures", lo.Map(item.Enclosures, func(enc *rss.Enclosure, _ int) any {
			return map[string]any{"url": enc.URL, "type": enc.Type, "length": float64(enc.Length)}
		}))
	}
	if img := item.Image; img != nil && (img.URL != "" || img.Href != "") {
		image := map[string]any{"url": lo.CoalesceOrEmpty(img.URL, img.Href)}
		if img.Title != "" {
			image["title"] = img.Title
		}
		e.setExtra("image", image)
	}
	return e
}

// rawItem is the identity of one item or entry as written in the document.
type rawItem struct {
	GUID  string    `xml:"guid"`
	ID    string    `xml:"id"`
	About string    `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# about,attr"`
	Title string    `xml:"title"`
	Links []rawLink `xml:"link"`

	// key is what the rss parser indexes the item by; link is the item link.
	key  string
	link string
}

type rawLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
	Text string `xml:",chardata"`
}

func (r rawItem) guid() string {
	return lo.CoalesceOrEmpty(strings.TrimSpace(r.GUID), strings.TrimSpace(r.ID), strings.TrimSpace(r.About))
}

// isAtom matches the format detection of rss.Parse.
func isAtom(raw []byte) bool {
	return !bytes.Contains(raw, []byte("<rss")) && !bytes.Contains(raw, []byte(`xmlns="http://purl.org/rss/1.0/"`))
}

// scanItems decodes the identity of every item (RSS) or entry (Atom) in
// document order, including the ones the rss parser drops.
func scanItems(raw []byte, atom bool) ([]rawItem, error) {
	name := "item"
	if atom {
		name = "entry"
	}

	d := xml.NewDecoder(bytes.NewReader(raw))
	d.CharsetReader = charset.NewReaderLabel

	var items []rawItem
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != name {
			continue
		}

		var it rawItem
		if err := d.DecodeElement(&it, &se); err != nil {
			return nil, err
		}
		if atom {
			it.key = it.ID
			for _, l := range it.Links {
				if l.Rel == "alternate" || l.Rel == "" {
					it.link = l.Href
				}
			}
		} else {
			if len(it.Links) > 0 {
				it.link = strings.TrimSpace(it.Links[len(it.Links)-1].Text)
			}
			it.key = it.GUID
			if it.key == "" && len(it.Links) > 0 {
				it.key = it.Links[len(it.Links)-1].Text
			}
		}
		items = append(items, it)
	}
}
