package feed

import (
	"fmt"
	"strconv"

	"github.com/gorilla/feeds"
	"github.com/samber/lo"
)

// Render produces an RSS 2.0 document for meta and entries. Entries are
// emitted in the order given.
func Render(meta Meta, entries []Entry) (string, error) {
	f := &feeds.Feed{
		Title:       meta.Title,
		Link:        &feeds.Link{Href: meta.Link},
		Description: meta.Description,
		Items: lo.Map(entries, func(e Entry, _ int) *feeds.Item {
			return renderItem(e)
		}),
	}
	if meta.Author != "" {
		f.Author = &feeds.Author{Name: meta.Author}
	}
	if meta.Updated != nil {
		f.Updated = *meta.Updated
	}
	if meta.ImageURL != "" {
		f.Image = &feeds.Image{Url: meta.ImageURL, Title: meta.Title, Link: meta.Link}
	}

	rss := (&feeds.Rss{Feed: f}).RssFeed()
	rss.Language = meta.Language
	rss.Category = lo.FirstOrEmpty(meta.Categories)

	return feeds.ToXML(rss)
}

func renderItem(e Entry) *feeds.Item {
	item := &feeds.Item{
		Id:          e.GUID,
		Title:       e.Title,
		Link:        &feeds.Link{Href: e.Link},
		Description: e.Summary,
		Content:     e.Content,
	}
	if e.Author != "" {
		item.Author = &feeds.Author{Name: e.Author}
	}
	if e.Date != nil {
		item.Created = *e.Date
	}
	item.Enclosure = firstEnclosure(e)
	return item
}

// firstEnclosure renders the first entry of Extra["enclosures"]; RSS items
// carry at most one.
func firstEnclosure(e Entry) *feeds.Enclosure {
	list, _ := e.Extra["enclosures"].([]any)
	if len(list) == 0 {
		return nil
	}
	enc, _ := list[0].(map[string]any)
	url, _ := enc["url"].(string)
	if url == "" {
		return nil
	}
	typ, _ := enc["type"].(string)

	var length string
	switch v := enc["length"].(type) {
	case float64:
		length = strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		length = v
	case nil:
	default:
		length = fmt.Sprint(v)
	}
	return &feeds.Enclosure{Url: url, Type: typ, Length: length}
}
