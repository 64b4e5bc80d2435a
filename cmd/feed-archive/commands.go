package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	feedarchive "github.com/wolfeidau/feed-archive"
	"github.com/wolfeidau/feed-archive/archive"
	"github.com/wolfeidau/feed-archive/feed"
	"github.com/wolfeidau/feed-archive/mirror"
	"github.com/wolfeidau/feed-archive/swarm"
)

func (g *Globals) openDrive() (*archive.Drive, error) {
	d, err := archive.OpenDrive(g.DataDir, archive.WithLogger(g.logger))
	if err != nil {
		return nil, fmt.Errorf("opening drive: %w", err)
	}
	if d.Ephemeral() {
		g.logger.Warn("no data directory set, archive will be discarded on exit")
	}
	return d, nil
}

func (g *Globals) mirrorOptions(scrap bool) []mirror.Option {
	return []mirror.Option{
		mirror.WithScrap(scrap),
		mirror.WithRecencyLimit(g.cfg.RecencyLimit),
		mirror.WithLogger(g.logger),
	}
}

// owned resumes the archive named by key, or creates one when key is empty.
func (g *Globals) owned(ctx context.Context, d *archive.Drive, key string, scrap bool) (*mirror.Mirror, error) {
	if key == "" {
		return mirror.Create(ctx, d, g.mirrorOptions(scrap)...)
	}
	k, err := feedarchive.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return mirror.Resume(ctx, d, k, g.mirrorOptions(scrap)...)
}

// reader opens any archive the drive holds; owned archives are finalized on list.
func (g *Globals) reader(ctx context.Context, d *archive.Drive, key string) (*mirror.Reader, error) {
	k, err := feedarchive.ParseKey(key)
	if err != nil {
		return nil, err
	}
	a, err := d.Lookup(ctx, k)
	if err != nil {
		return nil, err
	}
	if a.Owned() {
		m, err := mirror.Resume(ctx, d, k, g.mirrorOptions(false)...)
		if err != nil {
			return nil, err
		}
		return m.Reader, nil
	}
	return mirror.Open(ctx, d, k, g.mirrorOptions(false)...)
}

type UpdateCmd struct {
	Source string `arg:"" help:"Feed URL or path to a feed document."`
	Key    string `help:"Archive to update. Empty creates a new archive."`
	Scrap  bool   `help:"Fetch the full body of every new entry." default:"${scrap}"`
}

func (c *UpdateCmd) Run(g *Globals) error {
	d, err := g.openDrive()
	if err != nil {
		return err
	}
	defer d.Close()

	m, err := g.owned(g.ctx, d, c.Key, c.Scrap)
	if err != nil {
		return err
	}

	if strings.HasPrefix(c.Source, "http://") || strings.HasPrefix(c.Source, "https://") {
		_, err = m.UpdateFrom(g.ctx, c.Source)
	} else {
		var raw []byte
		if raw, err = os.ReadFile(c.Source); err != nil {
			return fmt.Errorf("reading feed: %w", err)
		}
		_, err = m.Update(g.ctx, raw)
	}
	if err != nil {
		return err
	}
	if err := m.Finalize(g.ctx); err != nil {
		return err
	}

	fmt.Println(m.Key().String())
	return nil
}

type PushCmd struct {
	Key     string    `required:"" help:"Archive to push to."`
	GUID    string    `name:"guid" required:"" help:"Entry GUID."`
	Title   string    `help:"Entry title."`
	Link    string    `help:"Entry link."`
	Summary string    `help:"Entry summary."`
	URL     string    `name:"url" help:"Where to fetch the full body from. Defaults to the link."`
	Date    time.Time `help:"Entry date (RFC 3339)." format:"2006-01-02T15:04:05Z07:00"`
	Scrap   bool      `help:"Fetch the full body of the entry." default:"${scrap}"`
}

func (c *PushCmd) Run(g *Globals) error {
	d, err := g.openDrive()
	if err != nil {
		return err
	}
	defer d.Close()

	m, err := g.owned(g.ctx, d, c.Key, c.Scrap)
	if err != nil {
		return err
	}

	e := feed.Entry{
		GUID:    c.GUID,
		Title:   c.Title,
		Link:    c.Link,
		Summary: c.Summary,
		URL:     c.URL,
	}
	if e.URL == "" {
		e.URL = e.Link
	}
	if !c.Date.IsZero() {
		date := c.Date.UTC()
		e.Date = &date
	}

	if _, err := m.Push(g.ctx, e); err != nil {
		return err
	}
	return m.Finalize(g.ctx)
}

type ListCmd struct {
	Key    string `arg:"" help:"Archive to list."`
	Prefix string `help:"Only list entries whose GUID starts with prefix."`
}

func (c *ListCmd) Run(g *Globals) error {
	d, err := g.openDrive()
	if err != nil {
		return err
	}
	defer d.Close()

	r, err := g.reader(g.ctx, d, c.Key)
	if err != nil {
		return err
	}

	var opts []archive.ListOption
	if c.Prefix != "" {
		opts = append(opts, archive.WithPrefix(c.Prefix))
	}
	records, err := r.List(g.ctx, opts...)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tSIZE\tGUID")
	for _, rec := range records {
		date := "-"
		if rec.CTime != 0 {
			date = rec.Time().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", date, rec.Size, rec.Name)
	}
	return w.Flush()
}

type XMLCmd struct {
	Key     string `arg:"" help:"Archive to render."`
	Recency int    `short:"n" help:"Number of newest entries to render." default:"${recency_limit}"`
}

func (c *XMLCmd) Run(g *Globals) error {
	d, err := g.openDrive()
	if err != nil {
		return err
	}
	defer d.Close()

	r, err := g.reader(g.ctx, d, c.Key)
	if err != nil {
		return err
	}
	doc, err := r.XML(g.ctx, c.Recency)
	if err != nil {
		return err
	}
	fmt.Println(doc)
	return nil
}

type MetaCmd struct {
	Key string `arg:"" help:"Archive to inspect."`
	Set string `help:"Replace the metadata with this JSON document." placeholder:"FILE" type:"existingfile"`
}

func (c *MetaCmd) Run(g *Globals) error {
	d, err := g.openDrive()
	if err != nil {
		return err
	}
	defer d.Close()

	if c.Set != "" {
		raw, err := os.ReadFile(c.Set)
		if err != nil {
			return err
		}
		var meta feed.Meta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("decoding %s: %w", c.Set, err)
		}
		m, err := g.owned(g.ctx, d, c.Key, false)
		if err != nil {
			return err
		}
		if _, err := m.SetMeta(g.ctx, meta); err != nil {
			return err
		}
		return m.Finalize(g.ctx)
	}

	r, err := g.reader(g.ctx, d, c.Key)
	if err != nil {
		return err
	}
	meta, ok := r.Meta()
	if !ok {
		return errors.New("archive has no metadata")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

type CloneCmd struct {
	Remote string `arg:"" help:"Base URL of the peer, e.g. http://host:8080."`
	Key    string `arg:"" help:"Archive to replicate."`
}

func (c *CloneCmd) Run(g *Globals) error {
	d, err := g.openDrive()
	if err != nil {
		return err
	}
	defer d.Close()

	k, err := feedarchive.ParseKey(c.Key)
	if err != nil {
		return err
	}

	peer := swarm.NewPeer(d, swarm.WithLogger(g.logger))
	n, err := peer.Join(k).Replicate(g.ctx, c.Remote)
	if err != nil {
		return err
	}
	g.logger.Info("replicated archive", "key", k.ShortString(), "records", n)
	return nil
}

type KeysCmd struct{}

func (c *KeysCmd) Run(g *Globals) error {
	d, err := g.openDrive()
	if err != nil {
		return err
	}
	defer d.Close()

	archives, err := d.Archives(g.ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tOWNED\tCREATED")
	for _, a := range archives {
		fmt.Fprintf(w, "%s\t%t\t%s\n", a.Key, a.Owned, a.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}
