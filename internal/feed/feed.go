// Package feed renders a category's images as an Atom feed so feed readers
// can follow new uploads.
//
// Format reference: https://www.rfc-editor.org/rfc/rfc4287
package feed

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/banux/nxt-gallery/internal/catalog"
)

const (
	NSAtom = "http://www.w3.org/2005/Atom"

	RelSelf      = "self"
	RelAlternate = "alternate"
	RelEnclosure = "enclosure"
	RelFirst     = "first"
	RelLast      = "last"
	RelNext      = "next"
	RelPrevious  = "previous"

	MIMEAtomFeed = "application/atom+xml"
)

// Feed is an Atom feed document.
type Feed struct {
	XMLName xml.Name `xml:"feed"`
	Xmlns   string   `xml:"xmlns,attr"`

	ID      string   `xml:"id"`
	Title   Text     `xml:"title"`
	Updated AtomDate `xml:"updated"`

	Links   []Link  `xml:"link"`
	Entries []Entry `xml:"entry"`
}

// New creates an empty feed.
func New(id, title string, updated time.Time) *Feed {
	return &Feed{
		Xmlns:   NSAtom,
		ID:      id,
		Title:   Text{Value: title},
		Updated: AtomDate{Time: updated},
	}
}

// Text is an Atom text construct.
type Text struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// AtomDate wraps time.Time for RFC 3339 XML serialization.
type AtomDate struct {
	Time time.Time
}

func (d AtomDate) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return e.EncodeElement(d.Time.UTC().Format(time.RFC3339), start)
}

func (d *AtomDate) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := dec.DecodeElement(&s, &start); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// Link is an Atom link element.
type Link struct {
	Rel    string `xml:"rel,attr,omitempty"`
	Href   string `xml:"href,attr"`
	Type   string `xml:"type,attr,omitempty"`
	Title  string `xml:"title,attr,omitempty"`
	Length int64  `xml:"length,attr,omitempty"`
}

// Entry is one image in the feed.
type Entry struct {
	ID      string   `xml:"id"`
	Title   Text     `xml:"title"`
	Updated AtomDate `xml:"updated"`
	Links   []Link   `xml:"link"`
}

// AddLink appends a link to the feed.
func (f *Feed) AddLink(rel, href, mimeType string) {
	f.Links = append(f.Links, Link{Rel: rel, Href: href, Type: mimeType})
}

// AddEntry appends an entry to the feed.
func (f *Feed) AddEntry(e Entry) {
	f.Entries = append(f.Entries, e)
}

// MarshalToXML serializes the feed with an XML declaration.
func (f *Feed) MarshalToXML() ([]byte, error) {
	data, err := xml.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), data...), nil
}

// Image is the feed's view of one listed image.
type Image struct {
	catalog.Image
	URL         string
	ContentType string
	Size        *int64
}

// Page describes the listing a feed is built from.
type Page struct {
	Category   catalog.Category
	Images     []Image
	Page       int
	TotalPages int
	// BaseURL is the feed's own path without query, e.g. /feeds/categories/3.
	BaseURL string
}

// Build renders page as an Atom feed. Entries keep the listing order and
// the feed's updated time is the newest upload on the page.
func Build(p Page) *Feed {
	var updated time.Time
	for _, img := range p.Images {
		if img.UploadTime.After(updated) {
			updated = img.UploadTime
		}
	}
	if updated.IsZero() {
		updated = time.Unix(0, 0)
	}

	f := New(fmt.Sprintf("urn:nxt-gallery:category:%d", p.Category.ID), p.Category.Name, updated)
	f.AddLink(RelSelf, pageURL(p.BaseURL, p.Page), MIMEAtomFeed)
	if p.TotalPages > 1 {
		f.AddLink(RelFirst, pageURL(p.BaseURL, 1), MIMEAtomFeed)
		f.AddLink(RelLast, pageURL(p.BaseURL, p.TotalPages), MIMEAtomFeed)
	}
	if p.Page > 1 && p.Page <= p.TotalPages {
		f.AddLink(RelPrevious, pageURL(p.BaseURL, p.Page-1), MIMEAtomFeed)
	}
	if p.Page < p.TotalPages {
		f.AddLink(RelNext, pageURL(p.BaseURL, p.Page+1), MIMEAtomFeed)
	}

	for _, img := range p.Images {
		enclosure := Link{Rel: RelEnclosure, Href: img.URL, Type: img.ContentType}
		if img.Size != nil {
			enclosure.Length = *img.Size
		}
		f.AddEntry(Entry{
			ID:      fmt.Sprintf("urn:nxt-gallery:image:%d", img.ID),
			Title:   Text{Value: img.Filename},
			Updated: AtomDate{Time: img.UploadTime},
			Links: []Link{
				{Rel: RelAlternate, Href: img.URL, Type: img.ContentType},
				enclosure,
			},
		})
	}
	return f
}

func pageURL(base string, page int) string {
	if page <= 1 {
		return base
	}
	return base + "?" + url.Values{"page": {strconv.Itoa(page)}}.Encode()
}
