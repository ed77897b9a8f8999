// Package viewmodel holds the feed's owned, line-based document: a status
// line, one block per entry and a trailing sentinel. It is the Presenter the
// controller draws into and the Layout the proximity watchers measure.
package viewmodel

import (
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/muesli/reflow/wordwrap"

	"github.com/JakeFAU/tagfeed/internal/feed"
)

// DefaultWidth is the wrap width used until SetWidth is called.
const DefaultWidth = 80

// sentinelLine marks the end of the rendered entries.
const sentinelLine = ""

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"pre": true, "blockquote": true, "ul": true, "ol": true, "figure": true,
	"figcaption": true, "table": true, "tr": true, "hr": true, "header": true,
	"footer": true,
}

type block struct {
	snap  feed.EntrySnapshot
	lines []string
}

// Document implements feed.Presenter and proximity.Layout.
type Document struct {
	mu          sync.Mutex
	width       int
	displayName string
	status      string
	message     string
	blocks      []*block
	byIndex     map[int]*block
	onChange    func()
}

// New builds an empty document. displayName is shown on every entry's meta
// line when set.
func New(displayName string) *Document {
	return &Document{
		width:       DefaultWidth,
		displayName: strings.TrimSpace(displayName),
		byIndex:     make(map[int]*block),
	}
}

// OnChange registers fn to run after every mutation, outside the document lock.
func (d *Document) OnChange(fn func()) {
	d.mu.Lock()
	d.onChange = fn
	d.mu.Unlock()
}

// SetWidth rewraps every block to width columns.
func (d *Document) SetWidth(width int) {
	if width < 1 {
		width = 1
	}
	d.mutate(func() {
		if d.width == width {
			return
		}
		d.width = width
		for _, b := range d.blocks {
			b.lines = d.layoutEntry(b.snap)
		}
	})
}

// AppendEntries implements feed.Presenter.
func (d *Document) AppendEntries(entries []feed.EntrySnapshot) {
	d.mutate(func() {
		for _, snap := range entries {
			b := &block{snap: snap, lines: d.layoutEntry(snap)}
			d.blocks = append(d.blocks, b)
			d.byIndex[snap.Index] = b
		}
	})
}

// RenderEntry implements feed.Presenter. Snapshots for unknown entries are
// ignored.
func (d *Document) RenderEntry(snap feed.EntrySnapshot) {
	d.mutate(func() {
		b, ok := d.byIndex[snap.Index]
		if !ok {
			return
		}
		b.snap = snap
		b.lines = d.layoutEntry(snap)
	})
}

// SetStatus implements feed.Presenter.
func (d *Document) SetStatus(text string) {
	d.mutate(func() { d.status = text })
}

// ShowMessage implements feed.Presenter. The message replaces everything else.
func (d *Document) ShowMessage(text string) {
	d.mutate(func() {
		d.message = text
		d.status = ""
		d.blocks = nil
		d.byIndex = make(map[int]*block)
	})
}

// Bounds implements proximity.Layout.
func (d *Document) Bounds(region string) (int, int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.message != "" {
		return 0, 0, false
	}
	top := d.statusHeightLocked()
	for _, b := range d.blocks {
		if feed.EntryRegion(b.snap.Index) == region {
			return top, len(b.lines), true
		}
		top += len(b.lines)
	}
	if region == feed.SentinelRegion {
		return top, 1, true
	}
	return 0, 0, false
}

// Height returns the total number of lines.
func (d *Document) Height() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.linesLocked())
}

// Lines returns a copy of the rendered document.
func (d *Document) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.linesLocked()
}

// Render returns the document as newline separated text.
func (d *Document) Render() string {
	return strings.Join(d.Lines(), "\n")
}

// Status returns the current status line.
func (d *Document) Status() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Message returns the replacement message, if any.
func (d *Document) Message() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.message
}

func (d *Document) mutate(fn func()) {
	d.mu.Lock()
	fn()
	notify := d.onChange
	d.mu.Unlock()
	if notify != nil {
		notify()
	}
}

func (d *Document) statusHeightLocked() int {
	if d.status == "" {
		return 0
	}
	return len(d.wrap(d.status)) + 1
}

func (d *Document) linesLocked() []string {
	if d.message != "" {
		return d.wrap(d.message)
	}
	var lines []string
	if d.status != "" {
		lines = append(lines, d.wrap(d.status)...)
		lines = append(lines, "")
	}
	for _, b := range d.blocks {
		lines = append(lines, b.lines...)
	}
	return append(lines, sentinelLine)
}

// layoutEntry renders the meta line, the wrapped content and a blank separator.
func (d *Document) layoutEntry(snap feed.EntrySnapshot) []string {
	lines := d.wrap(MetaLine(d.displayName, snap.Item))
	for _, paragraph := range TextBlocks(snap.Fragment) {
		lines = append(lines, d.wrap(paragraph)...)
	}
	return append(lines, "")
}

func (d *Document) wrap(text string) []string {
	return strings.Split(wordwrap.String(text, d.width), "\n")
}

// MetaLine describes an entry: the display name, the item's label (or "View
// post" when it has none) and the link.
func MetaLine(displayName string, item feed.Item) string {
	label := item.Label
	if label == "" {
		label = "View post"
	}
	if displayName != "" {
		label = displayName + " · " + label
	}
	return fmt.Sprintf("%s <%s>", label, item.Reference)
}

// TextBlocks flattens an HTML fragment into paragraphs of plain text.
func TextBlocks(fragment string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return []string{collapse(fragment)}
	}
	var (
		blocks []string
		cur    strings.Builder
	)
	flush := func() {
		if text := collapse(cur.String()); text != "" {
			blocks = append(blocks, text)
		}
		cur.Reset()
	}
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			switch name := goquery.NodeName(c); {
			case name == "#text":
				cur.WriteString(c.Text())
			case name == "br":
				flush()
			case name == "img":
				cur.WriteString(" [" + c.AttrOr("alt", "image") + "] ")
			case name == "script" || name == "style" || name == "#comment":
			case name == "li":
				flush()
				cur.WriteString("• ")
				walk(c)
				flush()
			case blockTags[name]:
				flush()
				walk(c)
				flush()
			default:
				walk(c)
			}
		})
	}
	walk(doc.Find("body"))
	flush()
	return blocks
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
