package fingerprint

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Element describes one interactive element in a page snapshot.
// Children preserve the nesting of interactive content (e.g. inputs
// inside a form).
type Element struct {
	Tag      string    `json:"tag"`
	Name     string    `json:"name,omitempty"`
	Type     string    `json:"type,omitempty"`
	Selector string    `json:"selector,omitempty"`
	Value    string    `json:"value,omitempty"`
	Children []Element `json:"children,omitempty"`
}

// Link is an outbound navigation target.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text,omitempty"`
}

// PageSnapshot is the structured view of a page handed to the fingerprint
// engine and the reasoning collaborator.
type PageSnapshot struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Elements []Element `json:"elements"`
	Links    []Link    `json:"links"`
}

// Summary returns a one-line human description of the snapshot.
func (s *PageSnapshot) Summary() string {
	title := strings.TrimSpace(s.Title)
	if title == "" {
		return s.URL
	}
	return fmt.Sprintf("%s (%s)", title, s.URL)
}

// interactiveTags are the tags promoted into Element descriptors.
var interactiveTags = map[string]bool{
	"form":     true,
	"input":    true,
	"textarea": true,
	"select":   true,
	"button":   true,
}

// FromHTML parses raw HTML into a PageSnapshot. The browser driver uses it
// to turn a live page into the structured form the rest of the system
// consumes; tests use it to build snapshots from fixture markup.
func FromHTML(url, title, rawHTML string) (*PageSnapshot, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return nil, &SnapshotError{URL: url, Reason: "empty document"}
	}

	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, &SnapshotError{URL: url, Reason: "unparseable document", Err: err}
	}

	snap := &PageSnapshot{URL: url, Title: title}
	collect(root, snap, nil)

	if snap.Title == "" {
		snap.Title = findTitle(root)
	}
	return snap, nil
}

// collect walks the DOM tree extracting interactive elements and links.
// parent is the element list to append interactive children to; nil means
// top level.
func collect(n *html.Node, snap *PageSnapshot, parent *Element) {
	if n.Type == html.ElementNode {
		switch {
		case n.Data == "a":
			if href := attr(n, "href"); href != "" {
				snap.Links = append(snap.Links, Link{Href: href, Text: strings.TrimSpace(textOf(n))})
			}
		case interactiveTags[n.Data]:
			el := Element{
				Tag:      n.Data,
				Name:     attr(n, "name"),
				Type:     attr(n, "type"),
				Selector: selectorFor(n),
				Value:    attr(n, "value"),
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				collect(c, snap, &el)
			}
			if parent != nil {
				parent.Children = append(parent.Children, el)
			} else {
				snap.Elements = append(snap.Elements, el)
			}
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collect(c, snap, parent)
	}
}

// selectorFor builds a stable CSS selector for an element, preferring id,
// then name attribute, then the bare tag.
func selectorFor(n *html.Node) string {
	if id := attr(n, "id"); id != "" {
		return "#" + id
	}
	if name := attr(n, "name"); name != "" {
		return fmt.Sprintf(`%s[name=%q]`, n.Data, name)
	}
	return n.Data
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textOf(c))
	}
	return sb.String()
}

func findTitle(root *html.Node) string {
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			title = strings.TrimSpace(textOf(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return title
}
