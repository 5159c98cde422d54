package reflow

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"liquidreader/pkg/types"
)

// skipTags is the set of tags whose content does not count as readable text.
var skipTags = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Head:   true,
}

// textLength counts the readable characters of an XHTML document. The
// count feeds the location index: a spine item's share of the total text
// determines its fractional position.
func textLength(data []byte) int {
	tokenizer := html.NewTokenizer(bytes.NewReader(data))
	count := 0
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return count

		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if skipTags[atom.Lookup(tn)] {
				skipDepth++
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if skipTags[atom.Lookup(tn)] && skipDepth > 0 {
				skipDepth--
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tokenizer.Text()))
			count += utf8.RuneCountInString(text)
		}
	}
}

// bodyHTML extracts the inner HTML of the document's <body> element.
func bodyHTML(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse xhtml: %w", err)
	}

	body := findElement(doc, atom.Body)
	if body == nil {
		return "", errors.New("no body element")
	}

	var buf bytes.Buffer
	for child := body.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&buf, child); err != nil {
			return "", fmt.Errorf("render body: %w", err)
		}
	}
	return buf.String(), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, a); found != nil {
			return found
		}
	}
	return nil
}

// parseNavTOC extracts TOC entries from an EPUB 3 navigation document: the
// anchors inside the <nav> element whose epub:type is "toc".
func parseNavTOC(data []byte, navDir string) ([]types.TocEntry, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("nav doc: %w", err)
	}

	nav := findTocNav(doc)
	if nav == nil {
		return nil, errors.New("nav doc: no toc nav element")
	}

	var entries []types.TocEntry
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			href := attrValue(n, "href")
			if href != "" {
				entries = append(entries, types.TocEntry{
					Label:  strings.TrimSpace(nodeText(n)),
					Target: resolveHref(navDir, href),
				})
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(nav)
	return entries, nil
}

func findTocNav(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Nav {
		t := attrValue(n, "epub:type")
		if t == "" || strings.Contains(t, "toc") {
			return n
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findTocNav(child); found != nil {
			return found
		}
	}
	return nil
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var buf strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return buf.String()
}
