package reflow

import (
	"encoding/xml"
	"fmt"
	"path"
	"strings"

	"liquidreader/pkg/types"
)

// containerFile is the fixed location of the OCF container descriptor.
const containerFile = "META-INF/container.xml"

type ocfContainer struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Metadata struct {
		Titles []string `xml:"title"`
	} `xml:"metadata"`
	Manifest struct {
		Items []opfItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Toc      string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef  string `xml:"idref,attr"`
			Linear string `xml:"linear,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

// spineEntry is one element of the linear reading order. Href is the
// zip-root-relative content path, which doubles as the location token.
type spineEntry struct {
	IDRef string
	Href  string
}

func parseContainer(data []byte) (opfPath string, err error) {
	var c ocfContainer
	if err := xml.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("container.xml: %w", err)
	}
	for _, rf := range c.Rootfiles {
		if rf.FullPath != "" {
			return rf.FullPath, nil
		}
	}
	return "", fmt.Errorf("container.xml: no rootfile")
}

func parseOPF(data []byte) (*opfPackage, error) {
	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("opf: %w", err)
	}
	if len(pkg.Spine.ItemRefs) == 0 {
		return nil, fmt.Errorf("opf: empty spine")
	}
	return &pkg, nil
}

// resolveHref joins an OPF-relative href onto the OPF directory, keeping
// any fragment suffix intact.
func resolveHref(opfDir, href string) string {
	frag := ""
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href, frag = href[:i], href[i:]
	}
	return path.Clean(path.Join(opfDir, href)) + frag
}

// NCX (EPUB 2) table of contents.

type ncxDoc struct {
	NavPoints []ncxNavPoint `xml:"navMap>navPoint"`
}

type ncxNavPoint struct {
	ID      string `xml:"id,attr"`
	Label   string `xml:"navLabel>text"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

// parseNCX flattens the navMap tree into ordered TOC entries with
// zip-root-relative targets.
func parseNCX(data []byte, ncxDir string) ([]types.TocEntry, error) {
	var doc ncxDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ncx: %w", err)
	}
	var entries []types.TocEntry
	var walk func(points []ncxNavPoint)
	walk = func(points []ncxNavPoint) {
		for _, p := range points {
			if p.Content.Src != "" {
				entries = append(entries, types.TocEntry{
					ID:     p.ID,
					Label:  strings.TrimSpace(p.Label),
					Target: resolveHref(ncxDir, p.Content.Src),
				})
			}
			walk(p.Children)
		}
	}
	walk(doc.NavPoints)
	return entries, nil
}
