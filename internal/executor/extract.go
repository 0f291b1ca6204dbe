// File: internal/executor/extract.go
package executor

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/browserd/api/schemas"
)

// ExtractContent parses the rendered document and pulls out the content the
// task asked for. Pure function over the HTML so it is testable without a
// browser. An empty selector match list is a valid result; an unparseable
// selector is not.
func ExtractContent(markup, baseURL string, params *schemas.TaskParams) (*schemas.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, schemas.NewTaskError(schemas.ErrExtraction, err, "failed to parse document")
	}

	out := &schemas.Extraction{
		Title: normalizeSpace(doc.Find("title").First().Text()),
	}

	if params.Selector != "" {
		matcher, err := cascadia.Compile(params.Selector)
		if err != nil {
			return nil, schemas.NewTaskError(schemas.ErrExtraction, err, "invalid selector %q", params.Selector)
		}
		doc.FindMatcher(matcher).Each(func(_ int, sel *goquery.Selection) {
			node := schemas.ExtractedNode{
				Text: nodeText(sel),
			}
			if !params.TextOnly {
				if outer, err := goquery.OuterHtml(sel); err == nil {
					node.HTML = outer
				}
			}
			if params.Attribute != "" {
				node.Attr, _ = sel.Attr(params.Attribute)
			}
			out.Matches = append(out.Matches, node)
		})
	} else if params.TextOnly {
		out.Text = nodeText(doc.Find("body"))
	}

	if params.Links {
		out.Links = collectLinks(doc, baseURL)
	}
	return out, nil
}

// collectLinks gathers unique absolute hrefs in document order. Relative
// links resolve against the final URL of the navigation.
func collectLinks(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		base = nil
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return
		}
		abs := ref.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

// nodeText renders the visible text of a selection. Unlike Selection.Text,
// which concatenates text nodes with nothing in between, text from sibling
// elements is separated by a space before whitespace is collapsed, so
// "<p>First</p><a>second</a>" reads "First second" rather than "Firstsecond".
func nodeText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		appendText(&b, n)
	}
	return normalizeSpace(b.String())
}

func appendText(b *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		appendText(b, c)
	}
}

// normalizeSpace collapses runs of whitespace into single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
