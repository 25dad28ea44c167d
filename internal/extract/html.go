package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/jaytaylor/html2text"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const markdownMarker = "[HTML Body converted to Markdown]"

var tagPattern = regexp.MustCompile(`(?s)<[^>]*>`)

// renderHTML turns an HTML part into model input according to opts
func (e *Extractor) renderHTML(src string, opts Options) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		e.logger.Debug("Failed to parse HTML part, falling back to tag stripping", zap.Error(err))
		return stripTags(src)
	}

	rewriteDocument(doc, opts)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		e.logger.Debug("Failed to render HTML part", zap.Error(err))
		return textContent(doc)
	}
	rendered := buf.String()

	if opts.HTMLToMarkdown {
		markdown, err := e.markdown.ConvertString(rendered)
		if err == nil {
			return markdownMarker + "\n" + markdown
		}
		e.logger.Warn("Failed to convert HTML to Markdown", zap.Error(err))
	}

	text, err := html2text.FromString(rendered, html2text.Options{OmitLinks: true, TextOnly: true})
	if err != nil {
		e.logger.Debug("Failed to render HTML as text", zap.Error(err))
		return textContent(doc)
	}
	return text
}

// rewriteDocument applies the image and URL options to the parsed tree in place
func rewriteDocument(doc *html.Node, opts Options) {
	if !opts.AltTextImages && !opts.StripURLParams {
		return
	}

	var images []*html.Node
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if opts.StripURLParams {
				for i, attr := range n.Attr {
					if attr.Namespace == "" && (attr.Key == "href" || attr.Key == "src") {
						if idx := strings.Index(attr.Val, "?"); idx >= 0 {
							n.Attr[i].Val = attr.Val[:idx]
						}
					}
				}
			}
			if opts.AltTextImages && n.DataAtom == atom.Img {
				images = append(images, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)

	for _, img := range images {
		if img.Parent == nil {
			continue
		}
		alt := &html.Node{Type: html.TextNode, Data: attrValue(img, "alt")}
		img.Parent.InsertBefore(alt, img)
		img.Parent.RemoveChild(img)
	}
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// textContent concatenates every text node outside script and style elements
func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}

func stripTags(src string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(src, " "))
}
