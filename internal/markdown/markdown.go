// Package markdown renders user-written markdown to HTML that is safe to
// embed in a page: raw HTML in the source is escaped before parsing, and
// links and images only keep hrefs that are relative or use http, https or
// mailto.
package markdown

import (
	"bytes"
	stdhtml "html"
	"net/url"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
)

const externalRel = "nofollow noreferrer noopener"

var allowedSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"mailto": true,
}

// The converter configuration never changes and goldmark keeps per-call
// state out of it, so one instance serves every render.
var (
	converter     goldmark.Markdown
	converterOnce sync.Once
)

func getConverter() goldmark.Markdown {
	converterOnce.Do(func() {
		converter = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				renderer.WithNodeRenderers(util.Prioritized(linkRenderer{}, 100)),
			),
		)
	})
	return converter
}

var inputEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;")

var attrEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeAttr escapes v for use inside a double-quoted HTML attribute.
func EscapeAttr(v string) string {
	return attrEscaper.Replace(v)
}

// Render converts source to HTML. Blank input renders as "".
func Render(source string) string {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := getConverter().Convert([]byte(inputEscaper.Replace(trimmed)), &buf); err != nil {
		return "<p>" + EscapeAttr(trimmed) + "</p>"
	}
	return buf.String()
}

// ResolveHref returns the href to emit for raw, or ok=false when the link
// must not be rendered as a link at all.
func ResolveHref(raw string) (href string, ok bool) {
	href = strings.TrimSpace(raw)
	if href == "" {
		return "", false
	}
	if strings.HasPrefix(href, "/") || strings.HasPrefix(href, "#") {
		return href, true
	}
	u, err := url.Parse(href)
	if err != nil || !u.IsAbs() || !allowedSchemes[u.Scheme] {
		return "", false
	}
	return u.String(), true
}

// isExternal reports whether href leaves the site. Browsers treat "//host"
// and "/\host" as protocol-relative.
func isExternal(href string) bool {
	return strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") ||
		strings.HasPrefix(href, "//") || strings.HasPrefix(href, `/\`)
}

// linkRenderer replaces goldmark's link, image and autolink output.
type linkRenderer struct{}

func (linkRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindLink, renderLink)
	reg.Register(ast.KindImage, renderImage)
	reg.Register(ast.KindAutoLink, renderAutoLink)
}

// decoded undoes the escaping applied to the source and any entity
// references the author wrote, so validation sees the real URL.
func decoded(b []byte) string {
	return stdhtml.UnescapeString(string(b))
}

// decodedTitle also drops backslash escapes, which goldmark keeps in titles.
func decodedTitle(b []byte) string {
	return decoded(util.UnescapePunctuations(b))
}

func writeAnchorOpen(w util.BufWriter, href, title string) {
	w.WriteString(`<a href="`)
	w.WriteString(EscapeAttr(href))
	w.WriteByte('"')
	if title != "" {
		w.WriteString(` title="`)
		w.WriteString(EscapeAttr(title))
		w.WriteByte('"')
	}
	if isExternal(href) {
		w.WriteString(` rel="` + externalRel + `" target="_blank"`)
	}
	w.WriteByte('>')
}

func renderLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.Link)
	href, ok := ResolveHref(decoded(n.Destination))
	if !entering {
		if ok {
			w.WriteString("</a>")
		} else {
			w.WriteString("</span>")
		}
		return ast.WalkContinue, nil
	}
	if !ok {
		w.WriteString("<span>")
		return ast.WalkContinue, nil
	}
	writeAnchorOpen(w, href, decodedTitle(n.Title))
	return ast.WalkContinue, nil
}

func renderImage(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.Image)
	alt := EscapeAttr(decoded([]byte(plainText(n, source))))
	href, ok := ResolveHref(decoded(n.Destination))
	if !ok {
		w.WriteString("<span>" + alt + "</span>")
		return ast.WalkSkipChildren, nil
	}
	w.WriteString(`<img src="` + EscapeAttr(href) + `" alt="` + alt + `" loading="lazy" decoding="async"`)
	if title := decodedTitle(n.Title); title != "" {
		w.WriteString(` title="` + EscapeAttr(title) + `"`)
	}
	w.WriteString(" />")
	return ast.WalkSkipChildren, nil
}

func renderAutoLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.AutoLink)
	raw := decoded(n.URL(source))
	if n.AutoLinkType == ast.AutoLinkEmail && !strings.HasPrefix(strings.ToLower(raw), "mailto:") {
		raw = "mailto:" + raw
	}
	label := EscapeAttr(decoded(n.Label(source)))
	href, ok := ResolveHref(raw)
	if !ok {
		w.WriteString("<span>" + label + "</span>")
		return ast.WalkContinue, nil
	}
	writeAnchorOpen(w, href, "")
	w.WriteString(label)
	w.WriteString("</a>")
	return ast.WalkContinue, nil
}

func plainText(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(source))
		case *ast.String:
			b.Write(v.Value)
		default:
			b.WriteString(plainText(c, source))
		}
	}
	return b.String()
}
