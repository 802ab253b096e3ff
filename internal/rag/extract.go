package rag

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
	nethtml "golang.org/x/net/html"
)

// minExtractedBytes guards against readability "succeeding" on a page it
// actually gutted: anything under this is treated as a failed extraction.
const minExtractedBytes = 100

// extractDocument converts raw page bytes into a title+text Document, trying
// the readability library first and falling back to a small boilerplate-
// stripping heuristic when readability can't find a confident article body
// (e.g. pages that are mostly navigation, or malformed HTML), when the
// extracted content is suspiciously short, or when extraction dropped more
// than half the code blocks present in the source.
func extractDocument(pageURL string, body []byte) Document {
	if article, err := readability.FromReader(bytes.NewReader(body), mustParseURL(pageURL)); err == nil {
		text := strings.TrimSpace(article.TextContent)
		if len(text) >= minExtractedBytes && !droppedMostCodeBlocks(body, article.Content) {
			// Flatten the extracted HTML rather than taking TextContent
			// directly: the walker turns <h1>..<h6> into "#"-prefixed lines,
			// which is what the chunker's heading-path tracking consumes.
			if flattened := flattenContentHTML(article.Content); flattened != "" {
				return Document{
					URL:   pageURL,
					Title: strings.TrimSpace(article.Title),
					Text:  flattened,
				}
			}
			return Document{
				URL:   pageURL,
				Title: strings.TrimSpace(article.Title),
				Text:  normalizeWhitespace(article.TextContent),
			}
		}
	}

	return extractHeuristic(pageURL, body)
}

// flattenContentHTML renders an HTML fragment to plain text with headings
// marked as "#" lines, for downstream heading-path chunking.
func flattenContentHTML(fragment string) string {
	node, err := nethtml.Parse(strings.NewReader(fragment))
	if err != nil || node == nil {
		return ""
	}
	var b strings.Builder
	collectVisibleText(&b, node, false)
	return normalizeWhitespace(b.String())
}

// droppedMostCodeBlocks reports whether the extracted HTML retained fewer than
// half the <pre> blocks of the source — documentation pages are mostly code,
// and readability's scoring sometimes strips code-heavy sections wholesale.
func droppedMostCodeBlocks(source []byte, extractedHTML string) bool {
	srcBlocks := strings.Count(strings.ToLower(string(source)), "<pre")
	if srcBlocks == 0 {
		return false
	}
	kept := strings.Count(strings.ToLower(extractedHTML), "<pre")
	return kept*2 < srcBlocks
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// extractHeuristic prefers <main>/<article>, falls back to <body>, and skips
// obvious boilerplate containers (nav/footer/script/cookie banners).
func extractHeuristic(pageURL string, input []byte) Document {
	node, err := nethtml.Parse(bytes.NewReader(input))
	if err != nil || node == nil {
		return Document{URL: pageURL}
	}

	title := strings.TrimSpace(findFirstText(node, "title"))

	content := findFirstElement(node, "main")
	if content == nil {
		content = findFirstElement(node, "article")
	}
	if content == nil {
		content = findFirstElement(node, "body")
	}

	var b strings.Builder
	if content != nil {
		collectVisibleText(&b, content, false)
	}
	return Document{URL: pageURL, Title: title, Text: normalizeWhitespace(b.String())}
}

func findFirstElement(n *nethtml.Node, tag string) *nethtml.Node {
	var res *nethtml.Node
	var dfs func(*nethtml.Node)
	dfs = func(cur *nethtml.Node) {
		if res != nil {
			return
		}
		if cur.Type == nethtml.ElementNode && strings.EqualFold(cur.Data, tag) {
			res = cur
			return
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			dfs(c)
			if res != nil {
				return
			}
		}
	}
	dfs(n)
	return res
}

func findFirstText(n *nethtml.Node, tag string) string {
	el := findFirstElement(n, tag)
	if el == nil || el.FirstChild == nil {
		return ""
	}
	return el.FirstChild.Data
}

func collectVisibleText(b *strings.Builder, n *nethtml.Node, inPre bool) {
	if n.Type == nethtml.ElementNode {
		if isBoilerplateContainer(n) {
			return
		}
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "nav", "footer", "aside", "iframe":
			return
		case "pre":
			// Fence code blocks so the chunker can keep them atomic.
			b.WriteString("\n\n```\n")
			inPre = true
		case "code":
			inPre = true
		case "br", "hr":
			b.WriteString("\n")
		case "h1", "h2", "h3", "h4", "h5", "h6":
			b.WriteString("\n\n")
			b.WriteString(strings.Repeat("#", headingLevel(n.Data)))
			b.WriteString(" ")
		case "li":
			b.WriteString("\n- ")
		case "table":
			b.WriteString("\n\n")
		case "tr":
			b.WriteString("\n| ")
		case "p", "ul", "ol":
			b.WriteString("\n")
		}
	}

	if n.Type == nethtml.TextNode {
		data := n.Data
		if !inPre {
			data = strings.ReplaceAll(data, "\t", " ")
			data = strings.ReplaceAll(data, "\r", " ")
		}
		b.WriteString(data)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectVisibleText(b, c, inPre)
	}

	if n.Type == nethtml.ElementNode {
		switch strings.ToLower(n.Data) {
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "table":
			b.WriteString("\n\n")
		case "pre":
			b.WriteString("\n```\n\n")
		case "li":
			b.WriteString("\n")
		case "td", "th":
			b.WriteString(" | ")
		}
	}
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 1
}

func isBoilerplateContainer(n *nethtml.Node) bool {
	if n == nil || n.Type != nethtml.ElementNode {
		return false
	}
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if key != "id" && key != "class" && !strings.HasPrefix(key, "data-") {
			continue
		}
		val := strings.ToLower(attr.Val)
		if strings.Contains(val, "cookie") || strings.Contains(val, "consent") || strings.Contains(val, "gdpr") {
			return true
		}
	}
	return false
}

// normalizeWhitespace collapses runs of spaces and blank lines, except inside
// ``` fences, where code keeps its indentation verbatim.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	inFence := false
	for _, line := range lines {
		probe := strings.TrimSpace(line)
		if strings.HasPrefix(probe, "```") {
			inFence = !inFence
			out = append(out, probe)
			continue
		}
		if inFence {
			out = append(out, strings.TrimRight(line, " \t"))
			continue
		}
		trimmed := strings.TrimSpace(collapseSpaces(line))
		if trimmed == "" {
			if len(out) > 0 && out[len(out)-1] == "" {
				continue
			}
			out = append(out, "")
			continue
		}
		out = append(out, trimmed)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

func collapseSpaces(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return b.String()
}
