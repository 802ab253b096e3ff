package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

var headingLineRE = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// sentenceBoundaryRE matches the whitespace immediately following a sentence
// terminator, used to split an oversized paragraph without a tokenizer that
// understands sentence structure.
var sentenceBoundaryRE = regexp.MustCompile(`(?:[.!?])\s+`)

// tokenCounter wraps the cl100k_base BPE encoding used to size chunks against
// the configured token budgets.
type tokenCounter struct {
	enc *tiktoken.Tiktoken
}

func newTokenCounter() (*tokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base encoding: %w", err)
	}
	return &tokenCounter{enc: enc}, nil
}

func (t *tokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// section is one heading-delimited span of a document's extracted text.
type section struct {
	headingPath []string
	text        string
}

// splitSections breaks a document's plain-text body into heading-delimited
// sections. Extraction flattens HTML headings to Markdown-style "#" lines
// upstream of this call in the chunking pipeline's expectations; documents
// without headings become a single top-level section.
func splitSections(text string) []section {
	lines := strings.Split(text, "\n")
	var sections []section
	var path []string
	var body strings.Builder

	flush := func() {
		t := strings.TrimSpace(body.String())
		if t == "" {
			return
		}
		sections = append(sections, section{headingPath: append([]string{}, path...), text: t})
		body.Reset()
	}

	inFence := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}
		// "#" lines inside a code fence are code comments, not headings.
		if m := headingLineRE.FindStringSubmatch(line); m != nil && !inFence {
			flush()
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			if level-1 < len(path) {
				path = path[:level-1]
			}
			for len(path) < level-1 {
				path = append(path, "")
			}
			path = append(path, title)
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	if len(sections) == 0 {
		return []section{{text: strings.TrimSpace(text)}}
	}
	return sections
}

// blockKind classifies one content block of a section. Code and table blocks
// are atomic: they are never split across chunks, and one that alone exceeds
// the token cap forms its own chunk verbatim.
type blockKind int

const (
	blockParagraph blockKind = iota
	blockList
	blockCode
	blockTable
)

type contentBlock struct {
	kind blockKind
	text string
}

// splitBlocks parses a section's flattened text into typed content blocks:
// ``` fences delimit code, consecutive "|"-prefixed lines form a table,
// consecutive "- " lines form a list, and everything else splits into
// paragraphs on blank lines.
func splitBlocks(text string) []contentBlock {
	lines := strings.Split(text, "\n")
	var blocks []contentBlock
	var cur []string
	curKind := blockParagraph
	inFence := false

	flush := func() {
		t := strings.TrimSpace(strings.Join(cur, "\n"))
		if t != "" {
			blocks = append(blocks, contentBlock{kind: curKind, text: t})
		}
		cur = nil
		curKind = blockParagraph
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if !inFence {
				flush()
				curKind = blockCode
				inFence = true
			} else {
				inFence = false
			}
			cur = append(cur, line)
			if !inFence {
				flush()
			}
			continue
		}
		if inFence {
			cur = append(cur, line)
			continue
		}
		if trimmed == "" {
			flush()
			continue
		}
		kind := blockParagraph
		switch {
		case strings.HasPrefix(trimmed, "|"):
			kind = blockTable
		case strings.HasPrefix(trimmed, "- "):
			kind = blockList
		}
		if len(cur) > 0 && kind != curKind {
			flush()
		}
		curKind = kind
		cur = append(cur, line)
	}
	flush()
	return blocks
}

// ChunkParams carries the token budgets used to size parent and child chunks.
type ChunkParams struct {
	ChildTokens      int
	ChildMinTokens   int
	ParentTokens     int
	ParentMinTokens  int
}

// ChunkDocument splits a document into parent chunks (coarse context windows)
// each further split into child chunks (precise retrieval units), tracking
// heading-path lineage and deriving a stable content-addressed ID for every
// chunk so re-crawls of unchanged content produce identical IDs.
func ChunkDocument(doc Document, counter *tokenCounter, params ChunkParams) ([]ParentChunk, []Chunk) {
	sections := splitSections(doc.Text)

	var parents []ParentChunk
	var children []Chunk

	for _, sec := range sections {
		parentTexts := splitByTokenBudget(sec.text, counter, params.ParentTokens, params.ParentMinTokens)
		for pIdx, pText := range parentTexts {
			parentID := chunkID(doc.URL, sec.headingPath, "parent", pIdx)
			parents = append(parents, ParentChunk{
				ID:          parentID,
				SourceURL:   doc.URL,
				HeadingPath: sec.headingPath,
				Text:        pText,
				TokenCount:  counter.Count(pText),
			})

			childTexts := splitByTokenBudget(pText, counter, params.ChildTokens, params.ChildMinTokens)
			// A parent too small to split into more than one child is
			// indexed as its own child too, so its content stays searchable
			// at retrieval granularity rather than only reachable via parent
			// expansion from some other chunk.
			asParent := len(childTexts) <= 1
			for cIdx, cText := range childTexts {
				children = append(children, Chunk{
					ID:              chunkID(doc.URL, sec.headingPath, fmt.Sprintf("parent%d-child", pIdx), cIdx),
					ParentID:        parentID,
					SourceURL:       doc.URL,
					HeadingPath:     sec.headingPath,
					Text:            cText,
					TokenCount:      counter.Count(cText),
					DocType:         classifyDocType(cText),
					CodeIdentifiers: extractCodeIdentifiers(cText),
					IsParentAsChild: asParent,
				})
			}
		}
	}

	return parents, children
}

// splitByTokenBudget greedily accumulates content blocks until the token
// budget is reached, never emitting a final fragment below minTokens unless
// it's the only fragment available. Oversized paragraphs break on sentence
// boundaries and oversized lists on item boundaries; code and table blocks
// are never split — one that alone exceeds maxTokens is emitted whole as its
// own fragment.
func splitByTokenBudget(text string, counter *tokenCounter, maxTokens, minTokens int) []string {
	type unit struct {
		text   string
		atomic bool
	}
	var units []unit
	for _, blk := range splitBlocks(text) {
		switch {
		case blk.kind == blockCode || blk.kind == blockTable:
			units = append(units, unit{text: blk.text, atomic: true})
		case counter.Count(blk.text) <= maxTokens:
			units = append(units, unit{text: blk.text})
		case blk.kind == blockList:
			for _, p := range splitOversizedList(blk.text, counter, maxTokens) {
				units = append(units, unit{text: p})
			}
		default:
			for _, p := range splitOversizedParagraph(blk.text, counter, maxTokens) {
				units = append(units, unit{text: p})
			}
		}
	}

	var out []string
	var outAtomic []bool
	var cur strings.Builder
	curTokens := 0

	flush := func() {
		t := strings.TrimSpace(cur.String())
		if t != "" {
			out = append(out, t)
			outAtomic = append(outAtomic, false)
		}
		cur.Reset()
		curTokens = 0
	}

	for _, u := range units {
		uTokens := counter.Count(u.text)
		if u.atomic && uTokens > maxTokens {
			flush()
			out = append(out, u.text)
			outAtomic = append(outAtomic, true)
			continue
		}
		if curTokens > 0 && curTokens+uTokens > maxTokens {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(u.text)
		curTokens += uTokens
	}
	flush()

	if n := len(out); n >= 2 && !outAtomic[n-1] && !outAtomic[n-2] {
		last := out[n-1]
		if counter.Count(last) < minTokens {
			merged := out[n-2] + "\n\n" + last
			out = out[:n-2]
			out = append(out, merged)
		}
	}
	if len(out) == 0 {
		out = []string{strings.TrimSpace(text)}
	}
	return out
}

// splitOversizedList breaks a list block on item boundaries, greedily packing
// whole items the same way splitByTokenBudget packs blocks. Items are never
// cut mid-item.
func splitOversizedList(text string, counter *tokenCounter, maxTokens int) []string {
	var items []string
	var cur []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "- ") && len(cur) > 0 {
			items = append(items, strings.Join(cur, "\n"))
			cur = nil
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		items = append(items, strings.Join(cur, "\n"))
	}

	var out []string
	var b strings.Builder
	tokens := 0
	flush := func() {
		t := strings.TrimSpace(b.String())
		if t != "" {
			out = append(out, t)
		}
		b.Reset()
		tokens = 0
	}
	for _, it := range items {
		itTokens := counter.Count(it)
		if tokens > 0 && tokens+itTokens > maxTokens {
			flush()
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(it)
		tokens += itTokens
	}
	flush()
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// splitOversizedParagraph breaks a single paragraph that exceeds maxTokens
// into sentence-aligned fragments, greedily packing sentences the same way
// splitByTokenBudget packs paragraphs. A paragraph with no detectable
// sentence boundary at all (e.g. a single long run-on line) is returned
// whole — there is no safe place to cut it without splitting a sentence.
func splitOversizedParagraph(p string, counter *tokenCounter, maxTokens int) []string {
	idxs := sentenceBoundaryRE.FindAllStringIndex(p, -1)
	if len(idxs) == 0 {
		return []string{p}
	}

	var sentences []string
	start := 0
	for _, loc := range idxs {
		sentences = append(sentences, strings.TrimSpace(p[start:loc[1]]))
		start = loc[1]
	}
	if rest := strings.TrimSpace(p[start:]); rest != "" {
		sentences = append(sentences, rest)
	}

	var out []string
	var cur strings.Builder
	curTokens := 0
	flush := func() {
		t := strings.TrimSpace(cur.String())
		if t != "" {
			out = append(out, t)
		}
		cur.Reset()
		curTokens = 0
	}
	for _, s := range sentences {
		sTokens := counter.Count(s)
		if curTokens > 0 && curTokens+sTokens > maxTokens {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(s)
		curTokens += sTokens
	}
	flush()
	if len(out) == 0 {
		return []string{p}
	}
	return out
}

var codeIdentifierRE = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)

// maxCodeIdentifiers bounds the harvested identifier list per chunk; beyond
// this the extra terms add noise, not retrieval signal.
const maxCodeIdentifiers = 32

// classifyDocType reports the chunk's dominant content: "code" or "table"
// when every block is of that one kind, "prose" otherwise.
func classifyDocType(text string) string {
	blocks := splitBlocks(text)
	if len(blocks) == 0 {
		return "prose"
	}
	allCode, allTable := true, true
	for _, b := range blocks {
		if b.kind != blockCode {
			allCode = false
		}
		if b.kind != blockTable {
			allTable = false
		}
	}
	switch {
	case allCode:
		return "code"
	case allTable:
		return "table"
	default:
		return "prose"
	}
}

// extractCodeIdentifiers harvests identifier-like tokens from the chunk's
// code blocks, deduplicated in order of first appearance.
func extractCodeIdentifiers(text string) []string {
	var idents []string
	seen := make(map[string]bool)
	for _, b := range splitBlocks(text) {
		if b.kind != blockCode {
			continue
		}
		for _, m := range codeIdentifierRE.FindAllString(b.text, -1) {
			if seen[m] {
				continue
			}
			seen[m] = true
			idents = append(idents, m)
			if len(idents) >= maxCodeIdentifiers {
				return idents
			}
		}
	}
	return idents
}

// chunkIDLength is 32 hex chars (128 bits) of the full SHA-256 digest:
// enough to make accidental collisions practically impossible while keeping
// IDs short.
const chunkIDLength = 32

func chunkID(sourceURL string, headingPath []string, kind string, ordinal int) string {
	h := sha256.New()
	h.Write([]byte(sourceURL))
	h.Write([]byte("|"))
	h.Write([]byte(strings.Join(headingPath, ">")))
	h.Write([]byte("|"))
	h.Write([]byte(kind))
	h.Write([]byte(fmt.Sprintf("|%d", ordinal)))
	return hex.EncodeToString(h.Sum(nil))[:chunkIDLength]
}
