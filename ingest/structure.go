package ingest

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// structureProfile summarizes the structural markers found in a text region.
// The router uses it to spot chunks whose layout a plain splitter handles
// poorly; the processor uses it to estimate batch complexity up front.
type structureProfile struct {
	listItems  int
	codeBlocks int
	tableRows  int
}

// structured reports whether the region carries any layout a refiner should
// look at. A single pipe row is treated as prose; tables need at least two.
func (p structureProfile) structured() bool {
	return p.listItems > 0 || p.codeBlocks > 0 || p.tableRows >= 2
}

// scanStructure parses the region as markdown and counts list items and code
// blocks from the AST. Pipe-delimited table rows are counted from the raw
// lines, since the base parser has no table extension and surfaces them as
// ordinary paragraphs. A fresh parser per call keeps the scan safe under
// concurrent use.
func scanStructure(text string) structureProfile {
	var p structureProfile

	root := goldmark.DefaultParser().Parse(gmtext.NewReader([]byte(text)))
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindListItem:
			p.listItems++
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			p.codeBlocks++
		}
		return ast.WalkContinue, nil
	})

	for _, line := range strings.Split(text, "\n") {
		if strings.Count(strings.TrimSpace(line), "|") >= 2 {
			p.tableRows++
		}
	}
	return p
}
