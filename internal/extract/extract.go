package extract

import (
	"context"
	"fmt"
	"mime"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
	"go.uber.org/zap"
)

const (
	MimeTextPlain = "text/plain"
	MimeMarkdown  = "text/markdown"
)

var mimeByExt = map[string]string{
	".txt":      MimeTextPlain,
	".text":     MimeTextPlain,
	".md":       MimeMarkdown,
	".markdown": MimeMarkdown,
}

// MimeFromFilename guesses a supported mime type from the file extension.
// Returns "" when the extension is unknown.
func MimeFromFilename(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return mimeByExt[strings.ToLower(name[idx:])]
}

// SupportedExtensions lists the extensions Text can handle, sorted.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(mimeByExt))
	for ext := range mimeByExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Text converts an uploaded document body into plain retrievable text.
// Binary formats are not parsed here and report ErrUnsupportedFormat.
func Text(ctx context.Context, data []byte, mimeType string) (string, error) {
	mt := mimeType
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mt = parsed
	}
	mt = strings.ToLower(strings.TrimSpace(mt))
	switch mt {
	case MimeTextPlain:
		return decodePlain(data), nil
	case MimeMarkdown, "text/x-markdown":
		return markdownToText(ctx, data)
	default:
		return "", fmt.Errorf("%w: %s", appErr.ErrUnsupportedFormat, mimeType)
	}
}

// decodePlain keeps valid UTF-8 as is and reinterprets anything else as
// latin-1 so legacy text files never fail extraction.
func decodePlain(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

func markdownToText(ctx context.Context, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: markdown body is not valid utf-8", appErr.ErrExtraction)
	}
	md := goldmark.New()
	reader := gmtext.NewReader(data)
	doc := md.Parser().Parse(reader)

	var blocks []string
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		var txt string
		switch n := node.(type) {
		case *ast.FencedCodeBlock:
			txt = codeLines(n.Lines(), data)
		case *ast.CodeBlock:
			txt = codeLines(n.Lines(), data)
		default:
			txt = plainText(node, data)
		}
		if txt == "" {
			continue
		}
		blocks = append(blocks, txt)
	}
	logutil.GetLogger(ctx).Debug("markdown extracted",
		zap.Int("bytes", len(data)),
		zap.Int("blocks", len(blocks)),
	)
	return strings.Join(blocks, "\n\n"), nil
}

func codeLines(lines *gmtext.Segments, source []byte) string {
	var sb strings.Builder
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		sb.Write(line.Value(source))
	}
	return strings.TrimSpace(sb.String())
}

func plainText(n ast.Node, source []byte) string {
	var sb strings.Builder
	ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Kind() == ast.KindText {
			sb.Write(node.(*ast.Text).Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
