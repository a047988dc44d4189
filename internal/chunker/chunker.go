package chunker

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/docquery/internal/model"
	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
	"go.uber.org/zap"
)

var paragraphRe = regexp.MustCompile(`\n\s*\n`)

// Chunker splits extracted text into overlapping passages. Paragraphs are
// never cut in half; a chunk may exceed the target size when a single
// paragraph alone is larger than it.
type Chunker struct {
	targetSize int
	overlap    int
}

func NewChunker(targetSize, overlap int) *Chunker {
	return &Chunker{targetSize: targetSize, overlap: overlap}
}

type paragraph struct {
	text  string
	start int
	end   int
}

func (c *Chunker) Chunk(ctx context.Context, text string) ([]*model.Passage, error) {
	if c.targetSize <= 0 {
		return nil, fmt.Errorf("%w: target size must be positive, got %d", appErr.ErrInvalid, c.targetSize)
	}
	logger := logutil.GetLogger(ctx)
	paras := splitParagraphs(text)
	if len(paras) == 0 {
		return nil, nil
	}
	logger.Info("starting text chunking",
		zap.Int("size", len(text)),
		zap.Int("paragraphs", len(paras)),
		zap.Int("target_size", c.targetSize),
		zap.Int("overlap", c.overlap),
	)

	var passages []*model.Passage
	var buffer string
	index := 0
	startOff := 0
	endOff := 0

	flush := func() string {
		content := strings.TrimSpace(buffer)
		if content == "" {
			return ""
		}
		logger.Debug("closing chunk",
			zap.Int("index", index),
			zap.Int("chars", len(content)),
		)
		passages = append(passages, &model.Passage{
			Index:       index,
			Content:     content,
			CharCount:   len(content),
			StartOffset: startOff,
			EndOffset:   endOff,
		})
		index++
		return content
	}

	for _, p := range paras {
		if buffer != "" && len(buffer)+len(p.text) > c.targetSize {
			closed := flush()
			// Seed the next buffer with the overlap tail of the closed
			// content so neighbouring chunks share boundary context.
			tail := overlapTail(closed, c.overlap)
			if tail != "" {
				buffer = tail + "\n\n" + p.text
			} else {
				buffer = p.text
			}
			startOff = p.start
			endOff = p.end
			continue
		}
		if buffer == "" {
			buffer = p.text
			startOff = p.start
		} else {
			buffer = buffer + "\n\n" + p.text
		}
		endOff = p.end
	}
	flush()

	logger.Info("text chunking completed", zap.Int("passages", len(passages)))
	return passages, nil
}

// overlapTail returns the last overlap bytes of content, moved forward to a
// rune boundary so the seed is always valid UTF-8. Content shorter than the
// overlap is carried whole.
func overlapTail(content string, overlap int) string {
	if overlap <= 0 || content == "" {
		return ""
	}
	if len(content) <= overlap {
		return content
	}
	tail := content[len(content)-overlap:]
	for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
		tail = tail[1:]
	}
	return tail
}

// splitParagraphs cuts text on blank-line boundaries and keeps the source
// offsets of each trimmed paragraph. Whitespace-only segments are dropped.
func splitParagraphs(text string) []paragraph {
	seps := paragraphRe.FindAllStringIndex(text, -1)
	bounds := make([][2]int, 0, len(seps)+1)
	prev := 0
	for _, s := range seps {
		bounds = append(bounds, [2]int{prev, s[0]})
		prev = s[1]
	}
	bounds = append(bounds, [2]int{prev, len(text)})

	out := make([]paragraph, 0, len(bounds))
	for _, b := range bounds {
		seg := text[b[0]:b[1]]
		lead := len(seg) - len(strings.TrimLeftFunc(seg, unicode.IsSpace))
		trimmed := strings.TrimSpace(seg)
		if trimmed == "" {
			continue
		}
		start := b[0] + lead
		out = append(out, paragraph{
			text:  trimmed,
			start: start,
			end:   start + len(trimmed),
		})
	}
	return out
}
