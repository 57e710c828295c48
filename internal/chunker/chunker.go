package chunker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"lawbot/internal/domain"
)

// Strategy selects how fragment ends are chosen.
type Strategy string

const (
	// Recursive pulls each cut back to the strongest natural boundary in the window.
	Recursive Strategy = "recursive"
	// Fixed cuts every Size-Overlap runes regardless of content.
	Fixed Strategy = "fixed"
)

// separators are tried strongest first: paragraph, line, sentence, word.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune("? "),
	[]rune("! "),
	[]rune("; "),
	[]rune(" "),
}

// fragmentNamespace scopes the deterministic fragment IDs.
var fragmentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("lawbot/fragment"))

// Options configures a Chunker. Size and Overlap are measured in runes.
type Options struct {
	Size     int
	Overlap  int
	Strategy Strategy
}

// Chunker splits documents into overlapping fragments of at most Size runes.
type Chunker struct {
	size     int
	overlap  int
	strategy Strategy
}

// New validates the options and returns a Chunker.
func New(opts Options) (*Chunker, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", opts.Size)
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", opts.Size, opts.Overlap)
	}
	strategy := opts.Strategy
	switch strategy {
	case "":
		strategy = Recursive
	case Recursive, Fixed:
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", strategy)
	}
	return &Chunker{size: opts.Size, overlap: opts.Overlap, strategy: strategy}, nil
}

// Chunk covers the document with fragments that leave no gaps and overlap
// their predecessor by exactly the configured overlap.
func (c *Chunker) Chunk(document domain.Document) ([]domain.Fragment, error) {
	if strings.TrimSpace(document.Text) == "" {
		return nil, nil
	}
	runes := []rune(document.Text)
	spans := c.spans(runes)
	fragments := make([]domain.Fragment, 0, len(spans))
	for i, s := range spans {
		start, end := s[0], s[1]
		fragments = append(fragments, domain.Fragment{
			ID:       fragmentID(document.Path, start, end-start),
			SourceID: document.ID,
			Source:   document.Path,
			Text:     string(runes[start:end]),
			Offset:   start,
			Length:   end - start,
			Index:    i,
			Page:     document.PageAt(start),
		})
	}
	return fragments, nil
}

func (c *Chunker) spans(runes []rune) [][2]int {
	n := len(runes)
	if n <= c.size {
		return [][2]int{{0, n}}
	}
	var out [][2]int
	start := 0
	for {
		end := start + c.size
		if end >= n {
			out = append(out, [2]int{start, n})
			return out
		}
		if c.strategy == Recursive {
			end = c.boundary(runes, start, end)
		}
		out = append(out, [2]int{start, end})
		start = end - c.overlap
	}
}

// boundary returns the cut position for the window [start, limit). A natural
// boundary is accepted only in the latter half of the window and beyond the
// overlap, which keeps fragments reasonably full and guarantees progress.
func (c *Chunker) boundary(runes []rune, start, limit int) int {
	lowest := start + c.size/2
	if p := start + c.overlap + 1; p > lowest {
		lowest = p
	}
	window := runes[start:limit]
	for _, sep := range separators {
		if p := lastIndexAfter(window, sep); p >= 0 && start+p >= lowest {
			return start + p
		}
	}
	return limit
}

// lastIndexAfter returns the position just past the last occurrence of sep
// in s, or -1.
func lastIndexAfter(s, sep []rune) int {
outer:
	for i := len(s) - len(sep); i >= 0; i-- {
		for j := range sep {
			if s[i+j] != sep[j] {
				continue outer
			}
		}
		return i + len(sep)
	}
	return -1
}

func fragmentID(source string, offset, length int) string {
	key := source + ":" + strconv.Itoa(offset) + ":" + strconv.Itoa(length)
	return uuid.NewSHA1(fragmentNamespace, []byte(key)).String()
}
