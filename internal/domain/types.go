package domain

// PageSpan marks where a page starts inside a Document's text.
// Offset and Length are measured in runes.
type PageSpan struct {
	Number int
	Offset int
	Length int
}

// Document is a single source file loaded into plain text.
type Document struct {
	ID    string
	Path  string
	Text  string
	Pages []PageSpan
}

// PageAt returns the page number containing the rune offset. An offset in
// the separator between two pages belongs to the page that follows it.
// PageAt returns 0 when the document has no page information or the offset
// lies past the last page.
func (d Document) PageAt(offset int) int {
	for _, p := range d.Pages {
		if offset < p.Offset+p.Length && p.Length > 0 {
			return p.Number
		}
	}
	return 0
}

// Fragment is a contiguous slice of a document's text.
// SourceID and Source are keys back to the document, not live references.
type Fragment struct {
	ID       string
	SourceID string
	Source   string
	Text     string
	Offset   int
	Length   int
	Index    int
	Page     int
}

// IndexEntry is the unit stored in the vector index.
type IndexEntry struct {
	Fragment Fragment
	Vector   []float32
	Meta     map[string]string
}

// Hit is a retrieved fragment with its distance to the query.
type Hit struct {
	Fragment Fragment
	Distance float64
}

// RetrievalResult is ordered by ascending distance, most relevant first.
type RetrievalResult []Hit

// Texts returns the fragment texts in retrieval order.
func (r RetrievalResult) Texts() []string {
	out := make([]string, len(r))
	for i, h := range r {
		out[i] = h.Fragment.Text
	}
	return out
}

// Answer is the generated reply to one question.
type Answer struct {
	Question string
	Text     string
	Model    string
	Declined bool
	Sources  RetrievalResult
}
