package index

// Posting records one document's occurrences of a term.
type Posting struct {
	DocName   string
	Frequency int
	Positions []int
}

type PostingList []Posting

// DocNames returns the document names of the list in order.
func (pl PostingList) DocNames() []string {
	names := make([]string, len(pl))
	for i, p := range pl {
		names[i] = p.DocName
	}
	return names
}

type TermEntry struct {
	Term     string
	Postings PostingList
}
