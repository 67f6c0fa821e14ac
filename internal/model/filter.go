package model

// ProposalFilter narrows a proposal listing. A digit-only Query is an exact
// id lookup. OrderByID pages in id order instead of most recently updated
// first.
type ProposalFilter struct {
	Limit        int
	Offset       int
	NumberPrefix string
	Query        string
	ITRelevant   *bool
	Topic        string
	OrderByID    bool
}
