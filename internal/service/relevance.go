package service

import (
	"time"

	"github.com/jjenkins/lovforslag/internal/config"
	"github.com/jjenkins/lovforslag/internal/model"
)

// BillTypeID is Sag.typeid for lovforslag
const BillTypeID = 3

// closedStatusIDs are Sag.statusid values for bills that are finished:
// vedtaget, forkastet, bortfaldet/tilbagetaget/udgået, afsluttet/behandlet,
// and stadfæstet.
var closedStatusIDs = map[int]struct{}{
	1: {}, 8: {}, 10: {}, 25: {}, 44: {},
	29: {}, 6: {}, 9: {},
	22: {}, 41: {}, 43: {},
	14: {}, 17: {}, 27: {}, 40: {},
	38: {},
}

// IsClosed reports whether a proposal should be dropped from active tracking.
// A bill is closed when it got a law number, has a final status, or is an
// old bill last updated before cutoff. Unparseable dates never close a bill.
func IsClosed(p *model.Proposal, cutoff time.Time) bool {
	if p.LawNumberDate != "" {
		return true
	}

	if p.StatusID != nil {
		if _, ok := closedStatusIDs[*p.StatusID]; ok {
			return true
		}
	}

	if p.TypeID != nil && *p.TypeID == BillTypeID && p.LastUpdated != "" {
		updated, err := config.ParseTimestamp(p.LastUpdated)
		if err == nil && updated.Before(cutoff) {
			return true
		}
	}

	return false
}

// PartitionClosed splits proposals into relevant ones and a count of closed ones
func PartitionClosed(proposals []*model.Proposal, cutoff time.Time) (relevant []*model.Proposal, closed int) {
	relevant = make([]*model.Proposal, 0, len(proposals))
	for _, p := range proposals {
		if IsClosed(p, cutoff) {
			closed++
			continue
		}
		relevant = append(relevant, p)
	}
	return relevant, closed
}
