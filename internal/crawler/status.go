package crawler

import "fmt"

// Status is the phase of a ChatCrawlResult.
type Status string

// Result phases. Finished and failed are terminal.
const (
	StatusStarted  Status = "started"
	StatusCrawled  Status = "crawled"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

var statusRank = map[Status]int{
	StatusStarted:  0,
	StatusCrawled:  1,
	StatusFinished: 2,
	StatusFailed:   2,
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// CanAdvance reports whether moving from s to next keeps the phase ordering
// started < crawled < {finished, failed}. Staying in place is allowed so a
// phase can be re-persisted with more detail.
func (s Status) CanAdvance(next Status) bool {
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	if s.Terminal() {
		return s == next
	}
	return nxt >= cur
}

// ErrStatusRegression is returned when a transition would move a result
// backwards.
type ErrStatusRegression struct {
	From Status
	To   Status
}

func (e ErrStatusRegression) Error() string {
	return fmt.Sprintf("status regression %s -> %s", e.From, e.To)
}
