package reconcile

import "github.com/alfredjeanlab/atlasgrid/internal/model"

// Debounce is a zone's pending-transition counter: the status observed on
// the most recent samples that differ from the committed status, and how
// many consecutive samples reported it.
type Debounce struct {
	Pending model.Status
	Count   int
}

// Idle reports whether no transition is pending.
func (d Debounce) Idle() bool {
	return d.Pending == "" && d.Count == 0
}

// Reduce folds one observed status into the debounce counter for a zone
// whose committed status is current. It returns the next counter and
// whether the pending status has now been seen on k consecutive samples and
// must be committed. k below 1 is treated as 1.
//
// Observing the committed status clears any pending transition. A change of
// pending status restarts the count. A counter that is already due stays
// due, so a failed commit is retried on the next agreeing sample.
func Reduce(d Debounce, observed, current model.Status, k int) (next Debounce, commit bool) {
	if k < 1 {
		k = 1
	}
	if observed == current {
		return Debounce{}, false
	}
	if observed == d.Pending {
		next = Debounce{Pending: observed, Count: d.Count + 1}
	} else {
		next = Debounce{Pending: observed, Count: 1}
	}
	return next, next.Count >= k
}
