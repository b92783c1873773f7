package pathlink

import "errors"

var (
	// ErrTimedOut names an unacknowledged send. No Link method returns
	// it: the ACK tracker reaps timed-out seqs and counts them as losses.
	ErrTimedOut = errors.New("pathlink: timed out")
	// ErrBusy names a path whose outstanding set has reached
	// max_inflight. Enqueue does not return it; backpressure is
	// reported through State() returning Busy.
	ErrBusy = errors.New("pathlink: busy")
	// ErrPathDown is returned once a Link's underlying connection has
	// been closed, either locally or by the peer.
	ErrPathDown = errors.New("pathlink: path down")
)
