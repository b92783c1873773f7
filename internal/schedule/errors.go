package schedule

import "errors"

// ErrNoPaths is returned when Assign is called with no healthy,
// non-busy path available to carry a fragment.
var ErrNoPaths = errors.New("schedule: no paths available")
