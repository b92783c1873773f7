package frame

import "errors"

// ErrNeedMore is returned by Decode when the buffer does not yet contain
// a complete frame; the caller should append more bytes and retry.
var ErrNeedMore = errors.New("frame: need more data")

// ErrMalformed is returned by Decode when the declared lengths are
// internally inconsistent, the magic does not match, or a hard cap is
// exceeded. Callers drop the offending frame and keep the connection
// open until a threshold of consecutive malformed frames is reached
// (see the error handling policy in the design doc).
var ErrMalformed = errors.New("frame: malformed")

// ErrUnknownProfile is raised when a frame names a proto_id outside the
// profile catalog's range. Treated the same as ErrMalformed by callers.
var ErrUnknownProfile = errors.New("frame: unknown profile")
