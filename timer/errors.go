package timer

import "errors"

// ErrInvalidArgument is returned for a nil callback or an interval below
// the 15ms minimum tick.
var ErrInvalidArgument = errors.New("timer: invalid argument")
