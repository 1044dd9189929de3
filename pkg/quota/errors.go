package quota

import "errors"

var (
	// ErrQuotaExceeded is returned when an upload or commit would push a
	// user's used space past their total allotment.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)
