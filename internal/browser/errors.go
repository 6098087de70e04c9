package browser

import "errors"

var (
	// ErrStaleHandle is returned for work attempted on a handle whose
	// browser is not running.
	ErrStaleHandle = errors.New("browser handle is not running")

	// ErrHandleClosed marks an operation that failed because the browser
	// was closed underneath it. It is not retryable on the same handle.
	ErrHandleClosed = errors.New("browser handle closed during operation")

	// ErrHandleRetired is returned when starting a handle its pool has
	// already released.
	ErrHandleRetired = errors.New("browser handle has been released")

	// ErrBusy is returned by TryDo while another operation holds the page.
	ErrBusy = errors.New("browser handle is busy")

	// ErrPoolExhausted is returned when every browser slot is taken.
	ErrPoolExhausted = errors.New("maximum concurrent browsers reached")
)
