package fetch

import "fmt"

// FailureKind is the closed taxonomy of fetch-cycle failures. The display
// layer renders each kind distinctly; kinds are checked, never message text.
type FailureKind string

const (
	// FailPageTimeout is a transient network or page-load failure.
	FailPageTimeout FailureKind = "page_timeout"
	// FailAPIRejected means the direct endpoint call returned non-2xx.
	FailAPIRejected FailureKind = "api_rejected"
	// FailLayoutChanged means even the scrape fallback found no usage
	// percentage in the rendered page.
	FailLayoutChanged FailureKind = "layout_changed"
)

// Error tags an underlying error with its failure kind.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from an error chain, or "".
func KindOf(err error) FailureKind {
	for err != nil {
		if fe, ok := err.(*Error); ok {
			return fe.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
