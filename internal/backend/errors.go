package backend

import "errors"

// Network errors are transport-layer failures (connect, read, write,
// TLS, DNS, timeout) or the synthetic CodeError=-1 the upstream API
// returns for the same condition. ErrApplication wraps a CodeError!=0
// response that did reach the server.
var (
	ErrNetwork       = errors.New("backend: network error")
	ErrApplication   = errors.New("backend: application error")
	ErrNotAuthed     = errors.New("backend: not authorized")
	ErrAlreadyAuthed = errors.New("backend: already authorized")
	ErrForbidden     = errors.New("backend: role/tank/allowance check failed")
)

// codeNetworkError is the synthetic CodeError value the spec assigns
// to transport-layer failures so they are classified identically to a
// real network error returned by the server.
const codeNetworkError = -1

// apiError is an application-level or synthetic network error
// surfaced by the backend API.
type apiError struct {
	Code int
	Text string
}

func (e *apiError) Error() string {
	return e.Text
}

func (e *apiError) Unwrap() error {
	if e.Code == codeNetworkError {
		return ErrNetwork
	}
	return ErrApplication
}

// IsNetworkError reports whether err is (or wraps) a network-classified
// failure, as opposed to an application error the server explicitly
// returned.
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsApplicationError reports whether err is (or wraps) a CodeError!=0
// response from the server.
func IsApplicationError(err error) bool {
	return errors.Is(err, ErrApplication)
}
