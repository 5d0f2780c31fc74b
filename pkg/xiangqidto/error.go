package xiangqidto

// Error codes carried in DomainError.Code and in fail envelopes.
const (
	CodeValidation        = "validation"
	CodeIllegalMove       = "illegal_move"
	CodePerpetualCheck    = "perpetual_check"
	CodeTurnOwnership     = "turn_ownership"
	CodeStaleMatch        = "stale_match"
	CodeLockTimeout       = "lock_timeout"
	CodeMalformedPosition = "malformed_position"
	CodeNotFound          = "not_found"
	CodeRateLimited       = "rate_limited"
	CodeConflict          = "conflict"
	CodeSessionExpired    = "session_expired"
	CodeInternal          = "internal"
)

type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "xiangqi service error"
}

// Is matches on Code so errors.Is(err, ErrStaleMatch) holds for any stale-match error.
func (e DomainError) Is(target error) bool {
	t, ok := target.(DomainError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// With returns a copy carrying a detail message.
func (e DomainError) With(message string) DomainError {
	e.Message = message
	return e
}

var (
	ErrValidation        = DomainError{Code: CodeValidation}
	ErrIllegalMove       = DomainError{Code: CodeIllegalMove}
	ErrPerpetualCheck    = DomainError{Code: CodePerpetualCheck}
	ErrTurnOwnership     = DomainError{Code: CodeTurnOwnership}
	ErrStaleMatch        = DomainError{Code: CodeStaleMatch}
	ErrLockTimeout       = DomainError{Code: CodeLockTimeout, Retryable: true}
	ErrMalformedPosition = DomainError{Code: CodeMalformedPosition}
	ErrNotFound          = DomainError{Code: CodeNotFound}
	ErrRateLimited       = DomainError{Code: CodeRateLimited}
	ErrConflict          = DomainError{Code: CodeConflict}
	ErrSessionExpired    = DomainError{Code: CodeSessionExpired}
)
