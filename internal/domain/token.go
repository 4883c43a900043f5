package domain

// TokenKind identifies what a signed token may be used for.
type TokenKind string

const (
	TokenRegistration TokenKind = "registration"
	TokenSession      TokenKind = "session"
	TokenReset        TokenKind = "reset"
)

func (k TokenKind) String() string { return string(k) }
