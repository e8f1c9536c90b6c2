package password

import "errors"

// ErrCredentialFormat is the sentinel matched by every *CredentialFormatError.
var ErrCredentialFormat = errors.New("malformed stored credential")

// CredentialFormatError reports a stored hash or salt that cannot be used for
// verification: bad salt length, unknown scheme, unsupported version or a
// broken parameter block.
type CredentialFormatError struct {
	Reason string
}

func (e *CredentialFormatError) Error() string {
	return "password: " + ErrCredentialFormat.Error() + ": " + e.Reason
}

// Unwrap lets errors.Is match ErrCredentialFormat.
func (e *CredentialFormatError) Unwrap() error {
	return ErrCredentialFormat
}

func formatError(reason string) error {
	return &CredentialFormatError{Reason: reason}
}
