package jwt

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Outcome classifies the result of [Issuer.Validate]. Every outcome other
// than OutcomeValid must be treated as unauthenticated.
type Outcome uint8

const (
	OutcomeValid Outcome = iota
	OutcomeExpired
	OutcomeMalformed
	OutcomeSignatureMismatch
	// OutcomeInvalidAudience covers both issuer and audience mismatches.
	OutcomeInvalidAudience
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeExpired:
		return "expired"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeSignatureMismatch:
		return "signature_mismatch"
	case OutcomeInvalidAudience:
		return "invalid_audience"
	default:
		return "unknown"
	}
}

var (
	errMissingKID = errors.New("missing kid")
	errUnknownKID = errors.New("unknown or retired kid")
	errClaims     = errors.New("invalid credential claims")
)

// classify maps parser errors onto outcomes once the signature has already
// been verified. golang-jwt wraps several sentinels into one error.
func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeValid
	case errors.Is(err, errMissingKID), errors.Is(err, errClaims):
		return OutcomeMalformed
	case errors.Is(err, errUnknownKID),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return OutcomeSignatureMismatch
	case errors.Is(err, jwt.ErrTokenMalformed):
		return OutcomeMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return OutcomeExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return OutcomeInvalidAudience
	default:
		return OutcomeMalformed
	}
}
