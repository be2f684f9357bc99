package gateway

import "fmt"

type Reason string

const (
	ReasonMissingCredential Reason = "missing-credential"
	ReasonHTTP              Reason = "http-error"
	ReasonEmptyResponse     Reason = "empty-response"
	ReasonMalformedPayload  Reason = "malformed-payload"
	ReasonTimeout           Reason = "timeout"
)

// Error is the only error AnalyzeImage returns. Status is set for
// ReasonHTTP when the upstream answered.
type Error struct {
	Reason Reason
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("analysis gateway: %s (status %d)", e.Reason, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("analysis gateway: %s: %v", e.Reason, e.Err)
	default:
		return fmt.Sprintf("analysis gateway: %s", e.Reason)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is safe to show to the user.
func (e *Error) Message() string {
	switch e.Reason {
	case ReasonMissingCredential:
		return "Image analysis is not configured on this server."
	case ReasonHTTP:
		if e.Status != 0 {
			return fmt.Sprintf("The analysis service returned an error (status %d).", e.Status)
		}
		return "The analysis service could not be reached."
	case ReasonTimeout:
		return "The analysis service took too long to answer."
	default:
		return "The analysis service returned an unreadable answer."
	}
}
