package lookup

import (
	"errors"
	"fmt"
)

// Step names one link of the lookup chain.
type Step string

const (
	StepIP      Step = "ip"
	StepCoords  Step = "coordinates"
	StepFlyOver Step = "flyover"
)

// NetworkError reports a transport failure: DNS, refused connection,
// timeout, cancellation, or a breaker refusing the call.
type NetworkError struct {
	Step Step
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s lookup: network error: %v", e.Step, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerError reports a reachable upstream that did not answer with success.
// For the coordinate step a 200 response whose body carries success=false is
// also a ServerError; InBody is then set along with UpstreamMessage and IP.
type ServerError struct {
	Step            Step
	StatusCode      int
	Message         string
	InBody          bool
	UpstreamMessage string
	IP              string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s lookup: %s", e.Step, e.Message)
}

// IsNetworkError reports whether err is or wraps a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsServerError reports whether err is or wraps a *ServerError.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}
