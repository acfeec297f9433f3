package gateway

import (
    "errors"
    "fmt"
    "net/http"
    "time"
)

// State is how far a request got through its lifecycle.
type State int

const (
    Accepted State = iota
    RateChecked
    BodyCollecting
    Parsed
    Admitted
    Delegating
    ResponseReady
    Sent
    Aborted
)

var stateNames = [...]string{"Accepted", "RateChecked", "BodyCollecting", "Parsed", "Admitted", "Delegating", "ResponseReady", "Sent", "Aborted"}

func (s State) String() string {
    if int(s) < len(stateNames) { return stateNames[s] }
    return fmt.Sprintf("State(%d)", int(s))
}

// Fixed client-facing messages. Nothing else ever reaches the wire in an
// error response.
const (
    msgMalformed        = "The request could not be parsed."
    msgForbidden        = "Client not allowed."
    msgTimeout          = "The request took too long."
    msgLengthRequired   = "Chunked request bodies are not supported; send Content-Length."
    msgTooLarge         = "Request too large."
    msgTooLargeToHandle = "Request too large for processing."
    msgRateLimited      = "Too many requests; retry later."
    msgInternal         = "Internal server error."
    msgResponseTooLarge = "Response too large."
    msgAtCapacity       = "Service at capacity; retry later."
    msgUnavailable      = "Service temporarily unavailable."
    msgGatewayTimeout   = "The request could not be completed in time."
)

// Abort ends a request early with Status. Err is the internal cause and is
// only ever logged.
type Abort struct {
    Status     int
    Message    string
    RetryAfter time.Duration
    Err        error
}

func (a *Abort) Error() string {
    if a.Err != nil { return fmt.Sprintf("%d %s: %v", a.Status, http.StatusText(a.Status), a.Err) }
    return fmt.Sprintf("%d %s", a.Status, http.StatusText(a.Status))
}

func (a *Abort) Unwrap() error { return a.Err }

func abort(status int, msg string, err error) *Abort {
    return &Abort{Status: status, Message: msg, Err: err}
}

// errSilent marks aborts where no response can or should be written: the
// client went away before sending anything, or the server is force-closing.
var errSilent = errors.New("connection dropped")
