package y2g_errors

import (
	"errors"
	"fmt"

	"github.com/mailfwd/y2g/internal/enum"
)

var (
	ErrMasterKeyInvalid = errors.New("master key must decode to 32 bytes")
	ErrSecretNotFound   = errors.New("secret not found")
)

// PipelineError marks a message preparation failure that no retry can fix.
type PipelineError struct {
	Msg string
}

func (e *PipelineError) Error() string {
	return e.Msg
}

func NewPipelineError(format string, args ...interface{}) *PipelineError {
	return &PipelineError{Msg: fmt.Sprintf(format, args...)}
}

// OAuthError signals that no usable Gmail credential is available. Kind maps
// directly to the alert emitted for it.
type OAuthError struct {
	Kind enum.AlertKind
	Msg  string
	Err  error
}

func (e *OAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *OAuthError) Unwrap() error {
	return e.Err
}

func NewOAuthError(kind enum.AlertKind, msg string, err error) *OAuthError {
	return &OAuthError{Kind: kind, Msg: msg, Err: err}
}

// AsOAuthError unwraps err to an *OAuthError if there is one in the chain.
func AsOAuthError(err error) *OAuthError {
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe
	}
	return nil
}

// AsPipelineError unwraps err to a *PipelineError if there is one in the chain.
func AsPipelineError(err error) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}

// PushoverDNSError distinguishes name resolution failures from other
// notification transport errors.
type PushoverDNSError struct {
	Err error
}

func (e *PushoverDNSError) Error() string {
	return fmt.Sprintf("pushover dns failure: %v", e.Err)
}

func (e *PushoverDNSError) Unwrap() error {
	return e.Err
}
