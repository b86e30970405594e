// Package castderr defines the closed error taxonomy shared by the
// protocol clients, the session coordinator and the control-plane API.
package castderr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds the coordinator and control plane
// distinguish between. It is not a type name in the protocol sense, just
// an enum tag carried alongside a message.
type Kind int

const (
	DeviceNotFound Kind = iota
	UnsupportedProtocol
	InvalidAddress
	NotCasting
	UnknownAction
	ConnectionFailed
	Timeout
	Chromecast
	DLNA
	AirPlay
)

func (k Kind) String() string {
	switch k {
	case DeviceNotFound:
		return "deviceNotFound"
	case UnsupportedProtocol:
		return "unsupportedProtocol"
	case InvalidAddress:
		return "invalidAddress"
	case NotCasting:
		return "notCasting"
	case UnknownAction:
		return "unknownAction"
	case ConnectionFailed:
		return "connectionFailed"
	case Timeout:
		return "timeout"
	case Chromecast:
		return "chromecast"
	case DLNA:
		return "dlna"
	case AirPlay:
		return "airplay"
	default:
		return "unknown"
	}
}

// Error is the typed failure every protocol client and the coordinator
// return. It carries a Kind so the control plane can decide status codes
// without string-sniffing messages.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a plain *Error with a human-readable message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a Kind to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Of reports whether err is a *Error of the given kind.
func Of(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Chromecastf builds a chromecast(message) error.
func Chromecastf(format string, args ...interface{}) *Error {
	return New(Chromecast, fmt.Sprintf(format, args...))
}

// DLNAf builds a dlna(message) error.
func DLNAf(format string, args ...interface{}) *Error {
	return New(DLNA, fmt.Sprintf(format, args...))
}

// AirPlayf builds an airplay(message) error.
func AirPlayf(format string, args ...interface{}) *Error {
	return New(AirPlay, fmt.Sprintf(format, args...))
}
