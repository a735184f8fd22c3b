package domain

import "errors"

// Acquisition path failures. None of them is fatal to the process.
var (
	ErrLinkUnavailable = errors.New("serial link unavailable")
	ErrTransientRead   = errors.New("no usable response from sensor")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrEmptyResponse   = errors.New("empty response")
	ErrMalformedField  = errors.New("malformed field")
	ErrOutOfRange      = errors.New("reading out of range")
	ErrPersistence     = errors.New("log write failed")
	ErrForwarding      = errors.New("all telemetry endpoints failed")
	// ErrForwardingDisabled is returned while forwarding is switched off by policy.
	ErrForwardingDisabled = errors.New("telemetry forwarding disabled")
)

// Caller-facing failures.
var (
	ErrPortNotFound  = errors.New("serial port not found")
	ErrConnectFailed = errors.New("serial port connect failed")
	ErrLogNotFound   = errors.New("log file not found")
)
