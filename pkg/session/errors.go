package session

import "fmt"

// ConfigError reports an unusable session configuration: unknown
// persona, missing service URL, or an unwired component factory.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "session: config: " + e.Reason
}

// DeviceError reports a capture or playback device failure. At session
// start it is fatal before any state is touched; mid-session it tears
// the session down.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("session: device: %v", e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// DecodeError reports an undecodable inbound audio payload. One bad
// frame is skipped and logged, never fatal.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("session: decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TransportError reports a connection that failed permanently, either
// because the reconnect ceiling was hit or the service rejected the
// session.
type TransportError struct {
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: transport: %s: %v", e.Reason, e.Err)
	}
	return "session: transport: " + e.Reason
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
