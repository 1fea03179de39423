package session

// State is the session lifecycle state. Transitions are owned entirely
// by the Manager; no other component mutates it.
type State int

const (
	// StateIdle: no session. The only state a new session can start from.
	StateIdle State = iota

	// StateConnecting: dialing and handshaking with the voice service.
	StateConnecting

	// StateListening: microphone live, waiting for the user to speak.
	StateListening

	// StateProcessing: user turn ended, awaiting the service's response.
	StateProcessing

	// StateSpeaking: assistant audio is playing; the microphone is gated.
	StateSpeaking

	// StateReconnecting: connection dropped, redial in progress.
	StateReconnecting

	// StateError: the session failed terminally. Start begins a new one.
	StateError
)

var stateNames = map[State]string{
	StateIdle:         "IDLE",
	StateConnecting:   "CONNECTING",
	StateListening:    "LISTENING",
	StateProcessing:   "PROCESSING",
	StateSpeaking:     "SPEAKING",
	StateReconnecting: "RECONNECTING",
	StateError:        "ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Live reports whether a session exists in any form.
func (s State) Live() bool {
	return s != StateIdle && s != StateError
}
