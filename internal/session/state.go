package session

type State int

const (
	NotSetup State = iota
	AwaitingPinConfirm
	Locked
	Unlocked
	PinChangePendingOTP
	PinChangeActive
)

var stateNames = [...]string{
	NotSetup:            "not_setup",
	AwaitingPinConfirm:  "awaiting_pin_confirm",
	Locked:              "locked",
	Unlocked:            "unlocked",
	PinChangePendingOTP: "pin_change_pending_otp",
	PinChangeActive:     "pin_change_active",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsUnlocked reports whether a key is held in this state.
func (s State) IsUnlocked() bool {
	return s == Unlocked || s == PinChangePendingOTP || s == PinChangeActive
}
