package session

// Mode is a session's current state. It gates which commands the dispatcher
// accepts from a chat.
type Mode int

const (
	ModeUnregistered Mode = iota // unknown identity; nothing is accepted
	ModeIdle                     // employee with no open question
	ModeComposing                // waiting for the question message
	ModeAwaitingLink             // waiting for the policy-document link
	ModeQueued                   // question is in the queue
	ModeInDialog                 // question promoted to a dialog
	ModeRating                   // dialog closed, waiting for the asker's rating
	ModeSupervisor               // supervisor; works in dialog threads
	ModeAdmin                    // administrator
)

var modeNames = map[Mode]string{
	ModeUnregistered: "unregistered",
	ModeIdle:         "idle",
	ModeComposing:    "composing",
	ModeAwaitingLink: "awaiting-link",
	ModeQueued:       "queued",
	ModeInDialog:     "in-dialog",
	ModeRating:       "rating",
	ModeSupervisor:   "supervisor",
	ModeAdmin:        "admin",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

// Role is the identity source's role code.
type Role uint8

const (
	RoleNone             Role = 0
	RoleEmployee         Role = 1
	RoleSupervisor       Role = 2
	RoleEmployeeReviewer Role = 3
	RoleManager          Role = 8
	RoleRoot             Role = 10
)

// DefaultMode maps a role to the mode a fresh session starts in.
func DefaultMode(r Role) Mode {
	switch r {
	case RoleEmployee, RoleEmployeeReviewer:
		return ModeIdle
	case RoleSupervisor:
		return ModeSupervisor
	case RoleManager, RoleRoot:
		return ModeAdmin
	default:
		return ModeUnregistered
	}
}

// CanSupervise reports whether the role may claim dialogs in threads.
func (r Role) CanSupervise() bool {
	switch r {
	case RoleSupervisor, RoleEmployeeReviewer, RoleManager, RoleRoot:
		return true
	}
	return false
}

// SkipsPolicyLink reports whether the role may queue a question without a
// policy-document link.
func (r Role) SkipsPolicyLink() bool {
	return r == RoleRoot
}
