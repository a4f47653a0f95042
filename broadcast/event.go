package broadcast

import "github.com/cyberinferno/chatrelay/registry"

// Kind distinguishes chat lines from lifecycle announcements.
type Kind int

const (
	KindChat  Kind = iota // A chat line typed by a client
	KindJoin              // A client finished registration
	KindLeave             // A registered client went away
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindJoin:
		return "join"
	case KindLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// Event is one thing to fan out. It is consumed once by Engine.Deliver.
type Event struct {
	Kind       Kind
	OriginID   uint32
	OriginName string
	Text       string

	// Origin, when set, receives the welcome line for a join event or the
	// echo rendering of a chat event if the formatter produces one. It is
	// never part of the recipient snapshot.
	Origin registry.Member
}
