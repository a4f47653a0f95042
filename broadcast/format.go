package broadcast

import "fmt"

// ServerName is the reserved identity lifecycle announcements are
// attributed to.
const ServerName = "Server"

// Formatter renders events into wire lines. Every rendering of one event
// carries byte-identical message text; only the prefix may differ.
type Formatter interface {
	// Line renders ev for every recipient other than its origin. The same
	// text is appended to history.
	Line(ev Event) string

	// Echo renders ev for its origin. ok is false when the origin gets
	// nothing.
	Echo(ev Event) (line string, ok bool)

	// Welcome renders the greeting sent only to a newly joined client.
	Welcome(name string) string
}

// TextFormatter is the default line format:
//
//	alice: hi
//	Server: alice has joined the chat
//	Server: alice has left the chat
type TextFormatter struct {
	// EchoToSender makes the sender receive "You: <text>" for its own
	// chat lines.
	EchoToSender bool
}

// Line implements Formatter.
func (f TextFormatter) Line(ev Event) string {
	switch ev.Kind {
	case KindJoin:
		return fmt.Sprintf("%s: %s has joined the chat", ServerName, ev.OriginName)
	case KindLeave:
		return fmt.Sprintf("%s: %s has left the chat", ServerName, ev.OriginName)
	default:
		return ev.OriginName + ": " + ev.Text
	}
}

// Echo implements Formatter.
func (f TextFormatter) Echo(ev Event) (string, bool) {
	if !f.EchoToSender || ev.Kind != KindChat {
		return "", false
	}

	return "You: " + ev.Text, true
}

// Welcome implements Formatter.
func (f TextFormatter) Welcome(name string) string {
	return fmt.Sprintf("Welcome, %s!", name)
}
