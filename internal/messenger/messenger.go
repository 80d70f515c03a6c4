// Package messenger delivers transactional notifications to users.
package messenger

import (
	"fmt"
	"sync"
	"time"
)

// Message is one notification, already rendered to plain text.
type Message struct {
	Title string
	Text  string
}

// Messenger delivers messages. Implementations are fire-and-forget
// friendly; callers decide whether a failed delivery is fatal.
type Messenger interface {
	Send(addr string, msg Message) error
}

// EmailVerification carries the code a user must echo back to prove
// control of their address.
func EmailVerification(code string, expires time.Time) Message {
	return Message{
		Title: "Verify your email address",
		Text: fmt.Sprintf(
			"Your verification code is: %s\n\nThe code expires %s UTC. If you did not request it, ignore this message.",
			code, expires.UTC().Format(time.RFC3339)),
	}
}

// InviteCreated notifies an invitee that they have been invited.
func InviteCreated(orgName, invitedBy string) Message {
	return Message{
		Title: fmt.Sprintf("You have been invited to join %s", orgName),
		Text: fmt.Sprintf(
			"%s has invited you to join the organization %q. Open the app to accept. You will need the confirmation code, which the inviter shares with you directly.",
			invitedBy, orgName),
	}
}

// InviteAccepted notifies the inviter that the invitee responded.
func InviteAccepted(orgName, inviteeEmail string) Message {
	return Message{
		Title: fmt.Sprintf("%s accepted your invite", inviteeEmail),
		Text: fmt.Sprintf(
			"%s has accepted the invite to %q. Open the app to confirm their membership.",
			inviteeEmail, orgName),
	}
}

// MemberAdded confirms completed membership to the new member.
func MemberAdded(orgName string) Message {
	return Message{
		Title: fmt.Sprintf("You are now a member of %s", orgName),
		Text:  fmt.Sprintf("Your membership in the organization %q has been confirmed.", orgName),
	}
}

// ErrorReport is sent to the operator address when the server hits an
// unexpected error.
func ErrorReport(requestID string, err error) Message {
	return Message{
		Title: "Unexpected error on your server",
		Text:  fmt.Sprintf("Request %s failed with an unexpected error:\n\n%v", requestID, err),
	}
}

// Memory records messages instead of delivering them. Used in tests and
// as the default when no SMTP host is configured.
type Memory struct {
	mu   sync.Mutex
	sent map[string][]Message
}

func NewMemory() *Memory {
	return &Memory{sent: make(map[string][]Message)}
}

func (m *Memory) Send(addr string, msg Message) error {
	m.mu.Lock()
	m.sent[addr] = append(m.sent[addr], msg)
	m.mu.Unlock()
	return nil
}

// Sent returns the messages delivered to addr, oldest first.
func (m *Memory) Sent(addr string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent[addr]...)
}

// LastSent returns the newest message delivered to addr.
func (m *Memory) LastSent(addr string) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.sent[addr]
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}
