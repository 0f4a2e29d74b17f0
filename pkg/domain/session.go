package domain

// Address is an opaque, comparable location produced by an AddressDeriver.
type Address string

// String returns the textual form of the address.
func (a Address) String() string { return string(a) }

// Role identifies who produced a message.
type Role string

const (
	RoleSubmitted Role = "submitted" // Sent by the local user
	RoleProduced  Role = "produced"  // Written back by the out-of-band processor
)

// Message is a single entry in a session history. Messages are never mutated once created.
type Message struct {
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// Session is the persisted conversation keyed by its correlation id.
type Session struct {
	CorrelationID  string    `json:"correlation_id"`
	Seed           int       `json:"seed"`
	ResultLocation Address   `json:"result_location"`
	Title          string    `json:"title"`
	Messages       []Message `json:"messages"`
}

// Clone returns a copy that does not share the message slice.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	return &c
}

// UnresolvedPoll marks a poll that exceeded its budget and must be resumed later.
type UnresolvedPoll struct {
	Location      Address `json:"location"`
	CorrelationID string  `json:"correlation_id,omitempty"`
}
