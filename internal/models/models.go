package models

import "time"

// Member roles within a couple.
const (
	RoleCreator = "creator"
	RoleMember  = "member"
)

// User represents a registered user known to the fleet.
type User struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Nickname            string    `json:"nickname,omitempty"`
	PersonalCode        string    `json:"personal_code"`
	GameType            string    `json:"game_type"`
	AvailableForPairing bool      `json:"available_for_pairing"`
	IsOnline            bool      `json:"is_online"`
	LastSeen            time.Time `json:"last_seen"`
	DeviceID            string    `json:"device_id"`
	CreatedAt           time.Time `json:"created_at"`
}

// CoupleMember is one of the two members of a couple.
type CoupleMember struct {
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
	IsOnline bool      `json:"is_online"`
}

// Couple represents an exclusive pairing between two users. Couples are
// never physically deleted; dissolving one sets IsActive to false so the
// departing member's peer can still reconcile against the record.
type Couple struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CreatedBy string          `json:"created_by"`
	Members   [2]CoupleMember `json:"members"`
	GameType  string          `json:"game_type"`
	IsActive  bool            `json:"is_active"`
	JoinCode  string          `json:"join_code"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HasMember reports whether userID is one of the couple's members.
func (c *Couple) HasMember(userID string) bool {
	return c.Members[0].UserID == userID || c.Members[1].UserID == userID
}

// PartnerOf returns the other member's user ID, or "" if userID is not a
// member.
func (c *Couple) PartnerOf(userID string) string {
	switch userID {
	case c.Members[0].UserID:
		return c.Members[1].UserID
	case c.Members[1].UserID:
		return c.Members[0].UserID
	}
	return ""
}

// Join request states. A request starts optimistic and must end in exactly
// one of confirmed, expired or cancelled.
const (
	RequestOptimistic = "optimistic"
	RequestConfirmed  = "confirmed"
	RequestExpired    = "expired"
	RequestCancelled  = "cancelled"
)

// JoinRequest is a pairing request recorded locally before any
// acknowledgment from the shared store or broadcast channel is observed.
type JoinRequest struct {
	RequestID        string    `json:"request_id"`
	RequestingUserID string    `json:"requesting_user_id"`
	TargetUserID     string    `json:"target_user_id"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	State            string    `json:"state"`
}

// Terminal reports whether the request has reached a terminal state.
func (r *JoinRequest) Terminal() bool {
	return r.State != RequestOptimistic
}

// Card is a drawn or shared game card.
type Card struct {
	ID      string    `json:"id"`
	Title   string    `json:"title,omitempty"`
	Text    string    `json:"text"`
	DrawnBy string    `json:"drawn_by"`
	DrawnAt time.Time `json:"drawn_at"`
}

// SessionMessage is a chat message exchanged inside a game session.
type SessionMessage struct {
	ID       string    `json:"id"`
	SenderID string    `json:"sender_id"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// SessionParticipant tracks a user's membership in a session.
type SessionParticipant struct {
	JoinedAt time.Time `json:"joined_at"`
	IsActive bool      `json:"is_active"`
}

// GameSession is a shared session owned by an active couple.
type GameSession struct {
	ID            string                        `json:"id"`
	CoupleID      string                        `json:"couple_id"`
	SessionType   string                        `json:"session_type"`
	CreatedBy     string                        `json:"created_by"`
	CreatedAt     time.Time                     `json:"created_at"`
	UpdatedAt     time.Time                     `json:"updated_at"`
	IsActive      bool                          `json:"is_active"`
	CurrentCard   *Card                         `json:"current_card,omitempty"`
	Messages      []SessionMessage              `json:"messages"`
	SharedHistory []Card                        `json:"shared_history"`
	Participants  map[string]SessionParticipant `json:"participants"`
}

// HasMessage reports whether a message with the given ID was already
// applied to the session.
func (s *GameSession) HasMessage(id string) bool {
	for _, m := range s.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// HasSharedCard reports whether a card with the given ID is already part
// of the shared history.
func (s *GameSession) HasSharedCard(id string) bool {
	for _, c := range s.SharedHistory {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Envelope types carried on the broadcast channel.
const (
	EnvUserJoined      = "user_joined"
	EnvUserLeft        = "user_left"
	EnvPresence        = "presence_updated"
	EnvPairingCreated  = "pairing_created"
	EnvPairingEnded    = "pairing_ended"
	EnvSessionCreated  = "session_created"
	EnvSessionEnded    = "session_ended"
	EnvCardDrawn       = "card_drawn"
	EnvMessageReceived = "message_received"
	EnvStoreSync       = "store_sync"
)

// Envelope is the wire message exchanged between processes, either on the
// in-process broadcast channel or fanned out by the relay. Payload fields
// are optional; Type decides which ones are set. Every payload carries
// the full updated entity, never a diff.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SenderID  string          `json:"sender_id"`
	Timestamp time.Time       `json:"timestamp"`
	User      *User           `json:"user,omitempty"`
	Couple    *Couple         `json:"couple,omitempty"`
	Session   *GameSession    `json:"session,omitempty"`
	Card      *Card           `json:"card,omitempty"`
	Message   *SessionMessage `json:"message,omitempty"`
}
