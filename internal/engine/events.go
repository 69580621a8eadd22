package engine

import "github.com/FaVaGit/CardApp-sub001/internal/models"

// Event types delivered to the UI layer.
const (
	EventUserJoined       = "userJoined"
	EventUserLeft         = "userLeft"
	EventPresenceUpdated  = "presenceUpdated"
	EventPairingCreated   = "pairingCreated"
	EventPairingEnded     = "pairingEnded"
	EventSessionCreated   = "sessionCreated"
	EventSessionEnded     = "sessionEnded"
	EventSessionResumable = "sessionResumable"
	EventCardDrawn        = "cardDrawn"
	EventMessageReceived  = "messageReceived"
)

// Event is delivered to UI subscribers. Payloads carry the full updated
// entity so consumers replace their cached copy wholesale; they are
// never diffs.
type Event struct {
	Type    string
	User    *models.User
	Couple  *models.Couple
	Session *models.GameSession
	Card    *models.Card
	Message *models.SessionMessage
}
