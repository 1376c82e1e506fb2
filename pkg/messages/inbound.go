package messages

import "encoding/json"

// Client message kinds.
const (
	KindHandshake       = "handshake"
	KindFindGame        = "find_game"
	KindCancelSearch    = "cancel_search"
	KindMove            = "move"
	KindResign          = "resign"
	KindOfferDraw       = "offer_draw"
	KindAcceptDraw      = "accept_draw"
	KindDeclineDraw     = "decline_draw"
	KindCancelDrawOffer = "cancel_draw_offer"
	KindPing            = "ping"
	KindPong            = "pong"
)

// InboundMessage is the generic wrapper for messages coming from the
// client. The "type" field tells us the action; "payload" is the data
// we parse further.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandshakePayload carries the session token the gateway authenticates
// the connection with.
type HandshakePayload struct {
	Token string `json:"token"`
}

// MovePayload carries one attempted move in engine notation.
type MovePayload struct {
	Move string `json:"move"`
}
