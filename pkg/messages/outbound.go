package messages

// Server message kinds.
const (
	KindHandshakeAck         = "handshake_ack"
	KindQueued               = "queued"
	KindSearchCancelled      = "search_cancelled"
	KindGameStart            = "game_start"
	KindMoveUpdate           = "move_update"
	KindDrawOffer            = "draw_offer"
	KindDrawDeclined         = "draw_declined"
	KindDrawOfferCancelled   = "draw_offer_cancelled"
	KindGameOver             = "game_over"
	KindOpponentDisconnected = "opponent_disconnected"
	KindError                = "error"
)

// OutboundMessage is how we wrap responses before sending them to the
// client.
type OutboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// HandshakeAckPayload confirms authentication of the connection.
type HandshakeAckPayload struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Rating   int    `json:"rating"`
}

// QueuedPayload acknowledges a find_game request.
type QueuedPayload struct {
	Position int `json:"position"`
}

// GameStartPayload is sent when a game begins and replayed verbatim on
// reconnect so the client resumes from the current snapshot.
type GameStartPayload struct {
	SessionID      string   `json:"session_id"`
	Side           string   `json:"side"`
	OpponentName   string   `json:"opponent_name"`
	OpponentRating int      `json:"opponent_rating"`
	Board          string   `json:"board"`
	NextTurn       string   `json:"next_turn"`
	LegalMoves     []string `json:"legal_moves"`
	MoveHistory    []string `json:"move_history"`
}

// MoveUpdatePayload broadcasts an accepted move to both players.
type MoveUpdatePayload struct {
	SessionID   string   `json:"session_id"`
	Board       string   `json:"board"`
	NextTurn    string   `json:"next_turn"`
	LegalMoves  []string `json:"legal_moves"`
	LastMove    string   `json:"last_move"`
	MoveHistory []string `json:"move_history"`
}

// DrawOfferPayload notifies a player of the opponent's draw offer.
type DrawOfferPayload struct {
	By string `json:"by"`
}

// GameOverPayload carries the final result. Winner is "white", "black",
// "draw" or "aborted". RatingDeltas is keyed by side and omitted for
// aborted games.
type GameOverPayload struct {
	Winner       string         `json:"winner"`
	Reason       string         `json:"reason"`
	RatingDeltas map[string]int `json:"rating_deltas,omitempty"`
}

// OpponentDisconnectedPayload tells the remaining player how long the
// reconnect grace period runs before the game is forfeited.
type OpponentDisconnectedPayload struct {
	GraceSeconds int `json:"grace_seconds"`
}

// ErrorPayload is a user-visible error reply. It never closes the
// connection.
type ErrorPayload struct {
	Message string `json:"message"`
}
