package room

import "encoding/json"

type Side string

const (
	SideWhite Side = "white"
	SideBlack Side = "black"
)

func (s Side) Other() Side {
	if s == SideWhite {
		return SideBlack
	}
	return SideWhite
}

// TurnState is derived from relayed moves for spectator resync. It is never validated.
type TurnState struct {
	MoveCount  int      `json:"moveCount"`
	SideToMove Side     `json:"sideToMove"`
	Moves      []string `json:"moves,omitempty"`
}

func newTurnState() TurnState {
	return TurnState{SideToMove: SideWhite}
}

func (t *TurnState) apply(uci string) {
	t.MoveCount++
	t.SideToMove = t.SideToMove.Other()
	if uci != "" {
		t.Moves = append(t.Moves, uci)
	}
}

func (t TurnState) clone() TurnState {
	t.Moves = append([]string(nil), t.Moves...)
	return t
}

// History keeps the most recent relayed payloads, evicting the oldest first.
type History struct {
	buf   []json.RawMessage
	start int
	n     int
}

// NewHistory returns a ring of the given capacity (at least 1).
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]json.RawMessage, capacity)}
}

func (h *History) Push(msg json.RawMessage) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = msg
		h.n++
		return
	}
	h.buf[h.start] = msg
	h.start = (h.start + 1) % len(h.buf)
}

// Items returns the retained payloads oldest first.
func (h *History) Items() []json.RawMessage {
	out := make([]json.RawMessage, 0, h.n)
	for i := 0; i < h.n; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}

func (h *History) Len() int { return h.n }
func (h *History) Cap() int { return len(h.buf) }
