package admission

import "github.com/DoyleJ11/match-relay/internal/room"

// Match says which free seat, if any, carries the presented display name.
type Match string

const (
	MatchNone  Match = "none"
	MatchSeatA Match = "seatA"
	MatchSeatB Match = "seatB"
)

// Outcome is the row of the admission table that applies to an attempt.
type Outcome string

const (
	OutcomeNotFound          Outcome = "not-found"
	OutcomeViewerWait        Outcome = "viewer-wait"
	OutcomeRebindCreator     Outcome = "rebind-creator"
	OutcomeActivate          Outcome = "activate"
	OutcomeSpectate          Outcome = "spectate"
	OutcomeReconnect         Outcome = "reconnect"
	OutcomeSpectatorFallback Outcome = "spectator-fallback"

	// OutcomeRejoin is reported by Admit, never by Decide: the connection already
	// holds the role the code grants, so nothing changes.
	OutcomeRejoin Outcome = "rejoin"
)

// Admitted reports whether the outcome binds the connection to the room.
func (o Outcome) Admitted() bool {
	return o != OutcomeNotFound && o != OutcomeViewerWait
}

// Decide is the admission table. It has no side effects.
//
//	lobby  + spectator code            -> viewer wait
//	lobby  + player code + seat A name -> creator rebinds seat A, room stays in lobby
//	lobby  + player code               -> second player takes seat B, room activates
//	active + spectator code            -> spectate
//	active + player code + free seat   -> reconnect that seat
//	active + player code               -> spectate with a note
//	anything else                      -> not found
func Decide(state room.State, codeRole room.CodeRole, match Match) Outcome {
	switch state {
	case room.StateLobby:
		switch codeRole {
		case room.CodeSpectator:
			return OutcomeViewerWait
		case room.CodePlayer:
			if match == MatchSeatA {
				return OutcomeRebindCreator
			}
			return OutcomeActivate
		}
	case room.StateActive:
		switch codeRole {
		case room.CodeSpectator:
			return OutcomeSpectate
		case room.CodePlayer:
			if match == MatchSeatA || match == MatchSeatB {
				return OutcomeReconnect
			}
			return OutcomeSpectatorFallback
		}
	}
	return OutcomeNotFound
}

// matchOf computes the Match input for name. The caller holds the room lock.
func matchOf(r *room.Room, codeRole room.CodeRole, name string) Match {
	if codeRole != room.CodePlayer {
		return MatchNone
	}
	role, ok := r.MatchFreeSeat(name)
	if !ok {
		return MatchNone
	}
	if role == room.RoleSeatA {
		return MatchSeatA
	}
	// Seat B does not exist yet in a lobby, so this only happens once active.
	return MatchSeatB
}
