package types

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/match-relay/internal/room"
)

func TestClientMessage_CreateRoomSettings(t *testing.T) {
	var m ClientMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"create_room","creatorName":"Ann","timeControl":{"base":300,"inc":2},"totalGames":3,"countdown":10}`), &m))

	s := m.Settings()
	assert.JSONEq(t, `{"base":300,"inc":2}`, string(s.TimeControl))
	assert.Equal(t, 3, s.TotalGames)
	assert.Equal(t, 10, s.Countdown)
}

func TestRoomJoined_FromRoom(t *testing.T) {
	r := room.New("r1", "AB123", "CD456", "Ann", room.Settings{TotalGames: 1}, 20, time.Now())
	require.NoError(t, r.Activate("Bo", "c-bo"))

	data, err := json.Marshal(NewRoomJoined(r, "AB123", room.RoleSeatB))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type":"room_joined","roomId":"r1","code":"AB123","role":"seatB",
		"players":{"a":"Ann","b":"Bo"},"settings":{"totalGames":1},
		"turn":{"moveCount":0,"sideToMove":"white"},"viewerCount":0
	}`, string(data))
}

func TestViewerUpdate_KeepsZeroCount(t *testing.T) {
	data, err := json.Marshal(NewViewerUpdate(0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"viewer_update","viewerCount":0}`, string(data))
}

func TestNewError(t *testing.T) {
	e := NewError(fmt.Errorf("join AB123: %w", room.ErrCodeNotFound))
	assert.Equal(t, TypeError, e.Type)
	assert.Equal(t, "not-found", e.Code)
	assert.Contains(t, e.Message, "room not found")
}
