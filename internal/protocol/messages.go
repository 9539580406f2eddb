// Package protocol defines the JSON messages exchanged with players over a
// lobby connection.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
)

// Event names a server message.
type Event string

const (
	EventStartGame      Event = "start_game"
	EventInitState      Event = "init_state"
	EventState          Event = "state"
	EventResume         Event = "resume"
	EventReconnectState Event = "reconnect_state"
	EventGameOver       Event = "game_over"
)

// ErrMalformed is returned for client payloads that are not a JSON object
// with a string "action" field.
var ErrMalformed = errors.New("malformed client message")

// ServerMessage is every message sent from server to player. Which fields are
// set depends on Event; state-carrying events embed a StateView.
type ServerMessage struct {
	Event         Event                `json:"event" jsonschema:"enum=start_game,enum=init_state,enum=state,enum=resume,enum=reconnect_state,enum=game_over"`
	ParticipantID *match.ParticipantID `json:"participantId,omitempty" jsonschema:"description=Set on start_game: the receiving player's identity"`
	*StateView
	WinnerID *match.ParticipantID `json:"winnerId,omitempty" jsonschema:"description=Set on game_over when the match has a winner"`
	Outcome  match.Outcome        `json:"outcome,omitempty" jsonschema:"enum=win,enum=draw"`
}

// StateView is a game state as players see it: players are keyed by their
// external identity and bombs carry the owner's identity.
type StateView struct {
	Tick    int                                `json:"tick"`
	Width   int                                `json:"width"`
	Height  int                                `json:"height"`
	Grid    [][]string                         `json:"grid" jsonschema:"description=Rows of tile names: EMPTY WALL DESTRUCTIBLE BOMB FIRE"`
	Players map[match.ParticipantID]PlayerView `json:"players"`
	Bombs   []BombView                         `json:"bombs"`
	Fire    []game.FireSnapshot                `json:"fire"`
}

// PlayerView is a player entry of a StateView.
type PlayerView struct {
	X     int  `json:"x"`
	Y     int  `json:"y"`
	Alive bool `json:"alive"`
}

// BombView is a bomb entry of a StateView.
type BombView struct {
	OwnerID match.ParticipantID `json:"owner_id"`
	X       int                 `json:"x"`
	Y       int                 `json:"y"`
	Timer   int                 `json:"timer"`
	Radius  int                 `json:"radius"`
}

// ClientMessage is a parsed player action. Params holds every field other
// than "action", echoed into the replay log verbatim.
type ClientMessage struct {
	Action game.Action
	Params json.RawMessage
}

// actionMessage documents the client payload for the schema.
type actionMessage struct {
	Action string `json:"action" jsonschema:"required,enum=STAY,enum=UP,enum=DOWN,enum=LEFT,enum=RIGHT,enum=BOMB"`
}

// View translates an exported snapshot for players. participants is indexed
// by internal id; entries outside it are dropped.
func View(snap game.Snapshot, participants []match.ParticipantID) *StateView {
	v := &StateView{
		Tick:    snap.Tick,
		Width:   snap.Width,
		Height:  snap.Height,
		Grid:    make([][]string, len(snap.Grid)),
		Players: make(map[match.ParticipantID]PlayerView, len(snap.Players)),
		Bombs:   make([]BombView, 0, len(snap.Bombs)),
		Fire:    make([]game.FireSnapshot, len(snap.Fire)),
	}
	for y, row := range snap.Grid {
		v.Grid[y] = append([]string(nil), row...)
	}
	for id, p := range snap.Players {
		if id < 0 || id >= len(participants) {
			continue
		}
		v.Players[participants[id]] = PlayerView{X: p.X, Y: p.Y, Alive: p.Alive}
	}
	for _, b := range snap.Bombs {
		if b.OwnerID < 0 || b.OwnerID >= len(participants) {
			continue
		}
		v.Bombs = append(v.Bombs, BombView{
			OwnerID: participants[b.OwnerID],
			X:       b.X,
			Y:       b.Y,
			Timer:   b.Timer,
			Radius:  b.Radius,
		})
	}
	copy(v.Fire, snap.Fire)
	return v
}

// ParticipantIDs returns the identities present in the view, ascending.
func (v *StateView) ParticipantIDs() []match.ParticipantID {
	ids := make([]match.ParticipantID, 0, len(v.Players))
	for id := range v.Players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// StartGame tells a player the match began and who they are.
func StartGame(id match.ParticipantID) ServerMessage {
	return ServerMessage{Event: EventStartGame, ParticipantID: &id}
}

// StateMessage wraps a view in a state-carrying event.
func StateMessage(event Event, view *StateView) ServerMessage {
	return ServerMessage{Event: event, StateView: view}
}

// Resume notifies a returning player before the reconnect state.
func Resume() ServerMessage {
	return ServerMessage{Event: EventResume}
}

// GameOver reports the end of the match. winner is nil on a draw.
func GameOver(winner *match.ParticipantID) ServerMessage {
	msg := ServerMessage{Event: EventGameOver, Outcome: match.OutcomeDraw}
	if winner != nil {
		id := *winner
		msg.WinnerID = &id
		msg.Outcome = match.OutcomeWin
	}
	return msg
}

// ParseClientMessage decodes {"action": NAME, ...params}. Unknown action
// names fail with game.ErrInvalidAction.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	raw, ok := fields["action"]
	if !ok {
		return ClientMessage{}, fmt.Errorf("%w: missing action", ErrMalformed)
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: action is not a string", ErrMalformed)
	}
	action, err := game.ParseAction(name)
	if err != nil {
		return ClientMessage{}, err
	}

	msg := ClientMessage{Action: action}
	delete(fields, "action")
	if len(fields) > 0 {
		params, err := json.Marshal(fields)
		if err != nil {
			return ClientMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		msg.Params = params
	}
	return msg, nil
}

// EncodeAction builds the client payload for an action with optional extra
// fields. An "action" key in params is overwritten.
func EncodeAction(action game.Action, params map[string]any) ([]byte, error) {
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["action"] = action
	return json.Marshal(body)
}
