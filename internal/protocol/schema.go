package protocol

import (
	"github.com/invopop/jsonschema"
)

// Schemas holds the JSON schemas of both message directions.
type Schemas struct {
	Server *jsonschema.Schema `json:"server"`
	Client *jsonschema.Schema `json:"client"`
}

// Schema reflects the wire messages into JSON schemas. Client actions may
// carry extra fields, which are recorded in the replay unchanged.
func Schema() Schemas {
	server := (&jsonschema.Reflector{}).Reflect(new(ServerMessage))
	server.Title = "Bomberman server message"
	server.Description = "Event sent by the game server over a lobby connection"

	client := (&jsonschema.Reflector{AllowAdditionalProperties: true}).Reflect(new(actionMessage))
	client.Title = "Bomberman client action"
	client.Description = "One action for the current tick; extra fields are echoed into the replay log"

	return Schemas{Server: server, Client: client}
}
