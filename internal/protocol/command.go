// Package protocol defines the provider callback wire format: the request
// envelope, the closed set of commands with their data, the provider error
// codes and the signed response envelope.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/attaboy/settlement/internal/domain"
)

// Command is one of the six callback commands.
type Command string

const (
	Authenticate  Command = "authenticate"
	Balance       Command = "balance"
	ChangeBalance Command = "changebalance"
	Status        Command = "status"
	Cancel        Command = "cancel"
	FinishRound   Command = "finishround"
)

// Commands lists every accepted command.
var Commands = []Command{Authenticate, Balance, ChangeBalance, Status, Cancel, FinishRound}

// ParseCommand rejects anything outside the closed set.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Commands {
		if c == known {
			return c, nil
		}
	}
	return "", domain.ErrUnknownCommand(s)
}

// Request is the inbound envelope.
type Request struct {
	Command          string          `json:"command"`
	Data             json.RawMessage `json:"data"`
	RequestTimestamp string          `json:"request_timestamp"`
	Hash             string          `json:"hash"`
}

// DecodeRequest parses a raw request body.
func DecodeRequest(body []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, domain.ErrValidation(fmt.Sprintf("malformed request: %v", err))
	}
	if req.Command == "" {
		return nil, domain.ErrMissingFields("command")
	}
	return &req, nil
}

// Decode unmarshals the command data into v and reports missing fields.
func (r *Request) Decode(v Validator) error {
	if len(r.Data) > 0 && string(r.Data) != "null" {
		if err := json.Unmarshal(r.Data, v); err != nil {
			return domain.ErrValidation(fmt.Sprintf("malformed %s data: %v", r.Command, err))
		}
	}
	if missing := v.Missing(); len(missing) > 0 {
		return domain.ErrMissingFields(missing...)
	}
	return nil
}
