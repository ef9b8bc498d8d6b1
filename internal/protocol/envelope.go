package protocol

import (
	"encoding/json"

	"github.com/attaboy/settlement/internal/clock"
	"github.com/attaboy/settlement/internal/integrity"
)

// TimestampLayout is the wire format of request/response timestamps (UTC).
const TimestampLayout = "2006-01-02 15:04:05"

// Response statuses.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Envelope is the signed response wrapper.
type Envelope struct {
	Request  json.RawMessage `json:"request"`
	Response Response        `json:"response"`
}

// Response is the signed half of the envelope.
type Response struct {
	Status            string      `json:"status"`
	ResponseTimestamp string      `json:"response_timestamp"`
	Hash              string      `json:"hash"`
	Data              interface{} `json:"data"`
}

// ErrorData is the data of an ERROR response.
type ErrorData struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Builder produces signed envelopes.
type Builder struct {
	signer *integrity.Signer
	clock  clock.Clock
}

// NewBuilder creates an envelope builder.
func NewBuilder(signer *integrity.Signer, clk clock.Clock) *Builder {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Builder{signer: signer, clock: clk}
}

// OK wraps data in a signed OK envelope echoing request.
func (b *Builder) OK(request []byte, data interface{}) *Envelope {
	if data == nil {
		data = struct{}{}
	}
	return b.build(request, StatusOK, data)
}

// Error wraps err in a signed ERROR envelope echoing request.
func (b *Builder) Error(request []byte, err error) *Envelope {
	return b.build(request, StatusError, ErrorData{
		ErrorCode:    CodeFor(err),
		ErrorMessage: MessageFor(err),
	})
}

func (b *Builder) build(request []byte, status string, data interface{}) *Envelope {
	ts := b.clock.Now().UTC().Format(TimestampLayout)
	return &Envelope{
		Request: echo(request),
		Response: Response{
			Status:            status,
			ResponseTimestamp: ts,
			Hash:              b.signer.SignResponse(status, ts),
			Data:              data,
		},
	}
}

// echo returns the request as JSON; an unparseable body is echoed as a string.
func echo(request []byte) json.RawMessage {
	if len(request) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(request) {
		return json.RawMessage(request)
	}
	quoted, _ := json.Marshal(string(request))
	return quoted
}
