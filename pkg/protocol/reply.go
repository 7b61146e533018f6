package protocol

import (
	"errors"
	"fmt"

	"github.com/auraspeak/broker/pkg/api"
	json "github.com/goccy/go-json"
)

// ErrBadRequest is returned for request payloads that cannot be decoded.
var ErrBadRequest = errors.New("bad request")

// Error codes carried by Reply.Code.
const (
	CodeDuplicateName   = "duplicate_name"
	CodeUnknownNode     = "unknown_node"
	CodeUnknownEndpoint = "unknown_endpoint"
	CodePeerUnreachable = "peer_unreachable"
	CodeInvalidProtocol = "invalid_protocol"
	CodeBadRequest      = "bad_request"
	CodeInternal        = "internal"
)

var codeErrors = map[string]error{
	CodeDuplicateName:   api.ErrDuplicateName,
	CodeUnknownNode:     api.ErrUnknownNode,
	CodeUnknownEndpoint: api.ErrUnknownEndpoint,
	CodePeerUnreachable: api.ErrPeerUnreachable,
	CodeInvalidProtocol: api.ErrInvalidProtocol,
	CodeBadRequest:      ErrBadRequest,
}

// Reply is the payload of PacketTypeReply.
type Reply struct {
	OK    bool            `json:"ok"`
	Code  string          `json:"code,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CodeFor maps an error to its wire code.
func CodeFor(err error) string {
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// NewReply builds the reply for a handler outcome.
func NewReply(result any, err error) Reply {
	if err != nil {
		return Reply{Code: CodeFor(err), Error: err.Error()}
	}
	r := Reply{OK: true}
	if result != nil {
		data, mErr := json.Marshal(result)
		if mErr != nil {
			return Reply{Code: CodeInternal, Error: fmt.Sprintf("encode result: %v", mErr)}
		}
		r.Data = data
	}
	return r
}

// RemoteError is a failed Reply turned back into an error.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "remote: " + e.Code
	}
	return "remote: " + e.Message
}

// Unwrap exposes the sentinel matching Code, so errors.Is works across the wire.
func (e *RemoteError) Unwrap() error {
	return codeErrors[e.Code]
}

// Err returns nil for an ok reply and a *RemoteError otherwise.
func (r Reply) Err() error {
	if r.OK {
		return nil
	}
	return &RemoteError{Code: r.Code, Message: r.Error}
}

// Decode unmarshals the reply data into v. A reply without data leaves v untouched.
func (r Reply) Decode(v any) error {
	if v == nil || len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode reply data: %w", err)
	}
	return nil
}
