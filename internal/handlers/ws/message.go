package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
	"github.com/noteduco342/OMChat-backend/internal/service"
)

// MessageContext provides all dependencies needed for message processing
type MessageContext struct {
	Ctx          context.Context
	UserID       uint
	Client       *Client
	Hub          *Hub
	Reconciler   *service.ReadReconciler
	GroupService *service.GroupService
}

// Reply sends a {"type","payload"} frame back on the requesting connection.
func (ctx *MessageContext) Reply(eventType string, payload interface{}) error {
	frame, err := service.EncodeEvent(eventType, payload)
	if err != nil {
		return err
	}
	ctx.Hub.Send(ctx.Client, frame)
	return nil
}

// Message interface for all WebSocket message types
type Message interface {
	GetType() string
	Process(ctx *MessageContext) error
}

// SerializedMessage is the wire format wrapper
type SerializedMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorResponse is sent when message processing fails
type ErrorResponse struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func ToJson(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func FromJson(jsonBytes []byte, msg Message) error {
	if len(jsonBytes) == 0 || string(jsonBytes) == "null" {
		return nil
	}
	return json.Unmarshal(jsonBytes, msg)
}

func CreateMessage(msgType string, typeRegistry map[string]reflect.Type) (Message, error) {
	msgTypeReflect, ok := typeRegistry[msgType]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", msgType)
	}

	instance := reflect.New(msgTypeReflect).Interface()
	return instance.(Message), nil
}

// SendError queues an error frame for the client.
func SendError(hub *Hub, client *Client, code, message, details string) {
	data, err := json.Marshal(ErrorResponse{
		Type:    "error",
		Error:   message,
		Code:    code,
		Details: details,
	})
	if err != nil {
		return
	}
	hub.Send(client, data)
}

// SendAppError maps a service error onto an error frame. Internal causes
// are not exposed.
func SendAppError(hub *Hub, client *Client, err error) {
	SendError(hub, client, string(apperr.CodeOf(err)), apperr.MessageOf(err), "")
}
