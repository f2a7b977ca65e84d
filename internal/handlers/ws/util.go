package ws

import (
	"encoding/json"
	"log"
)

func Serialize(msg Message) ([]byte, error) {
	payload, err := ToJson(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(SerializedMessage{Type: msg.GetType(), Payload: payload})
}

func Deserialize(jsonBytes []byte) (Message, error) {
	var wrapper SerializedMessage
	if err := json.Unmarshal(jsonBytes, &wrapper); err != nil {
		return nil, err
	}

	return DeserializeSerializedMessage(&wrapper)
}

func DeserializeSerializedMessage(wrapper *SerializedMessage) (Message, error) {
	msg, err := CreateMessage(wrapper.Type, typeRegistry)
	if err != nil {
		return nil, err
	}

	if err := FromJson(wrapper.Payload, msg); err != nil {
		return nil, err
	}

	return msg, nil
}

// Dispatch decodes one client frame and runs it. Failures are reported to
// the client as error frames; the connection stays open.
func Dispatch(ctx *MessageContext, frame []byte) {
	msg, err := Deserialize(frame)
	if err != nil {
		log.Printf("[ws] invalid frame from user %d: %v", ctx.UserID, err)
		SendError(ctx.Hub, ctx.Client, "invalid_message", "Invalid message format", err.Error())
		return
	}

	if err := msg.Process(ctx); err != nil {
		log.Printf("[ws] %s from user %d failed: %v", msg.GetType(), ctx.UserID, err)
		SendAppError(ctx.Hub, ctx.Client, err)
	}
}
