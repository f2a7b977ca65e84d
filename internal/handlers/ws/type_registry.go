package ws

import (
	"reflect"
)

var typeRegistry = map[string]reflect.Type{}

func init() {
	// Register all message types
	RegisterType(&MessageJoinGroup{})
	RegisterType(&MessageLeaveGroup{})
	RegisterType(&MessageChatOpen{})
	RegisterType(&MessageRead{})
	RegisterType(&MessagePing{})
}

func RegisterType(msg Message) {
	typeRegistry[msg.GetType()] = reflect.TypeOf(msg).Elem()
}

// GetTypeRegistry returns the type registry for testing
func GetTypeRegistry() map[string]reflect.Type {
	return typeRegistry
}
