package gateway

import "github.com/rahul/novaflow/internal/agent"

// Messenger defines the interface for communication gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start begins the message listening loop
	Start() error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Gateway is a Messenger that can also carry confirmation requests for
// irreversible steps. Owns reports whether a chat ID belongs to it.
type Gateway interface {
	Messenger
	agent.Confirmer
	Owns(chatID string) bool
}

// replyFor turns a Think result into the text sent back to the user.
func replyFor(response string, err error) string {
	if err != nil {
		return "I'm having trouble thinking right now..."
	}
	if response == "" {
		return "Done."
	}
	return response
}
