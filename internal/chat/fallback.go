package chat

// fallbackResponses are returned when the completion provider is
// unreachable, so the widget shows something friendly instead of an error.
var fallbackResponses = []string{
	"Hey there! I'm having trouble connecting to my brain right now, but I'd love to help you with anything about our store! What can I tell you about?",
	"Oops, my AI is taking a coffee break! But I'm here to help - what would you like to know about our products or services?",
	"Sorry about that! I'm back now. What were you asking about? I'm excited to help!",
}

// apologyEmpty replaces an empty provider reply.
const apologyEmpty = "I apologize, but I couldn't process your request."

// apologyFunction replaces the reply when a requested function fails.
const apologyFunction = "I encountered an error while processing your request. Please try again."
