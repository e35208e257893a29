// Package command implements the chat commands a user can send instead of
// a normal message.
//
// A command is the configured prefix (default "/") immediately followed by
// a letter:
//
//	/clear, /reset     forget the conversation, its facts and the backend session
//	/status            report exchange count, last interaction, size and context length
//	/prompt [text]     show the system prompt, or replace it for future sessions
//	/help              list the commands
//
// Unknown commands get a usage hint rather than being sent to the model.
package command
