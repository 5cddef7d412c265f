// Package cmd is the transport-agnostic command core shared by the chat
// dispatcher and the offline CLI. A command has a name, a description and
// Run(ctx, invocation); adapters decide how it is parsed and dispatched.
package cmd

import "context"

// Invocation carries the arguments and an opaque payload. The chat adapter
// sets Data to the message context, the CLI leaves it nil or sets its flags.
type Invocation struct {
	Args []string
	Data interface{}
}

// Command is identity plus execution. Permission checks and transport
// details live in middleware and adapters.
type Command interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) error
}
