package cmd

// Middleware wraps a command (logging, permission checks, guild scoping).
type Middleware func(Command) Command

// Apply wraps c with mws in order, so the last middleware in the list runs
// first.
func Apply(c Command, mws ...Middleware) Command {
	for _, mw := range mws {
		c = mw(c)
	}
	return c
}
