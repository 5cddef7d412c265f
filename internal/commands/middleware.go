package commands

import (
	"context"
	"log"

	"unmute-bot/pkg/cmd"
)

// WithGuildOnly drops invocations outside a server.
func WithGuildOnly() cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			mc, err := messageContext(inv)
			if err != nil {
				return err
			}
			if mc.GuildID == "" {
				return nil
			}
			return c.Run(ctx, inv)
		})
	}
}

// WithAdminOnly rejects authors without the Administrator permission.
func WithAdminOnly() cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			mc, err := messageContext(inv)
			if err != nil {
				return err
			}
			if !mc.IsAdmin {
				log.Printf("[WARN] User %s (%s) tried to run %s without Administrator", mc.AuthorName, mc.AuthorID, c.Name())
				mc.Replyf("This command is for administrators only.")
				return nil
			}
			return c.Run(ctx, inv)
		})
	}
}

// WithCommandLogger logs every execution and its outcome.
func WithCommandLogger() cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			err := c.Run(ctx, inv)

			mc, _ := messageContext(inv)
			if mc == nil {
				mc = &Context{}
			}
			if err != nil {
				log.Printf("[ERR] Command %s by %s (%s) in guild %s failed: %v", c.Name(), mc.AuthorName, mc.AuthorID, mc.GuildID, err)
			} else {
				log.Printf("[INFO] Command %s by %s (%s) in guild %s, args=%q", c.Name(), mc.AuthorName, mc.AuthorID, mc.GuildID, inv.Args)
			}
			return err
		})
	}
}
