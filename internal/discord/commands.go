package discord

import (
	"context"
	"log"
	"strings"

	"unmute-bot/internal/commands"
	"unmute-bot/pkg/cmd"

	"github.com/bwmarrin/discordgo"
)

const helpCommand = "help"

// parseCommand splits "<prefix>name args..." into its parts. ok is false for
// anything that is not addressed to the bot.
func parseCommand(prefix, content string) (name string, args []string, ok bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// onMessageCreate dispatches prefixed operator commands. Unknown names are
// ignored so the bot can share a prefix with others.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	name, args, ok := parseCommand(b.cfg.CommandPrefix, m.Content)
	if !ok {
		return
	}

	mc := &commands.Context{
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		Reply: func(msg string) error {
			_, err := s.ChannelMessageSend(m.ChannelID, msg)
			if err != nil {
				log.Printf("[WARN] Failed to reply in %s: %v", m.ChannelID, err)
			}
			return err
		},
	}

	if name == helpCommand {
		mc.IsAdmin = IsAdministrator(s, m.GuildID, m.Author.ID)
		if mc.IsAdmin {
			mc.Replyf("```\n%s```", b.registry.Usage(b.cfg.CommandPrefix))
		}
		return
	}

	c := b.registry.Get(name)
	if c == nil {
		return
	}
	mc.IsAdmin = IsAdministrator(s, m.GuildID, m.Author.ID)

	if err := c.Run(b.context(), &cmd.Invocation{Args: args, Data: mc}); err != nil {
		log.Printf("[ERR] Command %s failed: %v", name, err)
	}
}

func (b *Bot) context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}
