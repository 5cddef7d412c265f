package discord

import (
	"github.com/bwmarrin/discordgo"
)

// IsAdministrator reports whether a user owns the guild or holds a role with
// the Administrator permission.
func IsAdministrator(s *discordgo.Session, guildID, userID string) bool {
	if guildID == "" || userID == "" {
		return false
	}

	guild, err := s.State.Guild(guildID)
	if err != nil || guild == nil {
		guild, err = s.Guild(guildID)
		if err != nil || guild == nil {
			return false
		}
	}
	if userID == guild.OwnerID {
		return true
	}

	member, err := s.State.Member(guildID, userID)
	if err != nil || member == nil {
		member, err = s.GuildMember(guildID, userID)
		if err != nil || member == nil {
			return false
		}
	}
	return hasAdminRole(guild, member.Roles)
}

func hasAdminRole(guild *discordgo.Guild, roleIDs []string) bool {
	for _, role := range guild.Roles {
		if role == nil || role.Permissions&discordgo.PermissionAdministrator == 0 {
			continue
		}
		for _, id := range roleIDs {
			if id == role.ID {
				return true
			}
		}
	}
	return false
}
