package discord

import "github.com/bwmarrin/discordgo"

// PermissionChecker validates interaction authors before privileged slash
// commands run.
type PermissionChecker struct {
	ownerID string
}

// NewPermissionChecker creates a PermissionChecker with the given owner
// user ID.
func NewPermissionChecker(ownerID string) *PermissionChecker {
	return &PermissionChecker{ownerID: ownerID}
}

// IsOwner checks whether the interaction author is the configured bot owner.
// Returns false when no owner is configured.
func (p *PermissionChecker) IsOwner(i *discordgo.InteractionCreate) bool {
	if p.ownerID == "" {
		return false
	}
	return interactionUserID(i) == p.ownerID
}

// CanManage checks whether the interaction author may change guild-wide
// settings: the bot owner, or a member with the Manage Server permission.
func (p *PermissionChecker) CanManage(i *discordgo.InteractionCreate) bool {
	if p.IsOwner(i) {
		return true
	}
	if i.Member == nil {
		return false
	}
	return i.Member.Permissions&discordgo.PermissionManageGuild != 0
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
