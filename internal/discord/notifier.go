package discord

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/cdahabbo/rolesync/internal/habbo"
	"github.com/cdahabbo/rolesync/internal/roles"
)

const (
	colorGreen  = 0x2ecc71
	colorBlue   = 0x3498db
	colorRed    = 0xe74c3c
	colorOrange = 0xe67e22
)

// Channels are the notification targets; empty ids are skipped.
type Channels struct {
	Log          string
	Verification string
	Banlogs      string
}

// Notifier posts embeds for role updates and verifications.
type Notifier struct {
	s        *discordgo.Session
	channels Channels
}

func NewNotifier(s *discordgo.Session, ch Channels) *Notifier {
	return &Notifier{s: s, channels: ch}
}

func (n *Notifier) send(ctx context.Context, channelID string, e *discordgo.MessageEmbed) error {
	if channelID == "" {
		return nil
	}
	_, err := n.s.ChannelMessageSendEmbed(channelID, e, discordgo.WithContext(ctx))
	return mapError(err)
}

func (n *Notifier) RolesUpdated(ctx context.Context, userID string, res roles.Result) error {
	return n.send(ctx, n.channels.Log, rolesUpdatedEmbed(userID, res))
}

func (n *Notifier) Verified(ctx context.Context, userID, habboName string) error {
	if err := n.send(ctx, n.channels.Verification, verifiedEmbed("User Verified", colorGreen, userID, habboName)); err != nil {
		return err
	}
	return n.send(ctx, n.channels.Banlogs, verifiedEmbed("Verification Log", colorBlue, userID, habboName))
}

func mention(userID string) string { return "<@" + userID + ">" }

func rolesUpdatedEmbed(userID string, res roles.Result) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:     "Roles Updated",
		Color:     colorGreen,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fields:    []*discordgo.MessageEmbedField{{Name: "User", Value: mention(userID)}},
	}
	e.Fields = append(e.Fields, roleFields(res)...)
	return e
}

func roleFields(res roles.Result) []*discordgo.MessageEmbedField {
	var f []*discordgo.MessageEmbedField
	if len(res.Added) > 0 {
		f = append(f, &discordgo.MessageEmbedField{Name: "Added Roles", Value: strings.Join(res.Added, "\n")})
	}
	if len(res.Removed) > 0 {
		f = append(f, &discordgo.MessageEmbedField{Name: "Removed Roles", Value: strings.Join(res.Removed, "\n")})
	}
	return f
}

func verifiedEmbed(title string, color int, userID, habboName string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Color:       color,
		Description: "**User:** " + mention(userID) + "\n**Habbo:** `" + habboName + "`\n**Verified:** ✅",
		Thumbnail:   &discordgo.MessageEmbedThumbnail{URL: habbo.AvatarURL(habboName)},
	}
}
