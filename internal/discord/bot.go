package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/cdahabbo/rolesync/internal/rolesync"
	"github.com/cdahabbo/rolesync/internal/verify"
	"github.com/cdahabbo/rolesync/pkg/logger"
)

// Workflow is the verification surface the commands call into.
type Workflow interface {
	Verify(ctx context.Context, userID, habboName string, restart bool) (*verify.Result, error)
	GetRoles(ctx context.Context, userID, habboName, realm string) (*rolesync.Outcome, error)
	Unverify(ctx context.Context, userID string) (bool, error)
	MemberJoined(ctx context.Context, userID string) error
}

type BotConfig struct {
	GuildID      string
	AppID        string
	DefaultRealm string
	CodeTTL      time.Duration
	// HandlerTimeout bounds a single command or join event.
	HandlerTimeout time.Duration
}

type Bot struct {
	s    *discordgo.Session
	flow Workflow
	cfg  BotConfig
}

func NewBot(s *discordgo.Session, flow Workflow, cfg BotConfig) *Bot {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 2 * time.Minute
	}
	if cfg.DefaultRealm == "" {
		cfg.DefaultRealm = "com"
	}
	return &Bot{s: s, flow: flow, cfg: cfg}
}

// Run opens the gateway, registers the slash commands and blocks until ctx
// is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		logger.Infof("discord: connected as %s", r.User.Username)
	})
	b.s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.onInteraction(ctx, s, i)
	})
	b.s.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
		b.onMemberAdd(ctx, m)
	})

	if err := b.s.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	defer b.s.Close()

	appID := b.cfg.AppID
	if appID == "" && b.s.State.User != nil {
		appID = b.s.State.User.ID
	}
	if _, err := b.s.ApplicationCommandBulkOverwrite(appID, b.cfg.GuildID, Commands(), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	logger.Infof("discord: registered %d commands in guild %s", len(Commands()), b.cfg.GuildID)

	<-ctx.Done()
	return nil
}

func (b *Bot) onMemberAdd(ctx context.Context, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil || m.GuildID != b.cfg.GuildID {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.HandlerTimeout)
	defer cancel()
	if err := b.flow.MemberJoined(ctx, m.User.ID); err != nil {
		logger.Warnf("member join %s: %v", m.User.ID, err)
	}
}

func interactionUser(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func (b *Bot) onInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand || i.GuildID != b.cfg.GuildID {
		return
	}
	data := i.ApplicationCommandData()
	userID := interactionUser(i)
	opts := optionMap(data.Options)

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		logger.Warnf("defer interaction %s: %v", data.Name, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.HandlerTimeout)
	defer cancel()

	var embed *discordgo.MessageEmbed
	switch data.Name {
	case cmdVerify:
		name := opts.str("habbo", "")
		res, err := b.flow.Verify(ctx, userID, name, opts.boolean("restart"))
		embed = renderVerify(name, res, err, b.cfg.CodeTTL)
	case cmdGetRoles:
		name := opts.str("habbo", "")
		out, err := b.flow.GetRoles(ctx, userID, name, opts.str("hotel", b.cfg.DefaultRealm))
		embed = renderGetRoles(name, out, err)
	case cmdUnverify:
		target := opts.user("user")
		removed, err := b.flow.Unverify(ctx, target)
		if err != nil {
			logger.Errorf("unverify %s by %s: %v", target, userID, err)
		}
		embed = renderUnverify(target, removed, err)
	default:
		embed = errorEmbed("Unknown Command", "")
	}

	_, err = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
		Flags:  discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		logger.Warnf("followup %s for %s: %v", data.Name, userID, err)
	}
}
