// Package discord adapts a discordgo session to the interfaces used by the
// sync driver and the verification workflow.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/cdahabbo/rolesync/internal/roles"
	"github.com/cdahabbo/rolesync/internal/rolesync"
)

// NewSession creates a bot session with the intents the bot relies on.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	s.StateEnabled = true
	return s, nil
}

// Guild is one guild seen through a session.
type Guild struct {
	s       *discordgo.Session
	guildID string
}

func NewGuild(s *discordgo.Session, guildID string) *Guild {
	return &Guild{s: s, guildID: guildID}
}

func (g *Guild) ID() string { return g.guildID }

// Available reports whether the guild is in the session state, i.e. the
// gateway delivered it after READY.
func (g *Guild) Available() bool {
	gd, err := g.s.State.Guild(g.guildID)
	return err == nil && gd != nil && !gd.Unavailable
}

func (g *Guild) MemberRoles(ctx context.Context, userID string) ([]string, error) {
	if m, err := g.s.State.Member(g.guildID, userID); err == nil {
		return append([]string(nil), m.Roles...), nil
	}
	m, err := g.s.GuildMember(g.guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	return m.Roles, nil
}

func (g *Guild) AddRole(ctx context.Context, userID, roleID string) error {
	return mapError(g.s.GuildMemberRoleAdd(g.guildID, userID, roleID, discordgo.WithContext(ctx)))
}

func (g *Guild) RemoveRole(ctx context.Context, userID, roleID string) error {
	return mapError(g.s.GuildMemberRoleRemove(g.guildID, userID, roleID, discordgo.WithContext(ctx)))
}

func (g *Guild) RoleName(roleID string) (string, bool) {
	r, err := g.s.State.Role(g.guildID, roleID)
	if err != nil || r == nil {
		return "", false
	}
	return r.Name, true
}

func (g *Guild) SetNickname(ctx context.Context, userID, nick string) error {
	return mapError(g.s.GuildMemberNickname(g.guildID, userID, nick, discordgo.WithContext(ctx)))
}

// mapError turns REST status codes into the errors the core packages test for.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", roles.ErrPermissionDenied, err)
		case http.StatusNotFound:
			if rest.Message != nil && rest.Message.Code == discordgo.ErrCodeUnknownMember {
				return fmt.Errorf("%w: %v", rolesync.ErrMemberNotFound, err)
			}
		}
	}
	return err
}

var (
	_ rolesync.Guild = (*Guild)(nil)
)
