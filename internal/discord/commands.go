package discord

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/cdahabbo/rolesync/internal/habbo"
	"github.com/cdahabbo/rolesync/internal/rolesync"
	"github.com/cdahabbo/rolesync/internal/verify"
)

const (
	cmdVerify   = "verify"
	cmdGetRoles = "getroles"
	cmdUnverify = "unverify"
)

var manageRoles int64 = discordgo.PermissionManageRoles

// Commands are registered as guild commands on startup.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdVerify,
			Description: "Link your Habbo account",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "habbo", Description: "Your Habbo username", Required: true},
				{Type: discordgo.ApplicationCommandOptionBoolean, Name: "restart", Description: "Discard the pending verification and start over"},
			},
		},
		{
			Name:        cmdGetRoles,
			Description: "Assign roles from your Habbo groups",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "habbo", Description: "Your linked Habbo username", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "hotel", Description: "Hotel domain, e.g. com, nl, es"},
			},
		},
		{
			Name:                     cmdUnverify,
			Description:              "Remove a member's Habbo link",
			DefaultMemberPermissions: &manageRoles,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member to unverify", Required: true},
			},
		},
	}
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) options {
	m := make(options, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func (o options) str(name, def string) string {
	if v, ok := o[name]; ok && v.Type == discordgo.ApplicationCommandOptionString {
		return v.StringValue()
	}
	return def
}

func (o options) boolean(name string) bool {
	if v, ok := o[name]; ok && v.Type == discordgo.ApplicationCommandOptionBoolean {
		return v.BoolValue()
	}
	return false
}

func (o options) user(name string) string {
	if v, ok := o[name]; ok && v.Type == discordgo.ApplicationCommandOptionUser {
		return v.UserValue(nil).ID
	}
	return ""
}

func errorEmbed(title, desc string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: desc, Color: colorRed}
}

func renderVerify(name string, res *verify.Result, err error, ttl time.Duration) *discordgo.MessageEmbed {
	switch {
	case errors.Is(err, verify.ErrAlreadyVerified):
		e := &discordgo.MessageEmbed{Title: "Already Verified ✅", Color: colorGreen}
		if res != nil && res.Profile != nil {
			e.Description = "**Verified:** `" + res.Profile.Habbo + "`"
			e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: habbo.AvatarURL(res.Profile.Habbo)}
		}
		return e
	case errors.Is(err, verify.ErrUsernameMismatch):
		stored := ""
		if res != nil && res.Session != nil {
			stored = res.Session.Habbo
		}
		return errorEmbed("Verification Failed", fmt.Sprintf(
			"The provided Habbo name `%s` does not match the name used during the initial verification: `%s`.\n"+
				"Use the same name, or run `/verify` with `restart: True` to start over.", name, stored))
	case errors.Is(err, verify.ErrCodeNotFound):
		code := ""
		if res != nil && res.Session != nil {
			code = res.Session.Code
		}
		return errorEmbed("Verification Failed", "Your motto does not contain the verification code.\n"+
			"## `"+code+"`\nPlease ensure your motto contains the correct code and try again.")
	case errors.Is(err, verify.ErrProfileLookup):
		return errorEmbed("Verification Failed", "Could not fetch the Habbo profile for `"+name+"`. Check the name and try again.")
	case errors.Is(err, verify.ErrNoSession):
		return errorEmbed("Verification Expired", "There is no verification in progress. Run `/verify` to get a new code.")
	case err != nil:
		return errorEmbed("Error", "An unexpected error occurred. Please try again later.")
	}

	switch res.State {
	case verify.StateStarted:
		return &discordgo.MessageEmbed{
			Title: "Verification Started",
			Color: colorBlue,
			Description: fmt.Sprintf("Please include the following code in your Habbo motto:\n## `%s`\n"+
				"Run **`/verify`** again within %d minutes to complete the process.", res.Session.Code, int(ttl.Minutes())),
			Thumbnail: &discordgo.MessageEmbedThumbnail{URL: habbo.AvatarURL(res.Session.Habbo)},
		}
	default:
		e := &discordgo.MessageEmbed{
			Title:       "Verification Successful",
			Color:       colorGreen,
			Description: "**Habbo:** `" + res.HabboName + "`\n**Verified:** ✅",
			Thumbnail:   &discordgo.MessageEmbedThumbnail{URL: habbo.AvatarURL(res.HabboName)},
		}
		if res.Roles != nil {
			e.Fields = roleFields(res.Roles.Result)
		}
		return e
	}
}

func renderGetRoles(name string, out *rolesync.Outcome, err error) *discordgo.MessageEmbed {
	switch {
	case errors.Is(err, verify.ErrNotVerified):
		return errorEmbed("Not Verified", "Run `/verify` to link your Habbo account first.")
	case errors.Is(err, verify.ErrNotLinked):
		return errorEmbed("Not Linked", "`"+name+"` is not the Habbo account linked to you.")
	case errors.Is(err, verify.ErrProfileLookup):
		return errorEmbed("Lookup Failed", "Failed to fetch Habbo information for `"+name+"`. Please check the username and hotel.")
	case errors.Is(err, rolesync.ErrMemberNotFound):
		return errorEmbed("Error", "User is not in this server.")
	case err != nil:
		return errorEmbed("An Error Occurred", "Roles could not be updated right now.")
	}
	e := &discordgo.MessageEmbed{Title: "Roles Update", Color: colorOrange}
	if len(out.Result.Added) > 0 {
		e.Color = colorGreen
	}
	e.Fields = roleFields(out.Result)
	if len(e.Fields) == 0 {
		e.Description = "No roles were assigned or removed."
	}
	return e
}

func renderUnverify(userID string, removed bool, err error) *discordgo.MessageEmbed {
	switch {
	case err != nil:
		return errorEmbed("Error", "Could not unverify "+mention(userID)+".")
	case !removed:
		return &discordgo.MessageEmbed{Title: "Not Verified", Color: colorOrange, Description: mention(userID) + " has no linked Habbo account."}
	default:
		return &discordgo.MessageEmbed{Title: "User Unverified", Color: colorGreen, Description: mention(userID) + " was unverified and moved back to awaiting verification."}
	}
}
