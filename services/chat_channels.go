package services

import (
	"context"
	"fmt"

	"safewalk/models"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"
)

// Team chat channels post into one fixed room, so they ignore the contact
// list and always have exactly one target.

// slackPoster abstracts the Slack API method we use, enabling test mocks.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type SlackChannel struct {
	client    slackPoster
	channelID string
}

func NewSlackChannel(token, channelID string) *SlackChannel {
	return &SlackChannel{client: slack.New(token), channelID: channelID}
}

func (c *SlackChannel) Type() string { return models.ChannelTypeSlack }

func (c *SlackChannel) Targets([]models.Contact) []string {
	if c.channelID == "" {
		return nil
	}
	return []string{c.channelID}
}

func (c *SlackChannel) Send(ctx context.Context, msg models.AlertMessage, target string) error {
	_, _, err := c.client.PostMessageContext(ctx, target,
		slack.MsgOptionText(msg.Body, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// discordSender abstracts the discordgo.Session method we use.
type discordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type DiscordChannel struct {
	session   discordSender
	channelID string
}

// NewDiscordChannel uses the REST API only; no gateway connection is opened.
func NewDiscordChannel(token, channelID string) (*DiscordChannel, error) {
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &DiscordChannel{session: sess, channelID: channelID}, nil
}

func (c *DiscordChannel) Type() string { return models.ChannelTypeDiscord }

func (c *DiscordChannel) Targets([]models.Contact) []string {
	if c.channelID == "" {
		return nil
	}
	return []string{c.channelID}
}

func (c *DiscordChannel) Send(ctx context.Context, msg models.AlertMessage, target string) error {
	if _, err := c.session.ChannelMessageSend(target, msg.Body, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}
