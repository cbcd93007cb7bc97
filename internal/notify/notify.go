// Package notify pushes terminal build statuses to external chat channels.
// Notifications are fire-and-forget: a failed delivery is logged and the
// build never notices.
package notify

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"

	"github.com/plugforge/plugforge/internal/config"
	"github.com/plugforge/plugforge/pkg/model"
)

// Notifier fans a terminal build status out to every configured channel.
type Notifier struct {
	channels []channel
}

type channel interface {
	send(text string) error
	name() string
}

// FromConfig builds a Notifier from whatever channels the config enables.
// Returns nil when none are configured.
func FromConfig(cfg *config.Config) *Notifier {
	var channels []channel

	if cfg.SlackEnabled() {
		channels = append(channels, &slackChannel{
			api:     slack.New(cfg.SlackBotToken),
			channel: cfg.SlackChannel,
		})
		log.Println("Slack notifications enabled")
	}

	if cfg.TelegramEnabled() {
		api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Printf("Telegram notifications disabled: %v", err)
		} else {
			log.Printf("Telegram notifications enabled (bot @%s)", api.Self.UserName)
			channels = append(channels, &telegramChannel{api: api, chatID: cfg.TelegramChatID})
		}
	}

	if len(channels) == 0 {
		return nil
	}
	return &Notifier{channels: channels}
}

// BuildFinished announces a build that reached a terminal status.
func (n *Notifier) BuildFinished(b *model.Build) {
	text := message(b)
	if text == "" {
		return
	}
	for _, ch := range n.channels {
		go func(ch channel) {
			if err := ch.send(text); err != nil {
				log.Printf("notifying %s about build %s: %v", ch.name(), b.ID, err)
			}
		}(ch)
	}
}

func message(b *model.Build) string {
	switch b.Status {
	case model.StatusComplete:
		name := "build"
		if b.Plan != nil && b.Plan.PluginName != "" {
			name = b.Plan.PluginName
		}
		return fmt.Sprintf("✅ %s complete (build %s)\n%s",
			name, b.ID, model.Truncate(b.Summary, 300))
	case model.StatusError:
		return fmt.Sprintf("❌ Build %s failed: %s", b.ID, b.Error)
	case model.StatusCancelled:
		return fmt.Sprintf("🛑 Build %s cancelled", b.ID)
	default:
		return ""
	}
}

type slackChannel struct {
	api     *slack.Client
	channel string
}

func (s *slackChannel) send(text string) error {
	_, _, err := s.api.PostMessage(s.channel, slack.MsgOptionText(text, false))
	return err
}

func (s *slackChannel) name() string { return "slack" }

type telegramChannel struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

func (t *telegramChannel) send(text string) error {
	_, err := t.api.Send(tgbotapi.NewMessage(t.chatID, text))
	return err
}

func (t *telegramChannel) name() string { return "telegram" }
