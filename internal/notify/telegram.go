package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const telegramMaxMessage = 4000

// TelegramSender delivers push notifications through a Telegram bot.
type TelegramSender struct {
	bot       *telego.Bot
	allowFrom []int64
}

func NewTelegramSender(token string, allowFrom []int64) (*TelegramSender, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramSender{bot: bot, allowFrom: allowFrom}, nil
}

// Send pushes a message to a chat, chunked to fit Telegram's size limit.
// When an allow list is configured, unknown chats are refused.
func (t *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	if len(t.allowFrom) > 0 && !t.allowed(chatID) {
		return fmt.Errorf("chat %d is not in the allow list", chatID)
	}

	for _, chunk := range chunkMessage(text, telegramMaxMessage) {
		_, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk))
		if err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

func (t *TelegramSender) allowed(chatID int64) bool {
	for _, id := range t.allowFrom {
		if id == chatID {
			return true
		}
	}
	return false
}

// chunkMessage splits text into pieces within maxLen, preferring newline
// boundaries.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}
