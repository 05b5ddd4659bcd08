package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"listing-wizard/internal/listing"
)

// Sender is implemented by *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts a short message to the operations channel for every
// published listing.
type Telegram struct {
	bot       Sender
	channelID int64
	logger    *zap.Logger
}

// NewTelegram connects to the Bot API. An empty token yields a notifier
// that only logs.
func NewTelegram(token string, channelID int64, logger *zap.Logger) (*Telegram, error) {
	if token == "" {
		logger.Warn("Channel notifications disabled - no bot token configured")
		return &Telegram{logger: logger}, nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	logger.Info("Telegram notifier authorized", zap.String("bot", bot.Self.UserName))

	return NewTelegramWithSender(bot, channelID, logger), nil
}

func NewTelegramWithSender(bot Sender, channelID int64, logger *zap.Logger) *Telegram {
	return &Telegram{bot: bot, channelID: channelID, logger: logger}
}

// ListingPublished never fails the publish: delivery errors are logged.
func (t *Telegram) ListingPublished(ctx context.Context, id int64, l *listing.Listing) {
	if t.bot == nil || t.channelID == 0 {
		return
	}

	msg := tgbotapi.NewMessage(t.channelID, FormatListing(id, l))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("Failed to send channel notification",
			zap.Int64("listing_id", id),
			zap.String("vehicle", string(l.Vehicle())),
			zap.Error(err))
	}
}

// FormatListing renders the channel message for a new listing.
func FormatListing(id int64, l *listing.Listing) string {
	var sb strings.Builder

	title := strings.TrimSpace(strings.Join(nonEmpty(
		text(l.Values["brand"]),
		text(l.Values["model"]),
		text(l.Values["variant"]),
	), " "))
	if title == "" {
		title = "Untitled"
	}

	fmt.Fprintf(&sb, "🚘 New %s listing #%d\n", l.Vehicle(), id)
	fmt.Fprintf(&sb, "<b>%s</b>\n", escape(title))
	if y, ok := l.Values["year"].(int64); ok {
		fmt.Fprintf(&sb, "Year: %d\n", y)
	}
	if km, ok := l.Values["kms_driven"].(int64); ok {
		fmt.Fprintf(&sb, "KMs: %d\n", km)
	}
	if p, ok := l.Values["expected_price"].(float64); ok {
		fmt.Fprintf(&sb, "Price: ₹%.0f\n", p)
	}
	if city := text(l.Values["city"]); city != "" {
		fmt.Fprintf(&sb, "City: %s\n", escape(city))
	}
	if phone := text(l.Values["seller_phone"]); phone != "" {
		fmt.Fprintf(&sb, "Contact: %s\n", escape(listing.FormatPhoneNumber(phone)))
	}
	fmt.Fprintf(&sb, "Submission: <code>%s</code>", l.SubmissionID)

	return sb.String()
}

func text(v any) string {
	s, _ := v.(string)
	return s
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string {
	return htmlEscaper.Replace(s)
}
