package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"listingintel/internal/domain"
)

// Slack posts alerts to an incoming webhook.
type Slack struct {
	WebhookURL string
	Channel    string
	Username   string
}

func (s Slack) Notify(ctx context.Context, alert domain.Alert) error {
	if err := slack.PostWebhookContext(ctx, s.WebhookURL, s.message(alert)); err != nil {
		return fmt.Errorf("slack notify: %w", err)
	}
	return nil
}

func (s Slack) message(alert domain.Alert) *slack.WebhookMessage {
	summary := fmt.Sprintf("%s dropped %.1f%%: %.2f -> %.2f", alert.URL, alert.PercentDelta*100, alert.PreviousPrice, alert.LatestPrice)
	header := fmt.Sprintf("%s price drop (score %.2f)", tierLabel(alert.Tier), alert.Score)
	return &slack.WebhookMessage{
		Channel:  s.Channel,
		Username: s.Username,
		Text:     summary,
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, header, false, false)),
			slack.NewSectionBlock(
				slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("<%s|listing> was *%.2f*, now *%.2f*", alert.URL, alert.PreviousPrice, alert.LatestPrice), false, false),
				nil, nil,
			),
		}},
	}
}

func tierLabel(tier string) string {
	switch tier {
	case domain.TierUrgent:
		return "Urgent"
	case domain.TierMedium:
		return "Medium"
	default:
		return "Monitor"
	}
}
