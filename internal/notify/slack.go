package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/wonny/tradeflow/pkg/httputil"
)

// SlackText is a Slack mrkdwn text object
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SlackBlock is one Block Kit section
type SlackBlock struct {
	Type string    `json:"type"`
	Text SlackText `json:"text"`
}

// SlackPayload is the incoming-webhook body
type SlackPayload struct {
	Blocks []SlackBlock `json:"blocks"`
}

// SlackChannel posts summaries to an incoming webhook
type SlackChannel struct {
	client *httputil.Client
}

// NewSlackChannel creates a channel posting through client
func NewSlackChannel(client *httputil.Client) *SlackChannel {
	return &SlackChannel{client: client}
}

func section(text string) SlackBlock {
	return SlackBlock{Type: "section", Text: SlackText{Type: "mrkdwn", Text: text}}
}

// BuildPayload renders the summary as Block Kit sections
func (c *SlackChannel) BuildPayload(s Summary) SlackPayload {
	blocks := []SlackBlock{
		section(fmt.Sprintf("Daily Report: %s (%s)", s.AsOf, s.MarketState)),
	}

	if len(s.Alerts) > 0 {
		lines := []string{"*Risk alerts*"}
		for _, a := range s.Alerts {
			lines = append(lines, fmt.Sprintf("• `%s` %s (value=%.4f, threshold=%.4f)\n%s",
				a.Symbol, a.Type, a.Value, a.Threshold, a.Reason))
		}
		blocks = append(blocks, section(strings.Join(lines, "\n")))
	} else {
		blocks = append(blocks, section("No risk alerts triggered."))
	}

	if len(s.Orders) > 0 {
		lines := []string{"*Proposed orders*"}
		for _, o := range s.Orders {
			lines = append(lines, fmt.Sprintf("• %s %.2f `%s` (%.2f %s)",
				o.Side, o.Quantity, o.Symbol, o.Notional, s.BaseCurrency))
		}
		blocks = append(blocks, section(strings.Join(lines, "\n")))
	} else {
		blocks = append(blocks, section("No orders proposed."))
	}

	if len(s.Exits) > 0 {
		blocks = append(blocks, section("*Exit candidates:* "+strings.Join(s.Exits, ", ")))
	}

	blocks = append(blocks, section("*Artifacts*\n"+strings.Join(artifactLines(s), "\n")))

	if len(s.Notes) > 0 {
		lines := []string{"*Notes*"}
		for _, note := range s.Notes {
			lines = append(lines, "• "+note)
		}
		blocks = append(blocks, section(strings.Join(lines, "\n")))
	}

	return SlackPayload{Blocks: blocks}
}

// Send posts the payload; dry runs return the pretty payload instead
func (c *SlackChannel) Send(ctx context.Context, s Summary, webhook string, dryRun bool) (Status, error) {
	payload := c.BuildPayload(s)
	if dryRun {
		pretty, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return Status{}, err
		}
		return Status{Channel: ChannelSlack, Delivered: true, Details: string(pretty)}, nil
	}

	resp, err := c.client.PostJSON(ctx, webhook, payload)
	if err != nil {
		return Status{}, fmt.Errorf("%w: slack webhook request: %v", ErrNotification, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return Status{}, fmt.Errorf("%w: slack webhook returned unexpected status: %d", ErrNotification, resp.StatusCode)
	}
	return Status{Channel: ChannelSlack, Delivered: true}, nil
}

// artifactLines lists the written report files
func artifactLines(s Summary) []string {
	if s.JSONPath == "" {
		return []string{"Report not written (dry run)"}
	}
	lines := []string{"JSON: " + s.JSONPath}
	if s.HTMLPath != "" {
		lines = append(lines, "HTML: "+s.HTMLPath)
	}
	return lines
}
