// Package notify delivers the daily report summary over email and Slack.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata"
	"github.com/wonny/tradeflow/pkg/logger"
)

// Channel names
const (
	ChannelEmail = "email"
	ChannelSlack = "slack"
	ChannelAll   = "all"
	channelNone  = "none"
)

var (
	// ErrNotification is returned when a transport cannot complete
	ErrNotification = errors.New("notification failed")
	// ErrReportNotFound is returned when no daily report exists for the date
	ErrReportNotFound = errors.New("daily report not found")
)

// Status is the outcome of one delivery attempt
type Status struct {
	Channel   string `json:"channel"`
	Delivered bool   `json:"delivered"`
	Details   string `json:"details,omitempty"`
}

// Summary is the subset of a daily report the channels render
type Summary struct {
	AsOf          string
	GeneratedAt   time.Time
	BaseCurrency  string
	MarketState   string
	Alerts        []contracts.ReportAlert    // symbol, type asc
	Orders        []contracts.RebalanceOrder // symbol asc
	Exits         []string
	ActionsStatus string
	Turnover      *float64
	Notes         []string
	JSONPath      string
	HTMLPath      string
}

// SummaryFromReport reduces a report to what the channels need
func SummaryFromReport(rep *contracts.DailyReport) Summary {
	s := Summary{
		AsOf:          rep.AsOf,
		GeneratedAt:   rep.GeneratedAt.UTC(),
		BaseCurrency:  rep.BaseCurrency,
		MarketState:   "UNKNOWN",
		Orders:        append([]contracts.RebalanceOrder(nil), rep.Actions.Orders...),
		Exits:         append([]string(nil), rep.Actions.Exits...),
		ActionsStatus: rep.Actions.Status,
		Turnover:      rep.Actions.Turnover,
		Notes:         append([]string(nil), rep.Notes...),
		JSONPath:      rep.JSONPath,
		HTMLPath:      rep.HTMLPath,
	}
	if rep.Risk != nil {
		if rep.Risk.MarketState != "" {
			s.MarketState = rep.Risk.MarketState
		}
		s.Alerts = append(s.Alerts, rep.Risk.Alerts...)
	}
	if s.ActionsStatus == "" {
		s.ActionsStatus = contracts.ActionsUnknown
	}
	sort.SliceStable(s.Alerts, func(i, j int) bool {
		if s.Alerts[i].Symbol != s.Alerts[j].Symbol {
			return s.Alerts[i].Symbol < s.Alerts[j].Symbol
		}
		return s.Alerts[i].Type < s.Alerts[j].Type
	})
	sort.SliceStable(s.Orders, func(i, j int) bool { return s.Orders[i].Symbol < s.Orders[j].Symbol })
	sort.Strings(s.Exits)
	return s
}

// LoadSummary reads <reportsDir>/<asOf>/daily_report.json
func LoadSummary(reportsDir string, asOf time.Time) (Summary, error) {
	dir := filepath.Join(reportsDir, marketdata.NormalizeDate(asOf).Format(marketdata.DateLayout))
	jsonPath := filepath.Join(dir, contracts.FileDailyReportJSON)

	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Summary{}, fmt.Errorf("%w: %s", ErrReportNotFound, jsonPath)
		}
		return Summary{}, err
	}
	var rep contracts.DailyReport
	if err := json.Unmarshal(raw, &rep); err != nil {
		return Summary{}, fmt.Errorf("decode %s: %w", jsonPath, err)
	}

	rep.JSONPath = jsonPath
	if htmlPath := filepath.Join(dir, contracts.FileDailyReportHTML); fileExists(htmlPath) {
		rep.HTMLPath = htmlPath
	}
	return SummaryFromReport(&rep), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// NormalizeChannels expands "all", drops unknown names and duplicates
func NormalizeChannels(channels []string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, ch := range channels {
		switch name := strings.ToLower(strings.TrimSpace(ch)); name {
		case ChannelAll:
			add(ChannelEmail)
			add(ChannelSlack)
		case ChannelEmail, ChannelSlack:
			add(name)
		}
	}
	return out
}

// Targets are the recipients configured in the strategy YAML
type Targets struct {
	Email        string
	SlackWebhook string
}

// Service dispatches a summary to the requested channels
// ⭐ SSOT: 알림 발송은 여기서만
type Service struct {
	targets  Targets
	channels []string
	email    *EmailChannel
	slack    *SlackChannel
	logger   *logger.Logger
}

// NewService creates a service; empty channels means all
func NewService(targets Targets, channels []string, email *EmailChannel, slack *SlackChannel, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if len(channels) == 0 {
		channels = []string{ChannelAll}
	}
	return &Service{
		targets:  targets,
		channels: channels,
		email:    email,
		slack:    slack,
		logger:   log.WithField("component", "notify"),
	}
}

// Notify dispatches rep to the service's default channels
func (s *Service) Notify(ctx context.Context, rep *contracts.DailyReport, dryRun bool) []Status {
	return s.Dispatch(ctx, SummaryFromReport(rep), s.channels, dryRun)
}

// Dispatch sends summary to every requested channel; failures become statuses
func (s *Service) Dispatch(ctx context.Context, summary Summary, channels []string, dryRun bool) []Status {
	requested := NormalizeChannels(channels)
	if len(requested) == 0 {
		return []Status{{Channel: channelNone, Delivered: false, Details: "No channels requested"}}
	}

	statuses := make([]Status, 0, len(requested))
	for _, channel := range requested {
		var (
			status Status
			err    error
		)
		switch channel {
		case ChannelEmail:
			switch {
			case s.targets.Email == "":
				status = Status{Channel: channel, Details: "Email recipient not configured in notify.email"}
			case s.email == nil:
				status = Status{Channel: channel, Details: "Email channel not available"}
			default:
				status, err = s.email.Send(ctx, summary, s.targets.Email, dryRun)
			}
		case ChannelSlack:
			switch {
			case s.targets.SlackWebhook == "":
				status = Status{Channel: channel, Details: "Slack webhook not configured in notify.slack_webhook"}
			case s.slack == nil:
				status = Status{Channel: channel, Details: "Slack channel not available"}
			default:
				status, err = s.slack.Send(ctx, summary, s.targets.SlackWebhook, dryRun)
			}
		}
		if err != nil {
			status = Status{Channel: channel, Details: err.Error()}
		}

		log := s.logger.WithFields(map[string]interface{}{
			"channel":   channel,
			"delivered": status.Delivered,
			"dry_run":   dryRun,
			"as_of":     summary.AsOf,
		})
		if status.Delivered {
			log.Info("Notification dispatched")
		} else {
			log.WithField("details", status.Details).Warn("Notification not delivered")
		}
		statuses = append(statuses, status)
	}
	return statuses
}
