package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/tradeflow/internal/notify"
)

// notifyCmd re-sends an already written daily report
var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "일일 리포트 알림 발송 (email, slack)",
	Long: `<reports>/<날짜>/daily_report.json 을 읽어 설정된 채널로 요약을 보냅니다.

수신처는 전략 YAML 의 notify.email / notify.slack_webhook,
SMTP 접속 정보는 환경변수 (EMAIL_SENDER, SMTP_HOST, ...) 에서 읽습니다.

Example:
  go run ./cmd/tradeflow notify --date 2024-05-31
  go run ./cmd/tradeflow notify --channels slack --dry-run`,
	RunE: runNotify,
}

var (
	notifyDate     string
	notifyChannels []string
	notifyDryRun   bool
	notifyJSON     bool
)

func init() {
	rootCmd.AddCommand(notifyCmd)

	notifyCmd.Flags().StringVar(&notifyDate, "date", "", "report date YYYY-MM-DD (default today)")
	notifyCmd.Flags().StringSliceVar(&notifyChannels, "channels", []string{notify.ChannelAll}, "channels to use (email, slack, all)")
	notifyCmd.Flags().BoolVar(&notifyDryRun, "dry-run", false, "render the messages without sending")
	notifyCmd.Flags().BoolVar(&notifyJSON, "json", false, "print statuses as JSON")
}

func runNotify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	asOf, err := parseAsOf(notifyDate)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := notify.LoadSummary(a.reportsDir(), asOf)
	if err != nil {
		return err
	}

	statuses := a.notifier().Dispatch(ctx, summary, notifyChannels, notifyDryRun)
	if notifyJSON {
		return PrintJSON(statuses)
	}
	printStatuses(statuses)
	return nil
}

func printStatuses(statuses []notify.Status) {
	widths := []int{8, 10, 48}
	PrintTableHeader([]string{"Channel", "Delivered", "Details"}, widths)
	var previews []notify.Status
	for _, st := range statuses {
		details := st.Details
		if strings.Contains(details, "\n") {
			// dry-run 미리보기는 표 아래에 따로 출력
			previews = append(previews, st)
			details = "(preview below)"
		}
		delivered := "no"
		if st.Delivered {
			delivered = "yes"
		}
		PrintTableRow([]string{st.Channel, delivered, details}, widths)
	}
	PrintSeparator()

	for _, st := range previews {
		PrintInfo(st.Channel + " preview")
		for _, line := range strings.Split(st.Details, "\n") {
			fmt.Printf("   %s\n", line)
		}
	}
}
