package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/djlord-it/cronstore/internal/api"
	"github.com/djlord-it/cronstore/internal/dispatcher"
)

var (
	scheduleName     string
	scheduleGroup    string
	scheduleClass    string
	scheduleWebhook  string
	scheduleSecret   string
	scheduleCron     string
	scheduleTimezone string
	scheduleEvery    time.Duration
	scheduleRepeat   int
	schedulePriority int
	scheduleData     map[string]string
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Create a job and its trigger on a running node",
	Long: `Create a job and a single trigger through the admin API of a running node.

Use --cron for a cron trigger, or --every (with --repeat) for an interval
trigger. With neither the job fires once, immediately.`,
	Example: `  cronstore schedule --name ping --cron "*/5 * * * *" --webhook-url https://example.com/hook
  cronstore schedule --name heartbeat --class log --every 30s --repeat -1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildScheduleRequest()
		if err != nil {
			return err
		}
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}

		client := &http.Client{Timeout: 10 * time.Second}
		url := strings.TrimRight(clientURL(), "/") + "/jobs"
		resp, err := client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to reach %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			var apiErr api.ErrorResponse
			_ = json.NewDecoder(resp.Body).Decode(&apiErr)
			return fmt.Errorf("schedule failed (%d): %s", resp.StatusCode, apiErr.Error)
		}

		var job api.JobResponse
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			return fmt.Errorf("invalid response: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Job scheduled: %s.%s\n", job.Group, job.Name)
		for _, t := range job.Triggers {
			fmt.Fprintf(out, "  trigger %s.%s next fire at %s\n", t.Group, t.Name, t.NextFireTime)
		}
		return nil
	},
}

func buildScheduleRequest() (api.CreateJobRequest, error) {
	if scheduleCron != "" && scheduleEvery > 0 {
		return api.CreateJobRequest{}, fmt.Errorf("--cron and --every are mutually exclusive")
	}
	if scheduleEvery > 0 && scheduleEvery%time.Second != 0 {
		return api.CreateJobRequest{}, fmt.Errorf("--every must be a whole number of seconds")
	}

	data := make(map[string]any, len(scheduleData)+2)
	for k, v := range scheduleData {
		data[k] = v
	}
	if scheduleWebhook != "" {
		data["url"] = scheduleWebhook
	}
	if scheduleSecret != "" {
		data["secret"] = scheduleSecret
	}

	req := api.CreateJobRequest{
		Name:     scheduleName,
		Group:    scheduleGroup,
		JobClass: scheduleClass,
		Data:     data,
		Trigger: api.TriggerRequest{
			CronExpression: scheduleCron,
			Timezone:       scheduleTimezone,
		},
	}
	if scheduleEvery > 0 {
		req.Trigger.RepeatIntervalSeconds = int(scheduleEvery / time.Second)
		req.Trigger.RepeatCount = scheduleRepeat
	}
	if schedulePriority != 0 {
		p := schedulePriority
		req.Trigger.Priority = &p
	}
	return req, nil
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	f := scheduleCmd.Flags()
	f.StringVarP(&scheduleName, "name", "n", "", "Job name (required)")
	f.StringVarP(&scheduleGroup, "group", "g", "", "Job group (default DEFAULT)")
	f.StringVar(&scheduleClass, "class", dispatcher.ClassWebhook, "Job class: webhook or log")
	f.StringVar(&scheduleWebhook, "webhook-url", "", "Webhook URL for webhook jobs")
	f.StringVar(&scheduleSecret, "secret", "", "HMAC secret used to sign webhook bodies")
	f.StringVar(&scheduleCron, "cron", "", "Cron expression")
	f.StringVar(&scheduleTimezone, "timezone", "", "IANA timezone for --cron (default UTC)")
	f.DurationVar(&scheduleEvery, "every", 0, "Repeat interval for simple triggers")
	f.IntVar(&scheduleRepeat, "repeat", -1, "Repeat count with --every; -1 repeats forever")
	f.IntVar(&schedulePriority, "priority", 0, "Trigger priority (default 5)")
	f.StringToStringVar(&scheduleData, "data", nil, "Extra job data as key=value pairs")
	_ = scheduleCmd.MarkFlagRequired("name")

	scheduleCmd.Flags().String("url", "", "Admin API of a running node (default http://localhost:8080)")
	_ = viper.BindPFlag("url", scheduleCmd.Flags().Lookup("url"))
}
