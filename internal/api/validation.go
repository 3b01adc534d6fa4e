package api

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/djlord-it/cronstore/internal/cron"
	"github.com/djlord-it/cronstore/internal/dispatcher"
	"github.com/djlord-it/cronstore/internal/domain"
)

func validateCreateJob(req CreateJobRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := validateKeyPart("name", req.Name); err != nil {
		return err
	}
	if req.Group != "" {
		if err := validateKeyPart("group", req.Group); err != nil {
			return err
		}
	}

	if req.JobClass == "" {
		return fmt.Errorf("job_class is required")
	}
	if req.JobClass == dispatcher.ClassWebhook {
		raw, _ := req.Data["url"].(string)
		if raw == "" {
			return fmt.Errorf("data.url is required for webhook jobs")
		}
		if err := validateWebhookURL(raw); err != nil {
			return fmt.Errorf("invalid data.url: %w", err)
		}
	}

	return validateTrigger(req.Trigger)
}

func validateTrigger(t TriggerRequest) error {
	if t.Name != "" {
		if err := validateKeyPart("trigger.name", t.Name); err != nil {
			return err
		}
	}
	if t.Group != "" {
		if err := validateKeyPart("trigger.group", t.Group); err != nil {
			return err
		}
	}

	if t.CronExpression != "" {
		if t.RepeatCount != 0 || t.RepeatIntervalSeconds != 0 {
			return fmt.Errorf("trigger: cron_expression cannot be combined with repeat settings")
		}
		tz := t.Timezone
		if tz == "" {
			tz = "UTC"
		}
		if err := validateTimezone(tz); err != nil {
			return fmt.Errorf("invalid trigger.timezone: %w", err)
		}
		if _, err := cron.NewParser().Parse(t.CronExpression, tz); err != nil {
			return fmt.Errorf("invalid trigger.cron_expression: %w", err)
		}
	} else {
		if t.Timezone != "" {
			return fmt.Errorf("trigger: timezone requires cron_expression")
		}
		if t.RepeatCount < domain.RepeatIndefinitely {
			return fmt.Errorf("trigger.repeat_count must be >= -1")
		}
		if t.RepeatIntervalSeconds < 0 {
			return fmt.Errorf("trigger.repeat_interval_seconds must be >= 0")
		}
		if t.RepeatCount != 0 && t.RepeatIntervalSeconds == 0 {
			return fmt.Errorf("trigger.repeat_interval_seconds is required when repeating")
		}
	}

	if t.StartTime != nil && t.EndTime != nil && !t.EndTime.After(*t.StartTime) {
		return fmt.Errorf("trigger.end_time must be after start_time")
	}
	return nil
}

// validateKeyPart rejects names that would make the "group.name" document
// id ambiguous or unsafe in a URL path.
func validateKeyPart(field, s string) error {
	if strings.ContainsAny(s, "./ ") {
		return fmt.Errorf("%s must not contain '.', '/' or spaces", field)
	}
	if len(s) > 200 {
		return fmt.Errorf("%s must be at most 200 characters", field)
	}
	return nil
}

func validateTimezone(tz string) error {
	_, err := time.LoadLocation(tz)
	return err
}

func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
