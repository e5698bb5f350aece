package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/blazereport/internal/models"
)

var (
	scheduleFile string
	logsLimit    int
)

var scheduleCmd = &cobra.Command{
	Use:     "schedule",
	Aliases: []string{"schedules"},
	Short:   "Report and alert schedule commands",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all schedules with their last state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openDatabase(ctx, dbPath, false)
		if err != nil {
			return err
		}
		defer store.Close()

		schedules, err := store.Schedules().List(ctx)
		if err != nil {
			return errors.Wrap(err, "list schedules")
		}
		if GetOutput() == "json" {
			return printJSON(schedules)
		}
		if len(schedules) == 0 {
			fmt.Println("No schedules found.")
			return nil
		}

		fmt.Printf("\n%-6s  %-30s  %-7s  %-6s  %-16s  %-8s  %s\n",
			"ID", "NAME", "TYPE", "ACTIVE", "CRONTAB", "STATE", "LAST EVAL")
		fmt.Println(strings.Repeat("-", 110))
		for _, s := range schedules {
			state := string(s.LastState)
			if state == "" {
				state = "-"
			}
			lastEval := "-"
			if s.LastEvalAt != nil {
				lastEval = s.LastEvalAt.Format(time.RFC3339)
			}
			fmt.Printf("%-6d  %-30s  %-7s  %-6t  %-16s  %-8s  %s\n",
				s.ID, truncate(s.Name, 30), s.Type, s.Active, s.Crontab, state, lastEval)
		}
		fmt.Printf("\nTotal: %d schedule(s)\n", len(schedules))
		return nil
	},
}

var scheduleLogsCmd = &cobra.Command{
	Use:   "logs <schedule-id>",
	Short: "Show the execution log of a schedule, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.Newf("invalid schedule id %q", args[0])
		}

		ctx := cmd.Context()
		store, err := openDatabase(ctx, dbPath, false)
		if err != nil {
			return err
		}
		defer store.Close()

		logs, err := store.ExecutionLogs().List(ctx, id, logsLimit)
		if err != nil {
			return errors.Wrap(err, "list execution logs")
		}
		if GetOutput() == "json" {
			return printJSON(logs)
		}
		for _, l := range logs {
			fmt.Printf("%s  %-8s  %s  %s\n",
				l.EndAt.Format(time.RFC3339), l.State, l.ExecutionID, l.ErrorMessage)
		}
		return nil
	},
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a schedule from a YAML definition",
	Long: `Create a schedule from a YAML definition. Owners are referenced by
username and must exist.

Example definition:
  name: weekly kpis
  type: report
  crontab: "0 9 * * 1"
  timezone: Europe/Berlin
  dashboard: {id: 7, title: KPIs}
  report_format: pdf
  owners: [alice]
  recipients:
    - {type: email, target: "team@example.com"}
    - {type: slack, target: "#kpis"}`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(scheduleFile)
		if err != nil {
			return errors.Wrap(err, "read schedule file")
		}
		var def scheduleDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return errors.Wrap(err, "parse schedule file")
		}

		ctx := cmd.Context()
		store, err := openDatabase(ctx, dbPath, false)
		if err != nil {
			return err
		}
		defer store.Close()

		s, err := def.toSchedule(ctx, store.Users().GetByUsername)
		if err != nil {
			return err
		}
		if err := store.Schedules().Create(ctx, s); err != nil {
			return errors.Wrap(err, "create schedule")
		}
		fmt.Printf("Schedule %q created with id %d\n", s.Name, s.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleListCmd, scheduleLogsCmd, scheduleCreateCmd)
	addDBFlag(scheduleListCmd, scheduleLogsCmd, scheduleCreateCmd)

	scheduleLogsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 20, "number of entries to show")
	scheduleCreateCmd.Flags().StringVarP(&scheduleFile, "file", "f", "", "schedule definition (required)")
	_ = scheduleCreateCmd.MarkFlagRequired("file")
}

// scheduleDefinition is the YAML shape accepted by "schedule create".
type scheduleDefinition struct {
	Name            string                `yaml:"name"`
	Description     string                `yaml:"description"`
	Type            string                `yaml:"type"`
	Active          *bool                 `yaml:"active"`
	Crontab         string                `yaml:"crontab"`
	Timezone        string                `yaml:"timezone"`
	Chart           *models.ChartRef      `yaml:"chart"`
	Dashboard       *models.DashboardRef  `yaml:"dashboard"`
	ReportFormat    string                `yaml:"report_format"`
	ForceScreenshot bool                  `yaml:"force_screenshot"`
	CustomWidth     int                   `yaml:"custom_width"`
	CustomHeight    int                   `yaml:"custom_height"`
	EmailSubject    string                `yaml:"email_subject"`
	GracePeriod     time.Duration         `yaml:"grace_period"`
	WorkingTimeout  time.Duration         `yaml:"working_timeout"`
	LogRetention    *int                  `yaml:"log_retention"`
	SQL             string                `yaml:"sql"`
	Datasource      string                `yaml:"datasource"`
	Validator       string                `yaml:"validator_type"`
	ValidatorConfig string                `yaml:"validator_config_json"`
	Owners          []string              `yaml:"owners"`
	Recipients      []recipientDefinition `yaml:"recipients"`
}

type recipientDefinition struct {
	Type   string `yaml:"type"`
	Target string `yaml:"target"`
	CC     string `yaml:"cc"`
	BCC    string `yaml:"bcc"`
}

type userLookup func(ctx context.Context, username string) (*models.User, error)

func (d *scheduleDefinition) toSchedule(ctx context.Context, lookup userLookup) (*models.Schedule, error) {
	typ, err := models.ParseScheduleType(d.Type)
	if err != nil {
		return nil, err
	}
	s := &models.Schedule{
		Name:            d.Name,
		Description:     d.Description,
		Type:            typ,
		Active:          d.Active == nil || *d.Active,
		Crontab:         d.Crontab,
		Timezone:        d.Timezone,
		Chart:           d.Chart,
		Dashboard:       d.Dashboard,
		ReportFormat:    models.ParseReportFormat(d.ReportFormat),
		ForceScreenshot: d.ForceScreenshot,
		CustomWidth:     d.CustomWidth,
		CustomHeight:    d.CustomHeight,
		EmailSubject:    d.EmailSubject,
		GracePeriod:     d.GracePeriod,
		WorkingTimeout:  d.WorkingTimeout,
		LogRetention:    90,
		SQL:             d.SQL,
		Datasource:      d.Datasource,
		ValidatorType:   models.ValidatorType(d.Validator),
		ValidatorConfig: d.ValidatorConfig,
	}
	if d.LogRetention != nil {
		s.LogRetention = *d.LogRetention
	}
	if s.WorkingTimeout == 0 {
		s.WorkingTimeout = time.Hour
	}
	if s.IsAlert() && s.GracePeriod == 0 {
		s.GracePeriod = 4 * time.Hour
	}

	for _, name := range d.Owners {
		u, err := lookup(ctx, name)
		if err != nil {
			return nil, errors.Wrapf(err, "find owner %q", name)
		}
		if u == nil {
			return nil, errors.Newf("owner %q does not exist", name)
		}
		s.Owners = append(s.Owners, *u)
	}
	if len(s.Owners) > 0 {
		s.CreatedBy = &s.Owners[0]
	}

	for _, r := range d.Recipients {
		typ, err := models.ParseRecipientType(r.Type)
		if err != nil {
			return nil, err
		}
		s.Recipients = append(s.Recipients, models.Recipient{
			Type:   typ,
			Config: models.RecipientConfig{Target: r.Target, CCTarget: r.CC, BCCTarget: r.BCC},
		})
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
