package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"volcal/internal/capacity"
	"volcal/internal/capture"
	"volcal/internal/ics"
	appLog "volcal/internal/log"
	"volcal/internal/metrics"
	"volcal/internal/model"
	"volcal/internal/source"
	"volcal/internal/web"
)

const sweepSchedule = "@every 1m"

type rootFlags struct {
	configPath string
	listen     string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "volcal",
		Short:         "Volunteer session calendar and sign-up widget",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "/etc/volcal/config.yaml", "path to config file")
	root.PersistentFlags().StringVar(&flags.listen, "listen", "", "HTTP listen address (overrides config)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug|info|warn|error (overrides config)")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newDatesCmd(flags))
	root.AddCommand(newExportCmd(flags))
	root.AddCommand(newSnapshotCmd(flags))
	return root
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the widget, JSON API and ICS feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			repo := buildRepository(cfg, buildSource(cfg))
			defer repo.Close()
			repo.SetObserver(metrics.NewRepositoryMetrics(reg))
			if err := repo.Load(ctx); err != nil {
				return err
			}

			srv := web.NewServer(web.Options{
				Config:         cfg,
				Repo:           repo,
				Metrics:        metrics.NewWidgetMetrics(reg),
				MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			})

			sched := cron.New(cron.WithLocation(cfg.Location()))
			if _, err := sched.AddFunc(cfg.RefreshCron, func() {
				if err := repo.Refresh(ctx); err != nil {
					appLog.Error("scheduled refresh failed", err)
				}
			}); err != nil {
				return fmt.Errorf("refresh schedule %q: %w", cfg.RefreshCron, err)
			}
			if _, err := sched.AddFunc(sweepSchedule, func() { srv.SweepIdle() }); err != nil {
				return err
			}
			sched.Start()
			defer func() {
				<-sched.Stop().Done()
			}()

			err = srv.ListenAndServe(ctx)
			appLog.Info("volcal exiting")
			return err
		},
	}
}

type dateRow struct {
	Date       string            `json:"date"`
	Display    string            `json:"display"`
	Type       model.SessionType `json:"type"`
	Label      string            `json:"label"`
	Time       string            `json:"time"`
	SessionID  string            `json:"session_id,omitempty"`
	Capacity   capacity.Status   `json:"capacity"`
	Selectable bool              `json:"selectable"`
}

func newDatesCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool
	var recordsPath string

	cmd := &cobra.Command{
		Use:   "dates",
		Short: "Load sessions once and print them with capacity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			src := buildSource(cfg)
			if recordsPath != "" {
				static, err := source.LoadStatic(recordsPath)
				if err != nil {
					return err
				}
				src = static
			}

			repo := buildRepository(cfg, src)
			defer repo.Close()
			if err := repo.Load(cmd.Context()); err != nil {
				return err
			}

			today := repo.Today()
			var rows []dateRow
			for _, s := range repo.Sessions() {
				rows = append(rows, dateRow{
					Date:       s.Key(),
					Display:    s.DisplayDate(),
					Type:       s.Type,
					Label:      s.Label,
					Time:       s.TimeLabel(),
					SessionID:  s.SourceID,
					Capacity:   capacity.Evaluate(s),
					Selectable: capacity.Bookable(s, today),
				})
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			return printDates(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	cmd.Flags().StringVar(&recordsPath, "records", "", "read records from a Directus JSON export instead of the configured source")
	return cmd
}

func printDates(w io.Writer, rows []dateRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "DATE\tSESSION\tTIME\tSPOTS\tSTATUS")
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n",
			r.Date, r.Label, r.Time, r.Capacity.Available, r.Capacity.Total, r.Capacity.Level)
	}
	return tw.Flush()
}

func newExportCmd(flags *rootFlags) *cobra.Command {
	var out, name string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write upcoming sessions as an iCalendar file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			repo := buildRepository(cfg, buildSource(cfg))
			defer repo.Close()
			if err := repo.Load(cmd.Context()); err != nil {
				return err
			}

			body := ics.Export(repo.Upcoming(), name, time.Now())
			if out == "" || out == "-" {
				_, err := io.WriteString(cmd.OutOrStdout(), body)
				return err
			}
			if err := os.WriteFile(out, []byte(body), 0o644); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %d sessions to %s\n", len(repo.Upcoming()), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&name, "name", "Volunteer Sessions", "calendar name")
	return cmd
}

func newSnapshotCmd(flags *rootFlags) *cobra.Command {
	var opts capture.Options
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Screenshot the running widget page to a PNG",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if opts.URL == "" {
				opts.URL = "http://" + cfg.Listen + "/"
			}
			if opts.OutputPath == "" {
				opts.OutputPath = cfg.PreviewPath
			}
			if cfg.BasicAuth != nil {
				opts.Username = cfg.BasicAuth.Username
				opts.Password = cfg.BasicAuth.Password
			}
			opts.Timeout = timeout

			if err := capture.WidgetPNG(cmd.Context(), opts); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "snapshot written to %s\n", opts.OutputPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", "", "page to capture (default http://<listen>/)")
	cmd.Flags().StringVar(&opts.OutputPath, "out", "", "PNG path (default preview_path from config)")
	cmd.Flags().IntVar(&opts.Width, "width", capture.DefaultWidth, "viewport width")
	cmd.Flags().IntVar(&opts.Height, "height", capture.DefaultHeight, "viewport height")
	cmd.Flags().DurationVar(&timeout, "timeout", capture.DefaultTimeout, "capture timeout")
	return cmd
}
