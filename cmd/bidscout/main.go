package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/BidScout/internal/config"
	"github.com/TobiSchelling/BidScout/internal/database"
	"github.com/TobiSchelling/BidScout/internal/logging"
	"github.com/TobiSchelling/BidScout/internal/metrics"
	"github.com/TobiSchelling/BidScout/internal/money"
	"github.com/TobiSchelling/BidScout/internal/pipeline"
	"github.com/TobiSchelling/BidScout/internal/scheduler"
	"github.com/TobiSchelling/BidScout/internal/search"
	"github.com/TobiSchelling/BidScout/internal/server"
	"github.com/TobiSchelling/BidScout/internal/source"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	envPath    string
	cfg        *config.Config
	log        *logrus.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "bidscout",
	Short:   "Public procurement monitor",
	Long:    "BidScout collects PNCP procurement notices, scores them against your alerts and notifies you of new matches.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		if err := config.LoadDotEnv(envPath); err != nil {
			return err
		}
		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		log = logging.New(cfg.Logging)
		if verbose {
			log.SetLevel(logrus.DebugLevel)
			log.SetReportCaller(true)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env-file", ".env", "Path to a .env file with secrets")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(alertsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("bidscout", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/bidscout/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure keywords, channels and the scoring model.")
		fmt.Println("Secrets (API keys, bot tokens) are read from the environment or a .env file.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		now := time.Now()
		stats, err := db.GetStats(now.Format("2006-01-02T15:04:05"))
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		usage, err := db.UsageForDay(now.Format(time.DateOnly))
		if err != nil {
			return fmt.Errorf("getting usage: %w", err)
		}

		fmt.Printf("Today: %s\n\n", now.Format(time.DateOnly))
		fmt.Println("Records:")
		fmt.Printf("  Total collected: %d\n", stats.TotalRecords)
		fmt.Printf("  Open for proposals: %d\n", stats.OpenRecords)
		fmt.Printf("  Matched: %d\n", stats.MatchedRecords)
		fmt.Printf("  Analyzed: %d\n", stats.AnalyzedRecords)
		fmt.Println("\nAlerts:")
		fmt.Printf("  Active: %d\n", stats.ActiveAlerts)
		fmt.Printf("  Notifications sent: %d\n", stats.Notifications)
		fmt.Println("\nModel usage today:")
		fmt.Printf("  Classifications: %d\n", usage.Classifications)
		fmt.Printf("  Analyses: %d\n", usage.Analyses)
		fmt.Printf("  Tokens: %d\n", usage.Tokens)
		fmt.Printf("  Estimated cost: US$ %s\n", usage.CostUSD.StringFixed(4))
		if len(stats.ByRegion) > 0 {
			fmt.Println("\nTop regions:")
			for _, c := range stats.ByRegion {
				fmt.Printf("  %s: %d\n", c.Key, c.Count)
			}
		}
		return nil
	},
}

// --- collect command ---

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect procurement notices for the configured axes",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pipe := pipeline.Build(cfg, db, nil, log)
		to := time.Now()
		from := to.Add(-cfg.Lookback())
		fmt.Printf("Collecting notices published %s .. %s\n", from.Format(time.DateOnly), to.Format(time.DateOnly))

		result := pipe.Collector.Collect(ctx, ulid.Make().String(), from, to)

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Total fetched: %d\n", result.Total)
		fmt.Printf("  New records: %d\n", result.New)
		fmt.Printf("  Updated: %d\n", result.Updated)
		fmt.Printf("  Failed axes: %d\n", result.AxisErrors)

		if len(result.ByCategory) > 0 {
			fmt.Println("\nRecords by category:")
			type kv struct {
				code  int
				count int
			}
			var sorted []kv
			for k, v := range result.ByCategory {
				sorted = append(sorted, kv{k, v})
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].count > sorted[j].count })
			for _, s := range sorted {
				fmt.Printf("  %s: %d\n", source.CategoryName(s.code), s.count)
			}
		}
		return nil
	},
}

// --- run command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full cycle: collect -> match -> analyze -> alerts -> housekeeping",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary := pipeline.Build(cfg, db, nil, log).Run(ctx)
		printSummary(summary)
		if n := summary.Failed(); n > 0 {
			return fmt.Errorf("%d step(s) failed", n)
		}
		return nil
	},
}

func printSummary(s *pipeline.Summary) {
	fmt.Printf("Cycle %s\n", s.CycleID)
	for i, step := range s.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(s.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
	fmt.Printf("\nFinished in %s\n", s.Duration.Round(time.Millisecond))
}

// --- watch command ---

var (
	watchInterval int
	watchServe    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run cycles on a fixed interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := newRegistry()
		m := metrics.New(reg)

		interval := cfg.Scheduler.IntervalMinutes
		if watchInterval > 0 {
			interval = watchInterval
		}
		sched, err := scheduler.New(pipeline.Build(cfg, db, m, log), interval, m, log.WithField("component", "scheduler"))
		if err != nil {
			return err
		}

		var httpSrv *http.Server
		if watchServe {
			srv, err := server.New(db, reg, sched.LastSummary, log.WithField("component", "server"))
			if err != nil {
				return err
			}
			httpSrv = server.NewHTTPServer(srv, cfg.Server.Port)
			go listen(httpSrv)
		}

		if err := sched.Start(cycleContext(ctx)); err != nil {
			return err
		}
		log.WithField("every", sched.Spec()).Info("watching for new notices, press Ctrl+C to stop")

		<-ctx.Done()
		log.Info("shutting down, waiting for the running cycle")
		sched.Stop()
		sched.Wait()
		if httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		}
		return nil
	},
}

// cycleContext detaches cycles from the shutdown signal so an interrupt lets
// the running cycle finish instead of cancelling it.
func cycleContext(signalCtx context.Context) context.Context {
	return context.WithoutCancel(signalCtx)
}

func init() {
	watchCmd.Flags().IntVarP(&watchInterval, "interval", "i", 0, "Override the cycle interval (minutes)")
	watchCmd.Flags().BoolVar(&watchServe, "serve", false, "Also start the local status server")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local status server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := newRegistry()
		srv, err := server.New(db, reg, nil, log.WithField("component", "server"))
		if err != nil {
			return err
		}
		port := cfg.Server.Port
		if servePort > 0 {
			port = servePort
		}
		httpSrv := server.NewHTTPServer(srv, port)

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		go listen(httpSrv)

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

func listen(srv *http.Server) {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("status server stopped")
	}
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// --- search command ---

var (
	searchLimit int
	searchOpen  bool
)

var searchCmd = &cobra.Command{
	Use:   "search [terms...]",
	Short: "Full-text search over collected notices",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ix := search.New(db, log.WithField("component", "search"))
		records, err := ix.Search(cmd.Context(), search.Filter{
			Keywords: args,
			OpenOnly: searchOpen,
			Limit:    searchLimit,
		})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No matching notices.")
			return nil
		}
		for _, r := range records {
			value := "valor não informado"
			if r.EstimatedValue.Valid {
				value = "R$ " + money.FormatBRL(r.EstimatedValue.Decimal)
			}
			fmt.Printf("[%s] %s/%s  %s\n", r.ExternalID, r.City, r.RegionCode, value)
			fmt.Printf("    %s\n", truncate(r.Description, 100))
			if r.ClosingAt != nil {
				fmt.Printf("    encerra em %s\n", *r.ClosingAt)
			}
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum number of results")
	searchCmd.Flags().BoolVar(&searchOpen, "open", false, "Only notices still accepting proposals")
}

// --- alerts command ---

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.ListAlerts(false)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No alerts defined. Add one with: bidscout alerts add")
			return nil
		}

		fmt.Println("Alerts:")
		fmt.Println()
		for _, a := range items {
			icon := " "
			if a.Active {
				icon = "*"
			}
			fmt.Printf("  [%d] %s %s\n", a.ID, icon, a.Name)
			fmt.Printf("        keywords: %s\n", strings.Join(a.Keywords, ", "))
			if len(a.Regions) > 0 {
				fmt.Printf("        regions: %s\n", strings.Join(a.Regions, ", "))
			}
			fmt.Printf("        channels: %s\n", strings.Join(a.Channels, ", "))
		}
		return nil
	},
}

var (
	alertKeywords   []string
	alertRegions    []string
	alertCategories []int
	alertChannels   []string
	alertValueMin   string
	alertValueMax   string
)

var alertsAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a new alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(alertKeywords) == 0 {
			return fmt.Errorf("at least one --keyword is required")
		}
		lo, err := parseValue(alertValueMin)
		if err != nil {
			return fmt.Errorf("--min: %w", err)
		}
		hi, err := parseValue(alertValueMax)
		if err != nil {
			return fmt.Errorf("--max: %w", err)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		regions := make([]string, len(alertRegions))
		for i, r := range alertRegions {
			regions[i] = strings.ToUpper(strings.TrimSpace(r))
		}
		id, err := db.InsertAlert(&database.Alert{
			Name:       args[0],
			Keywords:   alertKeywords,
			Regions:    regions,
			Categories: alertCategories,
			ValueMin:   lo,
			ValueMax:   hi,
			Channels:   alertChannels,
			Active:     true,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added alert [%d]: %s\n", id, args[0])
		return nil
	},
}

func parseValue(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

var alertsRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		alert, err := lookupAlert(db, args[0])
		if err != nil {
			return err
		}
		if _, err := db.DeleteAlert(alert.ID); err != nil {
			return err
		}
		fmt.Printf("Removed alert [%d]: %s\n", alert.ID, alert.Name)
		return nil
	},
}

var alertsToggleCmd = &cobra.Command{
	Use:   "toggle [id]",
	Short: "Toggle an alert's active state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		alert, err := lookupAlert(db, args[0])
		if err != nil {
			return err
		}
		if _, err := db.SetAlertActive(alert.ID, !alert.Active); err != nil {
			return err
		}
		newState := "disabled"
		if !alert.Active {
			newState = "enabled"
		}
		fmt.Printf("Alert [%d] %s: %s\n", alert.ID, alert.Name, newState)
		return nil
	},
}

func lookupAlert(db *database.DB, arg string) (*database.Alert, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid alert ID: %s", arg)
	}
	alert, err := db.GetAlert(id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, fmt.Errorf("alert %d not found", id)
	}
	return alert, nil
}

func init() {
	alertsAddCmd.Flags().StringSliceVarP(&alertKeywords, "keyword", "k", nil, "Keyword to match (repeatable)")
	alertsAddCmd.Flags().StringSliceVarP(&alertRegions, "region", "r", nil, "State code filter, e.g. SP (repeatable)")
	alertsAddCmd.Flags().IntSliceVar(&alertCategories, "category", nil, "Procurement category code (repeatable)")
	alertsAddCmd.Flags().StringSliceVar(&alertChannels, "channel", []string{"telegram"}, "Delivery channel: telegram, email, slack, webhook")
	alertsAddCmd.Flags().StringVar(&alertValueMin, "min", "", "Minimum estimated value in BRL")
	alertsAddCmd.Flags().StringVar(&alertValueMax, "max", "", "Maximum estimated value in BRL")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsAddCmd)
	alertsCmd.AddCommand(alertsRemoveCmd)
	alertsCmd.AddCommand(alertsToggleCmd)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func openDB() (*database.DB, error) {
	if err := os.MkdirAll(cfg.GetDataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DBPath(), database.WithLogger(log.WithField("component", "database")))
}
