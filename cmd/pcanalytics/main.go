package main

import (
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"pcanalytics.shikanime.studio/cmd/pcanalytics/app"
	"pcanalytics.shikanime.studio/internal/config"
	"pcanalytics.shikanime.studio/internal/dashboard"
	"pcanalytics.shikanime.studio/internal/database"
	"pcanalytics.shikanime.studio/internal/planningcenter"
)

func main() {
	err := rootCmd.Execute()
	shutdown()
	if err != nil {
		log.Fatal(err)
	}
}

var (
	rootCmd = &cobra.Command{
		Use:               "pcanalytics",
		Short:             "Planning Center analytics server and utilities",
		PersistentPreRunE: setup,
		SilenceUsage:      true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard API server",
		RunE:  runServe,
	}
	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Synchronize every collection once with the stored session and print the headline metrics",
		RunE:  runSync,
	}
	authURLCmd = &cobra.Command{
		Use:   "auth-url",
		Short: "Print the Planning Center authorization URL",
		RunE:  runAuthURL,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Database migrations",
	}
	upCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	}
	downCmd = &cobra.Command{
		Use:   "down",
		Short: "Revert all applied migrations",
		RunE:  runMigrateDown,
	}

	// Flags
	addr       string
	dsn        string
	configFile string

	cfg      = config.New()
	shutdown = func() {}
)

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", "", "Address to run the server on (host:port). If empty, uses HOST and PORT environment variables")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Optional config file; LOG_LEVEL changes in it apply without a restart")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Database source name in the format driver://dataSourceName. Falls back to DSN environment variable")
	migrateCmd.AddCommand(upCmd, downCmd)
	rootCmd.AddCommand(serveCmd, syncCmd, authURLCmd, migrateCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	if configFile != "" {
		if err := cfg.SetConfigFile(configFile); err != nil {
			return err
		}
	}
	if dsn != "" {
		cfg.Set("DSN", dsn)
	}
	config.SetupLog(cfg)
	cfg.Watch()
	var err error
	shutdown, err = config.SetupTelemetry(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := app.NewServerForConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	finalAddr := addr
	if finalAddr == "" {
		finalAddr = cfg.GetAddr()
	}
	return srv.Run(ctx, finalAddr)
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	d, err := dashboard.NewForConfig(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := d.RestoreSession(ctx)
	if err != nil {
		return err
	}
	if res.State != dashboard.Authenticated {
		return errors.New("no stored session: run `pcanalytics serve` and sign in at /login first")
	}
	if err := d.SyncAll(ctx); err != nil {
		return err
	}

	v := d.DashboardView()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, m := range v.Metrics {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Title, m.Value, v.Trends[m.Title].Direction)
	}
	for _, in := range v.Insights {
		fmt.Fprintf(w, "\t%s\n", in.Text)
	}
	fmt.Fprintf(w, "Last updated\t%s\n", v.LastUpdated)
	return w.Flush()
}

func runAuthURL(cmd *cobra.Command, _ []string) error {
	if cfg.GetClientID() == "" {
		return errors.New("PLANNING_CENTER_APP_ID is not set")
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), planningcenter.BuildAuthorizationURL(
		cfg.GetAPIBaseURL(),
		cfg.GetClientID(),
		cfg.GetRedirectURI(),
		cfg.GetScopes(),
	))
	return err
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	mg, err := database.NewMigratorForConfig(cfg)
	if err != nil {
		return err
	}
	defer mg.Close()
	return mg.Up()
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	mg, err := database.NewMigratorForConfig(cfg)
	if err != nil {
		return err
	}
	defer mg.Close()
	return mg.Down()
}
