package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"taskhub/api/internal/activity"
	"taskhub/api/internal/blob"
	"taskhub/api/internal/effects"
	"taskhub/api/internal/email"
	"taskhub/api/internal/notify"
	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
)

var renormalizeCmd = &cobra.Command{
	Use:   "renormalize",
	Short: "Rewrite a board column's positions to 0..n-1",
	Long: `Rewrites the positions of every issue in one status column so that
repeated drops into the same gap have room again. The relative order of
the column is kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		status, _ := cmd.Flags().GetString("status")
		status = strings.ToUpper(strings.TrimSpace(status))
		if projectID == "" || status == "" {
			return fmt.Errorf("--project and --status are required")
		}

		db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		count, err := store.NewPostgresStore(db).RenormalizeColumn(cmd.Context(), projectID, status)
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(cmd.OutOrStdout(), "%s renormalized %d issues in %s\n", green("✓"), count, status)
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the Meilisearch issue index from PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.MeiliURL == "" {
			return fmt.Errorf("MEILI_URL is not set")
		}
		db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meili.Close()

		// The client checks health in the background.
		deadline := time.Now().Add(10 * time.Second)
		for !meili.Healthy() && time.Now().Before(deadline) {
			time.Sleep(250 * time.Millisecond)
		}
		if !meili.Healthy() {
			return fmt.Errorf("meilisearch at %s is not healthy", cfg.MeiliURL)
		}

		count, err := search.NewService(meili, search.NewPgFTS(db)).ReindexAllFromPG(cmd.Context())
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(cmd.OutOrStdout(), "%s indexed %d issues\n", green("✓"), count)
		return nil
	},
}

var effectsCmd = &cobra.Command{
	Use:   "effects",
	Short: "Inspect and drain the Redis side-effect queue",
}

var effectsDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Run every queued side effect once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is not set")
		}
		db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		client, err := effects.Connect(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()

		dataStore := store.NewPostgresStore(db)
		registry := effects.NewRegistry()
		activity.Register(registry, dataStore)
		notify.Register(registry, dataStore)
		search.Register(registry, search.NewService(nil, search.NewPgFTS(db)))
		email.Register(registry, email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}))
		blobs, err := openBlobStore(cmd.Context(), cfg.Blob)
		if err != nil {
			return err
		}
		blob.Register(registry, blobs)

		queue := effects.NewRedisQueue(client, registry, cfg.EffectRetries, time.Second)
		n, err := queue.Drain(cmd.Context())
		if err != nil {
			return err
		}
		dead, err := queue.DeadLetters(cmd.Context())
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(cmd.OutOrStdout(), "%s processed %d jobs\n", green("✓"), n)
		if dead > 0 {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d jobs parked on the dead-letter list\n", yellow("!"), dead)
		}
		return nil
	},
}

func init() {
	renormalizeCmd.Flags().String("project", "", "project id")
	renormalizeCmd.Flags().String("status", "", "status column, e.g. TODO")
	effectsCmd.AddCommand(effectsDrainCmd)
	rootCmd.AddCommand(effectsCmd)
}
