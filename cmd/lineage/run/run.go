package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cozy-creator/lineage-server/internal/app"
	"github.com/cozy-creator/lineage-server/internal/config"
	"github.com/cozy-creator/lineage-server/internal/events"
	"github.com/cozy-creator/lineage-server/internal/metrics"
	"github.com/cozy-creator/lineage-server/internal/server"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var Cmd = &cobra.Command{
	Use:   "run",
	Short: "Start the lineage server",
	RunE:  runApp,
}

func init() {
	flags := Cmd.Flags()

	flags.Int("port", 8881, "Port to run the server on")
	flags.String("host", "localhost", "Host to run the server on")
	flags.String("environment", "dev", "Environment configuration")
	flags.String("public-url", "", "Public base URL used for locally stored files")
	flags.Bool("disable-auth", false, "Accept requests without an X-User-ID header")
	flags.String("filesystem-type", config.FilesystemLocal, "Filesystem type: 'local', 's3' or 'gcs'")
	flags.String("lineage-store", config.LineageStoreDB, "Lineage store: 'db' or 'memory'")
	flags.String("recover-user", "", "Rebuild the memory store from storage on startup, owned by this user")

	flags.String("db-driver", config.DefaultDBDriver, "Database driver: 'sqlite', 'libsql' or 'pg'")
	flags.String("db-dsn", config.DefaultDBDSN, "Database DSN (Connection URL or Path)")
	flags.String("pulsar-url", "", "URL of the pulsar broker. Example: pulsar+ssl://my-cluster.streamnative.cloud:6651")

	flags.String("s3-access-key", "", "S3 access key")
	flags.String("s3-secret-key", "", "S3 secret key")
	flags.String("s3-region-name", "", "S3 region name")
	flags.String("s3-bucket-name", "", "S3 bucket name")
	flags.String("s3-folder", "", "S3 folder")
	flags.String("s3-vanity-url", "", "Public URL for S3 files")
	flags.String("s3-endpoint-url", "", "S3 endpoint URL")

	flags.String("gcs-bucket-name", "", "GCS bucket name")
	flags.String("gcs-credentials-file", "", "Path to a GCS service account file")

	bindFlags(flags)
	bindEnvs()
}

func bindFlags(flags *pflag.FlagSet) {
	keys := map[string]string{
		"port":                 "port",
		"host":                 "host",
		"environment":          "environment",
		"public-url":           "public_url",
		"disable-auth":         "disable_auth",
		"filesystem-type":      "filesystem_type",
		"lineage-store":        "lineage_store",
		"recover-user":         "recover_user",
		"db-driver":            "db.driver",
		"db-dsn":               "db.dsn",
		"pulsar-url":           "pulsar.url",
		"s3-access-key":        "s3.access_key",
		"s3-secret-key":        "s3.secret_key",
		"s3-region-name":       "s3.region_name",
		"s3-bucket-name":       "s3.bucket_name",
		"s3-folder":            "s3.folder",
		"s3-vanity-url":        "s3.vanity_url",
		"s3-endpoint-url":      "s3.endpoint_url",
		"gcs-bucket-name":      "gcs.bucket_name",
		"gcs-credentials-file": "gcs.credentials_file",
	}

	for flag, key := range keys {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func bindEnvs() {
	// External API services (does NOT use LINEAGE_ prefix)
	viper.BindEnv("fal.api_key", "LINEAGE_FAL_API_KEY", "FAL_KEY")
	viper.BindEnv("openai.api_key", "LINEAGE_OPENAI_API_KEY", "OPENAI_API_KEY")
}

func runApp(_ *cobra.Command, _ []string) error {
	app, err := app.NewApp(config.MustGetConfig(), app.DefaultOptions()...)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(app.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := server.NewServer(app.Config())
	if err != nil {
		return err
	}
	server.SetupRoutes(app)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		app.Logger.Info("lineage server started", zap.String("addr", server.Addr()))
		if err := server.Start(); err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return consumeEvents(ctx, app)
	})
	group.Go(func() error {
		<-ctx.Done()
		app.Logger.Info("shutting down")
		return server.Stop(context.Background())
	})

	return group.Wait()
}

// consumeEvents logs every lineage event published on the queue.
func consumeEvents(ctx context.Context, app *app.App) error {
	return events.Consume(ctx, app.MQ(), app.EventsTopic(), app.Logger, func(event events.Event) {
		metrics.EventsConsumed.WithLabelValues(string(event.Type)).Inc()
		app.Logger.Info("lineage event",
			zap.String("type", string(event.Type)),
			zap.String("user_id", event.UserID),
			zap.String("image_id", event.ImageID),
			zap.String("version_id", event.VersionID),
			zap.String("parent_id", event.ParentID),
			zap.Int64("processing_time_ms", event.ProcessingTimeMs))
	})
}
