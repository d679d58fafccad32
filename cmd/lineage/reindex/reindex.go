package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/cozy-creator/lineage-server/internal/app"
	"github.com/cozy-creator/lineage-server/internal/config"
	"github.com/cozy-creator/lineage-server/internal/db/repository"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
)

var Cmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild lineage records from the blob names in storage",
	Long: "Scans the configured storage and reports which pipelines and versions can be recovered from blob names alone. " +
		"Nothing is written unless --apply is given. Recovered versions have no parent pointers and hang off their original.",
	RunE: runReindex,
}

func init() {
	flags := Cmd.Flags()
	flags.String("user", "", "User id that owns every recovered pipeline")
	flags.Bool("apply", false, "Write recovered records instead of only reporting them")
	flags.Bool("quiet", false, "Hide the progress bar")

	Cmd.MarkFlagRequired("user")
}

func runReindex(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetString("user")
	apply, _ := cmd.Flags().GetBool("apply")
	quiet, _ := cmd.Flags().GetBool("quiet")

	cfg := config.MustGetConfig()
	if apply && cfg.LineageStore == config.LineageStoreMemory {
		return fmt.Errorf("--apply needs the database lineage store, the memory store is rebuilt on startup with recover_user")
	}

	app, err := app.NewApp(cfg, app.WithFileStorage(), app.WithLineageStore())
	if err != nil {
		return err
	}
	defer app.Close()

	opts := repository.RebuildOptions{UserID: userID, DryRun: !apply}

	var (
		progress *mpb.Progress
		bar      *mpb.Bar
	)
	if !quiet {
		progress = mpb.New(
			mpb.WithWidth(60),
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(180*time.Millisecond),
		)

		opts.Progress = func(done, total int) {
			if bar == nil {
				bar = progress.AddBar(int64(total),
					mpb.PrependDecorators(
						decor.Name("reindex", decor.WC{W: 10, C: decor.DidentRight}),
						decor.CountersNoUnit("%d / %d"),
					),
					mpb.AppendDecorators(decor.Percentage()),
				)
			}
			bar.SetCurrent(int64(done))
		}
	}

	report, err := repository.RebuildIndex(app.Context(), app.Repository, app.Storage(), opts)
	if progress != nil {
		if err != nil && bar != nil {
			bar.Abort(false)
		}
		progress.Wait()
	}
	if err != nil {
		return err
	}

	mode := "would recover"
	if apply {
		mode = "recovered"
	}
	fmt.Printf("%s %d pipelines and %d versions (%d already indexed)\n", mode, report.Pipelines, report.Versions, report.Existing)
	for _, name := range report.Skipped {
		fmt.Printf("skipped %s\n", name)
	}

	return nil
}
