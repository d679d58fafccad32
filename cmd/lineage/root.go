package cmd

import (
	"fmt"
	"os"

	// Subcommands
	db "github.com/cozy-creator/lineage-server/cmd/lineage/db"
	reindex "github.com/cozy-creator/lineage-server/cmd/lineage/reindex"
	run "github.com/cozy-creator/lineage-server/cmd/lineage/run"
	"github.com/cozy-creator/lineage-server/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Cmd = &cobra.Command{
	Use:   "lineage",
	Short: "Lineage server CLI",
	Long:  "Uploads images, runs AI transforms on them and keeps the version lineage of every result",

	// Runs before this command and any subcommands
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}

		if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
			return err
		}

		return config.LoadEnvAndConfigFiles()
	},
	SilenceUsage: true,
}

func Execute() {
	if err := Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pflags := Cmd.PersistentFlags()

	pflags.String("lineage-home", "", "Path to the lineage home directory")
	pflags.String("config-file", "", "Path to the config file")
	pflags.String("env-file", "", "Path to the env file")

	viper.BindPFlag("lineage_home", pflags.Lookup("lineage-home"))
	viper.BindPFlag("config_file", pflags.Lookup("config-file"))
	viper.BindPFlag("env_file", pflags.Lookup("env-file"))

	Cmd.AddCommand(run.Cmd, db.Cmd, reindex.Cmd)
	Cmd.CompletionOptions.HiddenDefaultCmd = true
}
