package commands

import (
	"github.com/spf13/cobra"
	"go.trai.ch/cratesync/internal/app"
)

func addSyncFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringP("lockfile", "l", "", "Path of the Cargo.lock to sync (default \"Cargo.lock\")")
	f.StringP("storage", "s", "", "Storage URL: file://, s3://, gs:// or a local path")
	f.StringP("root", "r", "", "CARGO_HOME to restore into (default $CARGO_HOME or ~/.cargo)")
	f.StringP("config", "c", "", "Optional cratesync.yaml")
	f.String("env-file", "", "Dotenv file with storage credentials")
	f.Duration("index-ttl", 0, "Skip index fetches younger than this (default 1h)")
	f.Bool("include-index", true, "Sync registry indexes")
	f.Int("network-jobs", 0, "Concurrent transfers")
	f.Int("cpu-jobs", 0, "Concurrent checksum and archive jobs")
	f.Bool("json", false, "Write logs as JSON")
	f.BoolP("verbose", "v", false, "Enable debug logs")
}

// syncOptions reads the sync flags of cmd. Flags left unset keep the configured value.
func syncOptions(cmd *cobra.Command) app.Options {
	f := cmd.Flags()

	var opts app.Options
	opts.Lockfile, _ = f.GetString("lockfile")
	opts.Storage, _ = f.GetString("storage")
	opts.Root, _ = f.GetString("root")
	opts.Config, _ = f.GetString("config")
	opts.EnvFile, _ = f.GetString("env-file")
	opts.IndexTTL, _ = f.GetDuration("index-ttl")
	opts.NetworkJobs, _ = f.GetInt("network-jobs")
	opts.CPUJobs, _ = f.GetInt("cpu-jobs")
	opts.JSON, _ = f.GetBool("json")
	opts.Verbose, _ = f.GetBool("verbose")

	if f.Changed("include-index") {
		include, _ := f.GetBool("include-index")
		opts.IncludeIndex = &include
	}
	return opts
}
