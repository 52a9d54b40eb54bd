package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"bakker-go/internal/app"
	"bakker-go/internal/checkpoint"
	"bakker-go/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		report(os.Stdout, err)
		os.Exit(1)
	}
}

// loadConfig reads the config store from its default location.
func loadConfig() (*app.Defaults, *config.Store, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}
	store, err := config.Load(defaults.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	return defaults, store, nil
}

// newApp reads the config and creates a BakkerApp. The caller must defer app.Close().
// command identifies the CLI command being run in the log.
func newApp(command string) (*app.BakkerApp, error) {
	defaults, store, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewBakkerApp(store, defaults, command, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:           "bakker",
	Short:         "Versioned, deduplicated directory backups",
	Long:          "Versioned, deduplicated directory backups.\n\n" + app.EnvironmentHelp(),
	SilenceErrors: true,
	SilenceUsage:  true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := loadConfig()
		if err != nil {
			return err
		}
		for _, item := range store.Items() {
			fmt.Printf("%s = %s\n", item.Key, item.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := loadConfig()
		if err != nil {
			return err
		}
		return store.Set(args[0], args[1])
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Show a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := loadConfig()
		if err != nil {
			return err
		}
		value, ok := store.Get(args[0])
		if !ok {
			return fmt.Errorf("config does not contain key: %s", args[0])
		}
		fmt.Printf("%s = %s\n", args[0], value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset KEY",
	Short: "Remove a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := loadConfig()
		if err != nil {
			return err
		}
		return store.Unset(args[0])
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the checkpoints in the default storage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList("", "")
	},
}

var listFSCmd = &cobra.Command{
	Use:   "fs",
	Short: "List the checkpoints in a backup folder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		return runList("fs", path)
	},
}

func runList(choice, path string) error {
	a, err := newApp("list")
	if err != nil {
		return err
	}
	defer a.Close()

	metas, err := a.List(choice, path)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}
	checksum := color.New(color.FgYellow)
	for _, m := range metas {
		checksum.Println(m.Checksum)
		fmt.Println(checkpoint.FormatTime(m.Time))
		fmt.Println(m.Name)
		fmt.Println()
	}
	return nil
}

// create command
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a checkpoint of the current directory in the default storage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		return runCreate(cmd.Context(), "", "", name)
	},
}

var createFSCmd = &cobra.Command{
	Use:   "fs",
	Short: "Create a checkpoint of the current directory in a backup folder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		path, _ := cmd.Flags().GetString("path")
		return runCreate(cmd.Context(), "fs", path, name)
	},
}

func runCreate(ctx context.Context, choice, path, name string) error {
	a, err := newApp("create")
	if err != nil {
		return err
	}
	defer a.Close()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	res, err := a.Create(ctx, choice, path, cwd, name)
	if err != nil {
		return fmt.Errorf("creating checkpoint: %w", err)
	}

	color.New(color.FgGreen).Printf("Created checkpoint %s\n", res.Checkpoint.Meta())
	fmt.Printf("%d blob(s) written, %d deduplicated\n", res.Store.BlobsWritten, res.Store.BlobsDeduplicated)
	if n := len(res.Build.Skipped); n > 0 {
		color.New(color.FgYellow).Printf("Skipped %d unsupported or unreadable entries:\n", n)
		for _, s := range res.Build.Skipped {
			fmt.Printf("\t%s: %s\n", s.Path, s.Reason)
		}
	}
	return nil
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a checkpoint from the default storage into the current directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("identifier")
		useCache, _ := cmd.Flags().GetBool("cache")
		return runRestore("", "", id, useCache)
	},
}

var restoreFSCmd = &cobra.Command{
	Use:   "fs",
	Short: "Restore a checkpoint from a backup folder into the current directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("identifier")
		path, _ := cmd.Flags().GetString("path")
		useCache, _ := cmd.Flags().GetBool("cache")
		return runRestore("fs", path, id, useCache)
	},
}

func runRestore(choice, path, id string, useCache bool) error {
	a, err := newApp("restore")
	if err != nil {
		return err
	}
	defer a.Close()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	meta, err := a.Restore(choice, path, cwd, id, useCache)
	if err != nil {
		return identifierError(id, err)
	}
	color.New(color.FgGreen).Printf("Restored checkpoint %s\n", meta)
	return nil
}

// cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the local content cache",
}

var cacheBuildCmd = &cobra.Command{
	Use:   "build [DIR]",
	Short: "Index the files below DIR (default: current directory)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("cache-build")
		if err != nil {
			return err
		}
		defer a.Close()

		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		n, err := a.CacheBuild(dir)
		if err != nil {
			return fmt.Errorf("building cache: %w", err)
		}
		fmt.Printf("Indexed %d checksum(s)\n", n)
		return nil
	},
}

var cacheLookupCmd = &cobra.Command{
	Use:   "lookup CHECKSUM",
	Short: "Show where cached content with CHECKSUM lives",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("cache-lookup")
		if err != nil {
			return err
		}
		defer a.Close()

		entry, ok, err := a.CacheLookup(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no cache entry for checksum: %s", args[0])
		}
		state := "original"
		if entry.Moved {
			state = "moved"
		}
		fmt.Printf("%s\t%s\n", entry.Path, state)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configUnsetCmd)

	// storage-specific subcommands
	listCmd.AddCommand(listFSCmd)
	listFSCmd.Flags().String("path", "", "Backup folder (default: "+config.KeyStorageFSPath+")")

	createCmd.AddCommand(createFSCmd)
	createCmd.Flags().StringP("name", "n", "", "Checkpoint name")
	createFSCmd.Flags().StringP("name", "n", "", "Checkpoint name")
	createFSCmd.Flags().String("path", "", "Backup folder (default: "+config.KeyStorageFSPath+")")

	restoreCmd.AddCommand(restoreFSCmd)
	for _, c := range []*cobra.Command{restoreCmd, restoreFSCmd} {
		c.Flags().StringP("identifier", "i", "", "Checksum prefix or name of the checkpoint")
		c.MarkFlagRequired("identifier")
		c.Flags().Bool("cache", false, "Move or copy content indexed by 'cache build' instead of reading it from storage")
	}
	restoreFSCmd.Flags().String("path", "", "Backup folder (default: "+config.KeyStorageFSPath+")")

	cacheCmd.AddCommand(cacheBuildCmd)
	cacheCmd.AddCommand(cacheLookupCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(cacheCmd)
}
