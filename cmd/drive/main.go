package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"clouddrive/internal/app"
	"clouddrive/internal/config"
	"clouddrive/internal/drive"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", errorText(err))
		os.Exit(1)
	}
}

// errorText hides database and storage causes, which are in the log file.
func errorText(err error) string {
	if errors.Is(err, drive.ErrDatabase) || errors.Is(err, drive.ErrStorage) {
		return drive.UserMessage(err) + " (details in the log)"
	}
	return err.Error()
}

// newApp reads the config and creates a DriveApp. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Mkdir", "Upload").
func newApp(cmd *cobra.Command, operation string, args []string) (*app.DriveApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	level, err := app.LogLevel()
	if err != nil {
		return nil, err
	}

	owner, _ := cmd.Flags().GetString("owner")
	if owner == "" {
		owner = defaults["owner"]
	}
	metricsFile, _ := cmd.Flags().GetString("metrics-file")
	verbose, _ := cmd.Flags().GetBool("verbose")

	opts := app.Options{Owner: owner, MetricsFile: metricsFile, Level: level}
	if verbose {
		opts.Stderr = os.Stderr
	}

	op := app.NewOperation(operation, strings.Join(args, " "))
	a, err := app.NewDriveApp(cmd.Context(), cfg, op, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:           "drive",
	Short:         "Multi-user cloud file manager",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return app.LoadEnvFile(".env")
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		owner, _ := cmd.Flags().GetString("owner")
		if owner == "" {
			owner = defaults["owner"]
		}
		if owner == "" {
			return fmt.Errorf("an owner is required: pass --owner or set DRIVE_OWNER")
		}

		cfg := config.NewConfig(owner, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Owner:    %s\n", owner)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Owner:        %s\n", cfg.Owner)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Catalog:      %s\n", cfg.Catalog.Type)
		fmt.Printf("Object Store: %s\n", cfg.ObjectStore.Type)
		if cfg.ObjectStore.Bucket != "" {
			fmt.Printf("Bucket:       %s\n", cfg.ObjectStore.Bucket)
		}
		fmt.Printf("Marker:       %s\n", cfg.Tree.MarkerName)
		fmt.Printf("Download TTL: %s\n", time.Duration(cfg.Tree.DownloadTTL))
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the catalog schema",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending catalog migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Migrate", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Migrate(); err != nil {
			return err
		}
		fmt.Println("Catalog schema is up to date.")
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the catalog schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "SchemaStatus", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SchemaStatus(); err != nil {
			return err
		}
		fmt.Println("Catalog schema is up to date.")
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "List", args)
		if err != nil {
			return err
		}
		defer a.Close()

		target := "/"
		if len(args) > 0 {
			target = args[0]
		}
		entries, err := a.List(cmd.Context(), target)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Empty directory.")
			return nil
		}
		for _, e := range entries {
			if e.IsDir() {
				fmt.Printf("d  %10s  %s  %s/\n", "-", e.UpdatedAt.Format("2006-01-02 15:04:05"), e.Name)
				continue
			}
			fmt.Printf("-  %10d  %s  %s\n", e.Size, e.UpdatedAt.Format("2006-01-02 15:04:05"), e.Name)
		}
		return nil
	},
}

// mkdir command
var mkdirCmd = &cobra.Command{
	Use:   "mkdir PATH",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parents, _ := cmd.Flags().GetBool("parents")

		a, err := newApp(cmd, "Mkdir", args)
		if err != nil {
			return err
		}
		defer a.Close()

		dir, err := a.Mkdir(cmd.Context(), args[0], parents)
		if err != nil {
			return err
		}
		fmt.Printf("Created %s\n", drive.DisplayPath(dir))
		return nil
	},
}

// upload command
var uploadCmd = &cobra.Command{
	Use:   "upload LOCAL_PATH...",
	Short: "Upload local files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")
		recursive, _ := cmd.Flags().GetBool("recursive")

		srcs := make([]string, 0, len(args))
		for _, arg := range args {
			abs, err := filepath.Abs(arg)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			srcs = append(srcs, abs)
		}

		a, err := newApp(cmd, "Upload", args)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Upload(cmd.Context(), srcs, to, recursive)
		if err != nil {
			return err
		}
		for _, it := range result.Items {
			name := it.RelativePath
			if name == "" {
				name = it.Name
			}
			if it.Status == drive.ItemSuccess {
				fmt.Printf("ok     %s\n", name)
			} else {
				fmt.Printf("error  %s: %s\n", name, it.Message)
			}
		}
		fmt.Printf("Uploaded %d of %d file(s)\n", result.Succeeded(), len(result.Items))
		if result.Status != drive.BatchSuccess {
			return fmt.Errorf("upload %s", result.Status)
		}
		return nil
	},
}

// mv command
var mvCmd = &cobra.Command{
	Use:   "mv PATH DEST_DIR",
	Short: "Move a file or directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Move", args)
		if err != nil {
			return err
		}
		defer a.Close()

		e, report, err := a.Move(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Moved to %s\n", drive.DisplayPath(e))
		printReport(report)
		return nil
	},
}

// rename command
var renameCmd = &cobra.Command{
	Use:   "rename PATH NEW_NAME",
	Short: "Rename a file or directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Rename", args)
		if err != nil {
			return err
		}
		defer a.Close()

		e, report, err := a.Rename(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Renamed to %s\n", drive.DisplayPath(e))
		printReport(report)
		return nil
	},
}

func printReport(report *drive.RenameReport) {
	if report.Complete() {
		return
	}
	fmt.Printf("Warning: %d object(s) could not be moved:\n", len(report.Failed))
	for key, err := range report.Failed {
		fmt.Printf("  %s: %v\n", key, err)
	}
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Delete a file or directory with everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := confirm(os.Stdin, os.Stdout, fmt.Sprintf("Delete %s and everything in it?", args[0]))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Aborted.")
				return nil
			}
		}

		a, err := newApp(cmd, "Remove", args)
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.Remove(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", drive.DisplayPath(e))
		return nil
	},
}

// confirm asks a yes/no question on an interactive terminal. Without one,
// the caller must pass --yes.
func confirm(in *os.File, out io.Writer, question string) (bool, error) {
	if !term.IsTerminal(int(in.Fd())) {
		return false, fmt.Errorf("refusing to delete without a terminal: pass --yes")
	}
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// zip command
var zipCmd = &cobra.Command{
	Use:   "zip PATH",
	Short: "Download a directory as a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd, "Archive", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if output == "-" {
			_, err := a.Archive(cmd.Context(), args[0], os.Stdout)
			return err
		}

		tmp, err := os.CreateTemp(".", ".drive-zip-*")
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer os.Remove(tmp.Name())

		name, err := a.Archive(cmd.Context(), args[0], tmp)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		if output == "" {
			output = name
		}
		if err := os.Rename(tmp.Name(), output); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		fmt.Printf("Wrote %s\n", output)
		return nil
	},
}

// url command
var urlCmd = &cobra.Command{
	Use:   "url PATH",
	Short: "Print a time-limited download link for a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")

		a, err := newApp(cmd, "DownloadURL", args)
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.DownloadURL(cmd.Context(), args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Println(u)
		return nil
	},
}

// targets command
var targetsCmd = &cobra.Command{
	Use:   "targets PATH",
	Short: "List directories an entry can be moved into",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "MoveTargets", args)
		if err != nil {
			return err
		}
		defer a.Close()

		targets, err := a.MoveTargets(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, d := range targets {
			fmt.Println(drive.DisplayPath(d))
		}
		return nil
	},
}

var findCmd = &cobra.Command{
	Use:   "find QUERY",
	Short: "Find files and directories by name",
	Long:  "Lists every entry whose name contains QUERY, ignoring case. Wildcards are matched literally.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Find", args)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Find(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, e := range entries {
			fmt.Println(drive.DisplayPath(e))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("owner", "", "Owner to act as (default: config owner or DRIVE_OWNER)")
	rootCmd.PersistentFlags().String("metrics-file", "", "Write Prometheus metrics to this file on exit")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Mirror log records to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(mkdirCmd)
	mkdirCmd.Flags().BoolP("parents", "p", false, "Create missing parent directories")
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().String("to", "/", "Destination directory")
	uploadCmd.Flags().BoolP("recursive", "r", false, "Upload directories recursively")
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(zipCmd)
	zipCmd.Flags().StringP("output", "o", "", "Output file, or - for stdout (default: <dir>.zip)")
	rootCmd.AddCommand(urlCmd)
	urlCmd.Flags().Duration("ttl", 0, "Link lifetime (default: config download_ttl)")
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(findCmd)
}
