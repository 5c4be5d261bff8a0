package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"clipsave/internal/app"
	"clipsave/internal/autosave"
	"clipsave/internal/clipboard"
	"clipsave/internal/config"
	"clipsave/internal/notify"
	"clipsave/internal/progress"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation names the CLI command for the diagnostic log.
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config (run `clipsave config init` first): %w", err)
	}

	a, err := app.New(cfg, app.Options{
		ConfigPath: defaults.ConfigPath,
		Operation:  operation,
		Verbose:    verbose,
		Notifier:   newNotifier(),
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func newNotifier() progress.Notifier {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return notify.NewTerminal(os.Stderr)
	}
	return notify.Nop{}
}

// signalContext is cancelled on Ctrl-C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func readPassphrase(prompt string, confirm bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("a passphrase prompt needs a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	p, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Repeat passphrase: ")
		again, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		if string(again) != string(p) {
			return "", errors.New("passphrases do not match")
		}
	}
	return string(p), nil
}

func printOutcome(o autosave.Outcome) {
	switch o.Decision {
	case autosave.Saved:
		fmt.Printf("saved %s (%s)\n", o.Path, humanize.IBytes(uint64(o.Size)))
		if o.Err != nil {
			fmt.Printf("  warning: %v\n", o.Err)
		}
	case autosave.SkippedDuplicate:
		fmt.Printf("skipped %s: already saved\n", o.Source)
	case autosave.SkippedTooLarge:
		fmt.Printf("skipped %s: %s is over the size limit\n", o.Source, humanize.IBytes(uint64(o.Size)))
	case autosave.Failed:
		fmt.Printf("failed %s: %v\n", o.Source, o.Err)
	default:
		reason := "no image found"
		if o.Err != nil {
			reason = o.Err.Error()
		}
		fmt.Printf("ignored: %s\n", reason)
	}
}

var rootCmd = &cobra.Command{
	Use:          "clipsave",
	Short:        "Save clipboard images into a folder, once",
	SilenceUsage: true,
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

		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		fmt.Println("Next: `clipsave dir set PATH` and `clipsave enable`.")
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
		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		target := cfg.Autosave.TargetDir
		if target == "" {
			target = "(not set)"
		}
		mirror := cfg.Mirror.Type
		if mirror == "" {
			mirror = "(none)"
		} else if cfg.Mirror.Encrypt {
			mirror += " (encrypted)"
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Enabled:     %t\n", cfg.Autosave.Enabled)
		fmt.Printf("Target Dir:  %s\n", target)
		fmt.Printf("Size Limit:  %d MB\n", cfg.Autosave.MaxFileSizeMB)
		fmt.Printf("Auto Clean:  %t\n", cfg.Autosave.AutoClean)
		fmt.Printf("Downloads:   %d at a time, %ds timeout\n", cfg.Fetch.MaxConcurrent, cfg.Fetch.TimeoutSeconds)
		fmt.Printf("History:     %s, %d entries\n", cfg.History.Type, cfg.History.MaxEntries)
		fmt.Printf("Mirror:      %s\n", mirror)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		return nil
	},
}

// dir command
var dirCmd = &cobra.Command{
	Use:   "dir",
	Short: "Manage the target directory",
}

var dirSetCmd = &cobra.Command{
	Use:   "set PATH",
	Short: "Save images into PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("dir set")
		if err != nil {
			return err
		}
		defer a.Close()

		dir, err := a.SetTargetDir(args[0])
		if err != nil {
			a.Fail()
			return err
		}
		fmt.Printf("Target directory: %s\n", dir)
		return nil
	},
}

var dirListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recently used target directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("dir list")
		if err != nil {
			return err
		}
		defer a.Close()

		current := a.Config().Autosave.TargetDir
		dirs := a.RecentDirs()
		if len(dirs) == 0 {
			fmt.Println("No recent directories.")
			return nil
		}
		for i, d := range dirs {
			marker := ""
			if d == current {
				marker = "  [current]"
			}
			fmt.Printf("%2d  %s%s\n", i+1, d, marker)
		}
		return nil
	},
}

var dirClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget recently used directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("dir clear")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.ClearRecentDirs()
	},
}

func setEnabled(enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Name())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SetEnabled(enabled); err != nil {
			a.Fail()
			return err
		}
		if enabled && a.Config().Autosave.TargetDir == "" {
			fmt.Println("Enabled, but no target directory is set: run `clipsave dir set PATH`.")
			return nil
		}
		fmt.Printf("Autosave enabled: %t\n", enabled)
		return nil
	}
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Turn automatic saving on",
	RunE:  setEnabled(true),
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn automatic saving off",
	RunE:  setEnabled(false),
}

var limitCmd = &cobra.Command{
	Use:   "limit MB",
	Short: fmt.Sprintf("Set the size limit in MB (%d-%d)", autosave.MinFileSizeMB, autosave.MaxFileSizeMB),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mb, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", args[0], err)
		}
		a, err := newApp("limit")
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.SetMaxSizeMB(mb); err != nil {
			a.Fail()
			return err
		}
		fmt.Printf("Size limit: %d MB\n", mb)
		return nil
	},
}

// save command
var saveCmd = &cobra.Command{
	Use:   "save [TEXT]",
	Short: "Process one clipboard capture",
	Long: `Process one capture as if it had just been copied.

TEXT may be a local image path or an http(s) image URL. Without TEXT the
current clipboard text is used. --image supplies raw image bytes, which are
also the fallback when a download is not usable.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath, _ := cmd.Flags().GetString("image")

		var snap autosave.Snapshot
		switch {
		case len(args) == 1:
			snap.HasText, snap.Text = true, args[0]
		case imagePath == "":
			text, err := clipboard.System{}.ReadAll()
			if err != nil {
				return fmt.Errorf("reading clipboard: %w", err)
			}
			snap.HasText, snap.Text = text != "", text
		}
		if imagePath != "" {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("reading image: %w", err)
			}
			snap.HasImage, snap.Image = true, data
		}

		a, err := newApp("save")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()
		o, err := a.Ingest(ctx, snap)
		if err != nil {
			a.Fail()
			return err
		}
		printOutcome(o)
		if o.Decision == autosave.Failed {
			a.Fail()
			return o.Err
		}
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the clipboard and save images until interrupted",
	Long: `Watch polls the system clipboard for text and saves the image each copied
file path or http(s) URL points to. Copied bitmap data is not read from the
system clipboard; save it with "clipsave save --image FILE" instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("watch")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		fmt.Printf("Watching clipboard, saving into %s. Ctrl-C to stop.\n", a.Config().Autosave.TargetDir)
		if err := a.Watch(ctx, printOutcome); err != nil {
			a.Fail()
			return err
		}
		return nil
	},
}

// checksums command
var checksumsCmd = &cobra.Command{
	Use:   "checksums",
	Short: "Maintain the duplicate index of the target directory",
}

var checksumsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Drop entries for files that were deleted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("checksums clean")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Clean()
		if err != nil {
			a.Fail()
			return err
		}
		if report.LogMissing {
			fmt.Println("No checksum log, nothing to clean.")
			return nil
		}
		fmt.Printf("Removed %d, kept %d.\n", report.Removed, report.Kept)
		return nil
	},
}

var checksumsRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rehash every image in the target directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("checksums rebuild")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		var bar *progressbar.ProgressBar
		report, err := a.Rebuild(ctx, func(processed, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
					progressbar.OptionSetDescription("Hashing"),
					progressbar.OptionClearOnFinish(),
				)
			}
			bar.Set(processed)
		})
		if bar != nil {
			bar.Finish()
		}
		if err != nil {
			a.Fail()
			if errors.Is(err, context.Canceled) {
				return errors.New("rebuild cancelled, checksum log unchanged")
			}
			return err
		}
		fmt.Printf("Recorded %d images out of %d files in %s.\n",
			report.Images, report.Scanned, report.Elapsed.Truncate(time.Millisecond))
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recent clipboard and save activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No history recorded.")
			return nil
		}
		for _, e := range events {
			fmt.Printf("%s  %-8s  %-7s  %s\n",
				e.Time.Local().Format("2006-01-02 15:04:05"),
				e.Category,
				strings.ToUpper(e.Level.String()),
				e.Message,
			)
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all history",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("history clear")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.ClearHistory(cmd.Context())
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage mirror encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair used to encrypt mirror copies",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readPassphrase("New passphrase: ", true)
		if err != nil {
			return err
		}
		a, err := newApp("keys init")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SetupKeys(passphrase); err != nil {
			a.Fail()
			return err
		}
		cfg := a.Config()
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s (passphrase protected)\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// mirror command
var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Access the offsite mirror",
}

var mirrorRestoreCmd = &cobra.Command{
	Use:   "restore DIGEST DEST",
	Short: "Copy a mirrored image back to DEST",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("mirror restore")
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if a.MirrorEncrypted() {
			if passphrase, err = readPassphrase("Passphrase: ", false); err != nil {
				return err
			}
		}
		if err := a.RestoreFromMirror(args[0], args[1], passphrase); err != nil {
			a.Fail()
			return err
		}
		fmt.Printf("Restored %s to %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Also log diagnostics to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// dir subcommands
	dirCmd.AddCommand(dirSetCmd)
	dirCmd.AddCommand(dirListCmd)
	dirCmd.AddCommand(dirClearCmd)

	checksumsCmd.AddCommand(checksumsCleanCmd)
	checksumsCmd.AddCommand(checksumsRebuildCmd)

	historyCmd.AddCommand(historyClearCmd)
	historyCmd.Flags().IntP("limit", "n", config.DefaultMaxEntries, "Maximum number of entries to show")

	keysCmd.AddCommand(keysInitCmd)
	mirrorCmd.AddCommand(mirrorRestoreCmd)

	saveCmd.Flags().String("image", "", "Image file to use as the clipboard bitmap")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dirCmd)
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(limitCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(checksumsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(mirrorCmd)
}
