package modelfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// NewCommand creates a Cobra command tree for model downloads.
// The returned command can be executed directly or added to a parent CLI.
//
// Commands provided:
//   - models list
//   - models download <model>... [--jobs N]
//   - models info <model>
//   - models verify <model>
//
// Global flags: --json, --quiet, --verbose, --debug, --config, --catalog-url, --dir
//
// cfg supplies the defaults. A --config YAML file, MODELFETCH_* environment
// variables and flags are layered over it in that order.
func NewCommand(cfg Config, opts ...ManagerOption) *cobra.Command {
	var (
		jsonOutput bool
		quiet      bool
		verbose    bool
		debug      bool
		configPath string
		catalogURL string
		dir        string
	)

	// Manager and settings are resolved in PersistentPreRunE
	var (
		mgr      Manager
		settings FileConfig
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Download ML models",
		Long:  "List, download, and verify ML model files from a model catalog.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip manager creation for help commands
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			var err error
			settings, err = resolveSettings(cfg, configPath, FileConfig{
				CatalogURL: catalogURL,
				ModelsDir:  dir,
				Debug:      debug,
			})
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
			}

			mopts := append([]ManagerOption{WithCatalogTimeout(settings.Timeout)}, opts...)
			mgr, err = NewManager(settings.ManagerConfig(), mopts...)
			if err != nil {
				return fmt.Errorf("failed to initialize manager: %w", err)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Record and print download timings")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&catalogURL, "catalog-url", "", "Catalog base URL (default "+DefaultCatalogURL+")")
	cmd.PersistentFlags().StringVarP(&dir, "dir", "d", "", "Destination directory (default: working directory)")

	// Add subcommands
	cmd.AddCommand(listCmd(&mgr, &jsonOutput, &quiet))
	cmd.AddCommand(downloadCmd(&mgr, &settings, &jsonOutput, &quiet, &verbose))
	cmd.AddCommand(infoCmd(&mgr, &jsonOutput))
	cmd.AddCommand(verifyCmd(&mgr, &settings, &quiet))

	return cmd
}

// resolveSettings layers cfg, the optional config file, the environment and
// flag overrides, then validates the result.
func resolveSettings(cfg Config, configPath string, flags FileConfig) (FileConfig, error) {
	settings := DefaultFileConfig().Merge(FileConfig{
		CatalogURL: cfg.CatalogURL,
		ModelsDir:  cfg.Location,
	})

	if configPath != "" {
		fromFile, err := LoadConfigFile(configPath)
		if err != nil {
			return FileConfig{}, err
		}
		settings = settings.Merge(fromFile)
	}

	if err := settings.LoadFromEnv(); err != nil {
		return FileConfig{}, err
	}

	settings = settings.Merge(flags)
	if err := settings.Validate(); err != nil {
		return FileConfig{}, err
	}
	return settings, nil
}

func listCmd(mgr *Manager, jsonOutput, quiet *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List models in the catalog",
		Long:  "List every model the catalog offers.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := (*mgr).ListModels(cmd.Context())
			if err != nil {
				return err
			}
			return outputModels(cmd.OutOrStdout(), models, *jsonOutput, *quiet)
		},
	}
}

// downloadOutcome is one line of download command output.
type downloadOutcome struct {
	Model   string `json:"model"`
	ID      string `json:"id"`
	State   string `json:"state"`
	Path    string `json:"path,omitempty"`
	Bytes   int64  `json:"bytes"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed,omitempty"`
}

func downloadCmd(mgr *Manager, settings *FileConfig, jsonOutput, quiet, verbose *bool) *cobra.Command {
	var jobs int

	cmd := &cobra.Command{
		Use:   "download <model>...",
		Short: "Download one or more models",
		Long: "Download models from the catalog into the destination directory. " +
			"Interrupting the command cancels every download in flight and removes partial files.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			opts := DownloadOptions{
				Location: settings.ModelsDir,
				URL:      settings.CatalogURL,
				Debug:    settings.Debug,
			}

			// A progress bar only makes sense for a single download on a terminal
			var bar *progressBar
			if len(args) == 1 && !*quiet && !*jsonOutput && isTerminal(out) {
				bar = newProgressBar(out)
				opts.Progress = bar.update
			}

			var (
				mu       sync.Mutex
				outcomes = make([]downloadOutcome, len(args))
			)

			g := new(errgroup.Group)
			g.SetLimit(max(jobs, 1))
			for i, model := range args {
				i, model := i, model
				g.Go(func() error {
					// Downloads are detached from ctx and stopped through Cancel
					c, err := (*mgr).Download(context.WithoutCancel(ctx), model, opts)
					if err != nil {
						mu.Lock()
						outcomes[i] = downloadOutcome{Model: model, State: StateFailed.String(), Error: err.Error()}
						mu.Unlock()
						return err
					}
					if *verbose && !*jsonOutput {
						fmt.Fprintf(out, "Downloading %s (id %s)\n", model, c.ID())
					}

					select {
					case <-c.Done():
					case <-ctx.Done():
						c.Cancel()
						<-c.Done()
					}

					res := c.Result()
					if bar != nil {
						bar.finish(res.State == StateSucceeded)
					}

					mu.Lock()
					outcomes[i] = newDownloadOutcome(model, c.ID(), res)
					if !*jsonOutput && !*quiet {
						printOutcome(out, outcomes[i])
					}
					mu.Unlock()
					return res.Err
				})
			}
			err := g.Wait()

			if *jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(outcomes); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "j", 2, "Maximum concurrent downloads")
	return cmd
}

func newDownloadOutcome(model, id string, res Result) downloadOutcome {
	o := downloadOutcome{
		Model: model,
		ID:    id,
		State: res.State.String(),
		Path:  res.Path,
		Bytes: res.Bytes,
	}
	if res.Err != nil {
		o.Error = res.Err.Error()
	}
	if res.Elapsed > 0 {
		o.Elapsed = res.Elapsed.Round(time.Millisecond).String()
	}
	return o
}

func printOutcome(w io.Writer, o downloadOutcome) {
	switch o.State {
	case StateSucceeded.String():
		color.New(color.FgGreen).Fprintf(w, "Downloaded %s", o.Model)
		fmt.Fprintf(w, " -> %s (%s)", o.Path, formatSize(o.Bytes))
	case StateCancelled.String():
		color.New(color.FgYellow).Fprintf(w, "Cancelled %s", o.Model)
	default:
		color.New(color.FgRed).Fprintf(w, "Failed %s", o.Model)
		fmt.Fprintf(w, ": %s", o.Error)
	}
	if o.Elapsed != "" {
		fmt.Fprintf(w, " [%s]", o.Elapsed)
	}
	fmt.Fprintln(w)
}

func infoCmd(mgr *Manager, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "info <model>",
		Short: "Show model information",
		Long:  "Show the catalog metadata a model identifier resolves to.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := (*mgr).Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return outputDescriptor(cmd.OutOrStdout(), desc, *jsonOutput)
		},
	}
}

func verifyCmd(mgr *Manager, settings *FileConfig, quiet *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <model>",
		Short: "Verify a downloaded model",
		Long:  "Check a downloaded model file against the size and checksum in the catalog.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := (*mgr).Verify(cmd.Context(), args[0], DownloadOptions{
				Location: settings.ModelsDir,
				URL:      settings.CatalogURL,
			})
			if err != nil {
				return err
			}

			if !*quiet {
				color.New(color.FgGreen).Fprint(cmd.OutOrStdout(), "OK")
				fmt.Fprintf(cmd.OutOrStdout(), " %s\n", path)
			}
			return nil
		},
	}
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Output helpers

func outputModels(w io.Writer, models []map[string]string, asJSON, quiet bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}

	if quiet {
		for _, m := range models {
			fmt.Fprintln(w, m["filename"])
		}
		return nil
	}

	if len(models) == 0 {
		fmt.Fprintln(w, "No models found in catalog")
		return nil
	}

	sorted := make([]map[string]string, len(models))
	copy(sorted, models)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i]["name"]) < strings.ToLower(sorted[j]["name"])
	})

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFILENAME\tSIZE")
	for _, m := range sorted {
		size := "-"
		if n, err := strconv.ParseInt(m["filesize"], 10, 64); err == nil && n > 0 {
			size = formatSize(n)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m["name"], m["filename"], size)
	}
	return tw.Flush()
}

func outputDescriptor(w io.Writer, d ModelDescriptor, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			ID       string `json:"id"`
			Name     string `json:"name,omitempty"`
			Filename string `json:"filename"`
			URL      string `json:"url"`
			Size     int64  `json:"size,omitempty"`
			Checksum string `json:"checksum,omitempty"`
		}{d.ID, d.Name, d.Filename, d.URL, d.Size, d.Checksum.String()})
	}

	fmt.Fprintf(w, "Model:        %s\n", d.ID)
	if d.Name != "" {
		fmt.Fprintf(w, "Name:         %s\n", d.Name)
	}
	fmt.Fprintf(w, "Filename:     %s\n", d.Filename)
	fmt.Fprintf(w, "URL:          %s\n", d.URL)
	if d.Size > 0 {
		fmt.Fprintf(w, "Size:         %s\n", formatSize(d.Size))
	} else {
		fmt.Fprintln(w, "Size:         unknown")
	}
	if !d.Checksum.IsZero() {
		fmt.Fprintf(w, "Checksum:     %s\n", d.Checksum)
	} else {
		fmt.Fprintln(w, "Checksum:     none")
	}
	return nil
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// progressBar redraws a single download's progress at most once per tick.
type progressBar struct {
	w io.Writer

	mu      sync.Mutex
	started time.Time
	last    time.Time
	done    bool
}

func newProgressBar(w io.Writer) *progressBar {
	return &progressBar{w: w}
}

// update is a DownloadOptions.Progress callback.
func (b *progressBar) update(p Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return
	}
	now := time.Now()
	if b.started.IsZero() {
		b.started = now
		// Hide cursor
		fmt.Fprint(b.w, "\x1b[?25l")
	} else if now.Sub(b.last) < 200*time.Millisecond && p.BytesWritten != p.BytesTotal {
		return
	}
	b.last = now
	renderProgress(b.w, p.BytesWritten, p.BytesTotal, b.started)
}

// finish restores the cursor and ends the line.
func (b *progressBar) finish(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done || b.started.IsZero() {
		b.done = true
		return
	}
	b.done = true
	if !ok {
		fmt.Fprint(b.w, "\r\x1b[K")
	}
	fmt.Fprint(b.w, "\x1b[?25h\n")
}

// renderProgress renders the progress bar to the writer.
// Format: Downloading [============>                 ] 45% (5.2 MB/s, elapsed: 30s, remaining: 2m 15s)
// With an unknown total only the byte count and speed are shown.
func renderProgress(w io.Writer, current, total int64, startTime time.Time) {
	elapsed := time.Since(startTime)

	var speed float64
	if elapsed.Seconds() > 0 && current > 0 {
		speed = float64(current) / elapsed.Seconds()
	}

	if total <= 0 {
		fmt.Fprintf(w, "\r\x1b[KDownloading %s (%s, elapsed: %s)",
			formatSize(current), formatSpeed(speed), formatDuration(elapsed))
		return
	}

	pct := float64(current) / float64(total) * 100

	var remaining time.Duration
	if speed > 0 && current < total {
		remaining = time.Duration(float64(total-current)/speed) * time.Second
	}

	// Build progress bar
	const barWidth = 30
	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}

	var bar string
	if filled >= barWidth {
		bar = strings.Repeat("=", barWidth)
	} else if filled > 0 {
		bar = strings.Repeat("=", filled) + ">" + strings.Repeat(" ", barWidth-filled-1)
	} else {
		bar = ">" + strings.Repeat(" ", barWidth-1)
	}

	// Format and print (using \r to overwrite, \x1b[K to clear to end of line)
	fmt.Fprintf(w, "\r\x1b[KDownloading [%s] %.0f%% (%s, elapsed: %s, remaining: %s)",
		bar, pct, formatSpeed(speed), formatDuration(elapsed), formatDuration(remaining))
}

// formatSpeed formats bytes per second as KB/s or MB/s.
func formatSpeed(bytesPerSec float64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)

	if bytesPerSec >= MB {
		return fmt.Sprintf("%.1f MB/s", bytesPerSec/MB)
	}
	if bytesPerSec >= KB {
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/KB)
	}
	return fmt.Sprintf("%.0f B/s", bytesPerSec)
}

// formatDuration formats a duration as human-readable text (e.g., "5s", "2m 30s", "1h 5m").
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	d = d.Round(time.Second)

	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	if hours > 0 {
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	if mins > 0 {
		if secs > 0 {
			return fmt.Sprintf("%dm %ds", mins, secs)
		}
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%ds", secs)
}
