package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pngoo-go/internal/batch"
	"pngoo-go/internal/compressor"
	"pngoo-go/internal/config"
	"pngoo-go/internal/inspector"
	"pngoo-go/internal/logger"
	"pngoo-go/internal/statistics"
	"pngoo-go/internal/tui"
	"pngoo-go/internal/web"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	cfgFile       string
	verbose       bool
	quiet         bool
	outputDir     string
	inPlace       bool
	forceLarger   bool
	workers       int
	colours       int
	orderedDither bool
	skipIfLarger  bool
	toolPath      string
	noProgress    bool
	useExiftool   bool
	port          int
	version       = "dev"
	buildTime     string
)

// rootCmd compresses the given files and directories.
var rootCmd = &cobra.Command{
	Use:   "pngoo [files or directories...]",
	Short: "Batch compress images to palette PNGs with pngquant",
	Long: `pngoo runs a batch of images through pngquant and keeps whichever of the
original and the compressed result is smaller.

Directories are walked recursively. Files that are not PNG are converted, so
the result always has a .png extension. Results are written in place unless
--output is given.

Press Ctrl+C once to stop starting new files; files already being compressed
finish. Press it again to abort them.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args)
	},
}

// inspectCmd prints what pngoo sees in an image.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>...",
	Short: "Show format, dimensions and metadata of images",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd, args)
	},
}

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket API",
	Long: `Starts a web server that accepts batches over HTTP and streams each file's
outcome to WebSocket clients at /ws.

Routes:
  GET  /api/status
  POST /api/batches
  POST /api/batches/cancel
  GET  /api/inspect?path=<file>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.Version = version
	if buildTime != "" {
		rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&toolPath, "tool", "", "path to the pngquant executable")

	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for compressed files (must exist)")
	rootCmd.Flags().BoolVarP(&inPlace, "in-place", "i", false, "overwrite files beside the originals")
	rootCmd.Flags().BoolVar(&forceLarger, "force-larger", false, "write the compressed result even when it is larger")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of files compressed at once")
	rootCmd.Flags().IntVarP(&colours, "colours", "c", 0, "palette size, 2-256")
	rootCmd.Flags().BoolVar(&orderedDither, "ordered-dither", false, "use ordered dithering instead of Floyd-Steinberg")
	rootCmd.Flags().BoolVar(&skipIfLarger, "skip-if-larger", false, "let pngquant keep the original when it cannot shrink it")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "print one line per file instead of the progress view")

	inspectCmd.Flags().BoolVar(&useExiftool, "exiftool", false, "read metadata with exiftool when goexif finds none")
	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (default from config, 8080)")

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
}

// runCompress executes one batch and prints the summary.
func runCompress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	files, err := batch.CollectFiles(args, cfg.SupportedExtensions)
	if err != nil {
		return fmt.Errorf("failed to collect files: %w", err)
	}

	showProgress := !noProgress && !quiet && isatty.IsTerminal(os.Stdout.Fd())
	log, err := setupLogger(cfg, !showProgress)
	if err != nil {
		return err
	}
	logger.WithFields(log, logrus.Fields{
		"inputs": len(args),
		"files":  len(files),
	}).Debug("Collected files")

	dispatcher := batch.NewDispatcher(newRegistry(cfg, log), log)
	stats := statistics.NewStatistics(len(files))
	sinks := batch.MultiSink{batch.SinkFuncs{Outcome: stats.Observe, Complete: stats.Finalize}}

	var (
		program *tea.Program
		updates chan tui.ProgressUpdate
		uiDone  = make(chan struct{})
	)
	switch {
	case showProgress:
		updates = make(chan tui.ProgressUpdate, 64)
		updates <- tui.ProgressUpdate{TotalDelta: len(files)}
		program = tea.NewProgram(tui.NewModel(updates), tea.WithInput(nil), tea.WithoutSignalHandler())
		sinks = append(sinks, tui.NewProgressSink(updates, uiDone))
		go func() {
			_, _ = program.Run()
			close(uiDone)
		}()
	case !quiet:
		sinks = append(sinks, batch.SinkFuncs{Outcome: printOutcome})
		close(uiDone)
	default:
		close(uiDone)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stopSignals := handleInterrupts(ctx, dispatcher, program, cancel)
	defer stopSignals()

	if err := dispatcher.Start(ctx, cfg.BatchConfig(files), sinks); err != nil {
		if updates != nil {
			close(updates)
		}
		<-uiDone
		return err
	}

	result := dispatcher.Wait()
	<-uiDone

	if !quiet {
		fmt.Fprintln(os.Stdout, tui.RenderSummary(tui.SummaryRows(stats)))
	}
	if result.Failed() > 0 {
		fmt.Fprintln(os.Stderr, stats.GetErrorSummary())
		return fmt.Errorf("%d of %d files failed", result.Failed(), result.Processed)
	}
	if result.Cancelled {
		return fmt.Errorf("batch cancelled after %d of %d files", result.Processed, result.Total)
	}
	return nil
}

// handleInterrupts makes the first SIGINT stop new claims and the second
// abort in-flight files.
func handleInterrupts(ctx context.Context, d *batch.Dispatcher, program *tea.Program, abort context.CancelFunc) func() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		interrupts := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigChan:
				interrupts++
				if interrupts == 1 {
					d.Cancel()
					if program != nil {
						program.Send(tui.CancellingMsg{})
					} else {
						fmt.Fprintln(os.Stderr, "Cancelling, waiting for in-flight files (Ctrl+C again to abort)")
					}
					continue
				}
				abort()
				return
			}
		}
	}()

	return func() { signal.Stop(sigChan) }
}

func printOutcome(o batch.Outcome) {
	switch {
	case !o.Succeeded():
		fmt.Fprintf(os.Stdout, "FAIL %s: %s: %s\n", o.OriginalPath, o.ErrorKind, o.ErrorMessage)
	case o.KeptOriginal():
		fmt.Fprintf(os.Stdout, "keep %s -> %s (%s)\n", o.OriginalPath, o.NewPath, statistics.FormatBytes(o.WrittenSize))
	default:
		fmt.Fprintf(os.Stdout, "ok   %s -> %s (%s -> %s)\n", o.OriginalPath, o.NewPath,
			statistics.FormatBytes(o.OriginalSize), statistics.FormatBytes(o.WrittenSize))
	}
}

// runInspect prints image information for each file.
func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := setupLogger(cfg, true)
	if err != nil {
		return err
	}

	var opts []inspector.Option
	if useExiftool {
		opts = append(opts, inspector.WithExiftool())
	}
	insp := inspector.NewInspector(log, opts...)
	defer insp.Close()

	var failed int
	for _, path := range args {
		info, err := insp.Inspect(path)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintln(os.Stdout, path)
		fmt.Fprintln(os.Stdout, tui.RenderSummary(inspectRows(info)))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be inspected", failed, len(args))
	}
	return nil
}

func inspectRows(info *inspector.ImageInfo) []tui.SummaryRow {
	rows := []tui.SummaryRow{
		{Label: "Format", Value: info.Format},
		{Label: "Dimensions", Value: fmt.Sprintf("%dx%d", info.Width, info.Height)},
		{Label: "Size", Value: statistics.FormatBytes(info.Size)},
		{Label: "Already PNG", Value: fmt.Sprintf("%t", info.IsPNG)},
	}
	if info.MismatchedExtension() {
		rows = append(rows, tui.SummaryRow{Label: "Extension says", Value: info.ExtensionFormat})
	}
	if info.Software != "" {
		rows = append(rows, tui.SummaryRow{Label: "Software", Value: info.Software})
	}
	if info.DateTime != nil {
		rows = append(rows, tui.SummaryRow{Label: "Date", Value: info.DateTime.Format("2006-01-02 15:04:05")})
	}
	if info.Orientation != 0 {
		rows = append(rows, tui.SummaryRow{Label: "Orientation", Value: fmt.Sprintf("%d", info.Orientation)})
	}
	if info.Source != inspector.SourceNone {
		rows = append(rows, tui.SummaryRow{Label: "Metadata from", Value: string(info.Source)})
	}
	return rows
}

// runServe starts the web server and shuts it down on SIGINT or SIGTERM.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	log, err := setupLogger(cfg, true)
	if err != nil {
		return err
	}

	dispatcher := batch.NewDispatcher(newRegistry(cfg, log), log)
	insp := inspector.NewInspector(log, inspector.WithExiftool())
	defer insp.Close()
	server := web.NewServer(cfg, log, dispatcher, insp)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		select {
		case <-dispatcher.Done():
		case <-shutdownCtx.Done():
			log.Warn("Batch still running at shutdown")
		}
		return nil
	})

	if !quiet {
		fmt.Printf("pngoo API listening on http://localhost:%d (Ctrl+C to stop)\n", cfg.Server.Port)
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Server stopped")
	return nil
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("output") && flags.Changed("in-place") {
		return nil, fmt.Errorf("--in-place cannot be used with --output")
	}
	if flags.Changed("output") {
		cfg.OutputDirectory = outputDir
		cfg.InPlace = false
	}
	if flags.Changed("in-place") {
		cfg.InPlace = inPlace
	}
	if flags.Changed("force-larger") {
		cfg.OutputIfLarger = forceLarger
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("colours") {
		cfg.Compression.Indexed.Colours = colours
	}
	if flags.Changed("ordered-dither") {
		cfg.Compression.Indexed.OrderedDither = orderedDither
	}
	if flags.Changed("skip-if-larger") {
		cfg.Compression.Indexed.SkipIfLarger = skipIfLarger
	}
	if flags.Changed("tool") {
		cfg.Tool.Path = toolPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRegistry(cfg *config.Config, log *logrus.Logger) *compressor.Registry {
	registry := compressor.NewRegistry()
	registry.Register(compressor.KindIndexed, compressor.NewPNGQuant(cfg.PNGQuantConfig(), log))
	return registry
}

// setupLogger configures and returns a logger. Console output is off while
// the progress view owns the terminal.
func setupLogger(cfg *config.Config, console bool) (*logrus.Logger, error) {
	loggerCfg := cfg.LoggerConfig()
	loggerCfg.Console = loggerCfg.Console && console && !quiet

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
