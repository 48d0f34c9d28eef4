package main

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"imgpress/internal/config"
	"imgpress/internal/encoder"
	"imgpress/internal/logger"
	"imgpress/internal/orchestrator"
	"imgpress/internal/session"
	"imgpress/internal/sizefmt"
	"imgpress/internal/stats"
	"imgpress/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	verbose    bool
	quiet      bool
	quality    int
	formatName string
	width      int
	height     int
	noLock     bool
	outputPath string
	port       int
)

// rootCmd compresses a single image file.
var rootCmd = &cobra.Command{
	Use:   "imgpress <image>",
	Short: "Compress and resize images",
	Long: `ImgPress re-encodes an image at a chosen quality, format, and size.

Features:
- JPEG, PNG, and WebP output
- Resizing with aspect-ratio lock
- EXIF orientation normalization on load
- Interactive web API with live encode updates`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(args[0])
	},
}

// serveCmd starts the HTTP API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the compression API server",
	Long: `Starts the HTTP server exposing compression sessions.
Clients create a session, upload an image, adjust quality/format/dimensions,
and download the re-encoded result. Encode completions are pushed over a
websocket channel.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// formatsCmd lists the supported output formats.
var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported output formats",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, f := range encoder.Formats() {
			note := ""
			if f.Lossless() {
				note = " (lossless, quality ignored)"
			}
			fmt.Printf("%s\t%s%s\n", f, f.Ext(), note)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().IntVar(&quality, "quality", 0, "encode quality 1-100 (default from config)")
	rootCmd.Flags().StringVar(&formatName, "format", "", "output format: jpeg, png, webp (default from config)")
	rootCmd.Flags().IntVar(&width, "width", 0, "target width in pixels (default: source width)")
	rootCmd.Flags().IntVar(&height, "height", 0, "target height in pixels (default: source height)")
	rootCmd.Flags().BoolVar(&noLock, "no-aspect-lock", false, "do not couple width and height to the source ratio")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: <name>_compressed.<ext> next to input)")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run the server on (default from config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(formatsCmd)
}

// initConfig loads configuration file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.imgpress")
		viper.AddConfigPath("/etc/imgpress")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !quiet {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runCompress performs a one-shot compression of a single file.
func runCompress(inputPath string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	mediaType := mime.TypeByExtension(filepath.Ext(inputPath))
	if mediaType == "" {
		// Unrecognized extension; let the decoder decide.
		mediaType = "image/unknown"
	}

	defaultFormat, err := encoder.ParseFormat(cfg.Defaults.Format)
	if err != nil {
		defaultFormat = session.DefaultFormat
	}

	enc := encoder.NewDefaultEncoder()
	state := session.NewStateWithDefaults(cfg.Defaults.Quality, defaultFormat)
	st := stats.NewStatistics()
	orch := orchestrator.New(state, enc, log, st, orchestrator.Options{
		QualityWindow:   cfg.QualityWindow(),
		DimensionWindow: cfg.DimensionWindow(),
	})
	defer orch.Close()

	src, err := state.LoadSource(enc, filepath.Base(inputPath), mediaType, data)
	if err != nil {
		return fmt.Errorf("load source: %w", err)
	}
	st.IncrementSourcesLoaded()
	st.AddBytesIn(src.Size)

	if noLock {
		state.SetAspectLocked(false)
	}
	if quality > 0 {
		state.SetQuality(quality)
	}
	if formatName != "" {
		if _, err := state.SetFormat(formatName); err != nil {
			return fmt.Errorf("format %q: %w", formatName, err)
		}
	}
	if width > 0 {
		if err := state.SetTargetWidth(width); err != nil {
			return err
		}
	}
	if height > 0 {
		if err := state.SetTargetHeight(height); err != nil {
			return err
		}
	}

	result, err := orch.Recompress(context.Background())
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}

	params := state.Params()
	outPath := outputPath
	if outPath == "" {
		outPath = filepath.Join(filepath.Dir(inputPath), orchestrator.DownloadName(src.Name, params.Format))
	}
	if err := os.WriteFile(outPath, result.Data, 0644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if !quiet {
		fmt.Printf("%s (%s, %dx%d) -> %s (%s, %dx%d, quality %d)\n",
			inputPath, sizefmt.FormatBytes(src.Size), src.Width, src.Height,
			outPath, sizefmt.FormatBytes(result.Size),
			params.TargetWidth, params.TargetHeight, params.Quality)
		if result.SavingsPercent >= 0 {
			fmt.Printf("Size reduced by %d%%\n", result.SavingsPercent)
		} else {
			fmt.Printf("Size increased by %d%%\n", -result.SavingsPercent)
		}
		if verbose {
			fmt.Println("\n" + st.GetSummary())
		}
	}

	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	enc := encoder.NewDefaultEncoder()
	server := web.NewServer(cfg, log, enc)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	if !quiet {
		fmt.Printf("ImgPress server started on http://localhost:%d\n", cfg.Server.Port)
		fmt.Printf("Press Ctrl+C to stop\n")
	}

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped")
	return nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.DefaultConfig()
	loggerCfg.Level = cfg.Logging.Level
	loggerCfg.FilePath = cfg.Logging.FilePath
	loggerCfg.MaxSize = cfg.Logging.MaxSize
	loggerCfg.MaxBackups = cfg.Logging.MaxBackups
	loggerCfg.MaxAge = cfg.Logging.MaxAge
	loggerCfg.Compress = cfg.Logging.Compress
	loggerCfg.Console = !quiet

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
