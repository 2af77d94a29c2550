// Package main is the Kotoba CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/kotoba/internal/cli"
	"github.com/hyperjump/kotoba/internal/config"
	"github.com/hyperjump/kotoba/internal/importer"
	"github.com/hyperjump/kotoba/internal/models"
	"github.com/hyperjump/kotoba/internal/responder"
	"github.com/hyperjump/kotoba/internal/server"
	"github.com/hyperjump/kotoba/internal/watcher"
	"github.com/hyperjump/kotoba/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kotoba/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development), and when neither exists
// it falls back to built-in defaults plus KOTOBA_* environment variables.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg, err := config.Default()
			return cfg, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "insert":
		runInsert()
	case "respond":
		runRespond()
	case "import":
		runImport()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("kotoba version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// flagsFirst moves any flags (and their values) that appear after the
// positional arguments to the front so that flag.Parse sees them. Go's flag
// package stops at the first non-flag argument.
func flagsFirst(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args with spaces so multi-word prompts work the
// same with or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func outputFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fail("%v", err)
	}
	return format
}

// openStore loads config, builds the logger and loads the response store.
func openStore(configPath string, debugFlag bool) (*responder.Store, *config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fail("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fail("Failed to create logger: %v", err)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.String("embedding_path", cfg.Embedding.Path),
		zap.String("database_path", cfg.Storage.DatabasePath),
	)
	store, err := responder.Load(context.Background(), cfg, responder.WithLogger(logger))
	if err != nil {
		if errors.Is(err, responder.ErrDatabase) && cfg.Storage.Backend == "bolt" {
			logger.Error("the database may be locked by a running server; use --server to go through it")
		}
		logger.Fatal("Failed to load response store", zap.Error(err))
	}
	return store, cfg, resolved, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (watch events, imports, etc.)")
	_ = fs.Parse(os.Args[2:])

	store, cfg, resolvedConfigPath, logger := openStore(*configPath, *debug)
	defer logger.Sync()
	defer store.Close()
	debugMode := cfg.Debug || *debug

	imp := importer.New(store, store.Responses(),
		importer.WithLogger(logger),
		importer.WithConcurrency(cfg.Import.Concurrency),
	)
	exts := cfg.Import.Extensions
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	watchOpts := []watcher.Option{}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.New(
		cfg.Import.Directories,
		exts,
		cfg.Import.RecursiveOrDefault(),
		func(path string) {
			if _, err := imp.ImportFile(watchCtx, path, exts); err != nil {
				logger.Warn("watch import failed", zap.String("path", path), zap.Error(err))
			}
		},
		watchOpts...,
	)
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	defer watchSvc.Stop()
	go watchSvc.SyncExistingFiles()

	srvOpts := []server.Option{server.WithWatchService(watchSvc)}
	if resolvedConfigPath != "" {
		srvOpts = append(srvOpts, server.WithConfigPath(resolvedConfigPath))
	}
	srv := server.NewServer(store, cfg, logger, srvOpts...)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runInsert() {
	fs := flag.NewFlagSet("insert", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the database directly)")
	html := fs.String("html", "", "optional HTML form of the response")
	_ = fs.Parse(flagsFirst(os.Args[2:]))

	if fs.NArg() != 2 {
		fmt.Println("Usage: kotoba insert [flags] <prompt> <response>")
		os.Exit(1)
	}
	req := models.InsertRequest{
		Prompt:   fs.Arg(0),
		Response: models.Response{Plain: fs.Arg(1), HTML: *html},
	}

	if *serverURL != "" {
		if err := postJSON(*serverURL+"/api/v1/responses", req, http.StatusCreated, nil); err != nil {
			fail("Insert failed: %v", err)
		}
		fmt.Println("Learned.")
		return
	}

	store, _, _, logger := openStore(*configPath, false)
	defer logger.Sync()
	defer store.Close()
	if err := store.Insert(context.Background(), req.Prompt, req.Response); err != nil {
		fail("Insert failed: %v", err)
	}
	fmt.Println("Learned.")
}

func runRespond() {
	fs := flag.NewFlagSet("respond", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the database directly)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(flagsFirst(os.Args[2:]))

	prompt := joinArgs(fs.Args())
	if prompt == "" {
		fmt.Println("Usage: kotoba respond [flags] <prompt>")
		os.Exit(1)
	}
	format := outputFormat(*output)

	var result models.RespondResult
	if *serverURL != "" {
		if err := postJSON(*serverURL+"/api/v1/respond", models.RespondRequest{Prompt: prompt}, http.StatusOK, &result); err != nil {
			fail("Respond failed: %v", err)
		}
	} else {
		store, _, _, logger := openStore(*configPath, false)
		defer logger.Sync()
		defer store.Close()
		resp, err := store.Respond(context.Background(), prompt)
		if err != nil {
			fail("Respond failed: %v", err)
		}
		result = models.RespondResult{Prompt: prompt, Response: resp}
	}
	if err := cli.WriteResponse(os.Stdout, result, format); err != nil {
		fail("Output failed: %v", err)
	}
}

type importFlags struct {
	configPath *string
	output     *string
	force      *bool
	debug      *bool
}

func newImportFlags(handling flag.ErrorHandling) (*flag.FlagSet, importFlags) {
	fs := flag.NewFlagSet("import", handling)
	return fs, importFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		output:     fs.String("output", "text", "output format: text or json"),
		force:      fs.Bool("force", false, "import files even if they are unchanged since the last import"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
	}
}

func runImport() {
	fs, f := newImportFlags(flag.ExitOnError)
	_ = fs.Parse(flagsFirst(os.Args[2:]))
	configPath, output, force, debug := f.configPath, f.output, f.force, f.debug

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotoba import [flags] <file-or-directory>...")
		os.Exit(1)
	}
	format := outputFormat(*output)

	store, cfg, _, logger := openStore(*configPath, *debug)
	defer logger.Sync()
	defer store.Close()

	var records importer.Records = store.Responses()
	if *force {
		records = nil
	}
	imp := importer.New(store, records,
		importer.WithLogger(logger),
		importer.WithConcurrency(cfg.Import.Concurrency),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	var summaries []models.ImportSummary
	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err != nil {
			fail("Failed to stat path: %v", err)
		}
		if info.IsDir() {
			s, err := imp.ImportDirectory(ctx, path, cfg.Import.Extensions, cfg.Import.RecursiveOrDefault())
			summaries = append(summaries, s...)
			if err != nil {
				fail("Import failed: %v", err)
			}
			continue
		}
		// Single file: no extension filter
		s, err := imp.ImportFile(ctx, path, nil)
		if err != nil {
			fail("Import failed: %v", err)
		}
		summaries = append(summaries, s)
	}
	if err := cli.WriteImportSummaries(os.Stdout, summaries, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the database directly)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := outputFormat(*output)

	var status models.Status
	if *serverURL != "" {
		if err := getJSON(*serverURL+"/api/v1/status", &status); err != nil {
			fail("Status failed: %v", err)
		}
	} else {
		store, cfg, _, logger := openStore(*configPath, false)
		defer logger.Sync()
		defer store.Close()
		stats, err := store.Stats(context.Background())
		if err != nil {
			fail("Status failed: %v", err)
		}
		status = models.Status{Stats: stats, Config: server.StatusConfig(cfg)}
		if n, err := server.DiskUsage(cfg); err == nil {
			status.DiskUsageBytes = &n
		}
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: kotoba watch <add|remove|list> [path]")
		fmt.Println("  kotoba watch add <path>     Add transcript directory to watch")
		fmt.Println("  kotoba watch remove <path>  Remove directory from watch")
		fmt.Println("  kotoba watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(flagsFirst(os.Args[3:]))
	endpoint := *serverURL + "/api/v1/watch/directories"
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fail("Usage: kotoba watch add <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := postJSON(endpoint, map[string]interface{}{"path": path, "sync": true}, http.StatusCreated, nil); err != nil {
			fail("Add failed: %v", err)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fail("Usage: kotoba watch remove <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		req, _ := http.NewRequest(http.MethodDelete, endpoint+"?path="+url.QueryEscape(path), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fail("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if err := checkStatus(resp, http.StatusOK); err != nil {
			fail("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := getJSON(endpoint, &out); err != nil {
			fail("List failed: %v", err)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fail("Unknown watch subcommand: %s", sub)
	}
}

func postJSON(endpoint string, body interface{}, want int, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(endpoint, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, want); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func getJSON(endpoint string, out interface{}) error {
	resp, err := http.Get(endpoint)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkStatus returns the server's error message when resp does not have status want.
func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	b, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

const usage = `kotoba - learn responses to utterances and answer new ones by meaning

Usage:
  kotoba server [flags]                      Start the HTTP server and import watcher
  kotoba insert [flags] <prompt> <response>  Learn a response for a prompt
  kotoba respond [flags] <prompt>            Answer a prompt with a learned response
  kotoba import [flags] <path>...            Learn from transcript files or directories
  kotoba status [flags]                      Show index/storage status
  kotoba watch <add|remove|list>             Manage watched transcript directories
  kotoba version                             Show version
  kotoba help                                Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kotoba/config.yaml)
  --debug            Enable debug logging

Insert / Respond / Status Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to open the database directly.
  --html string      (insert) HTML form of the response
  --output string    (respond, status) Output format: text or json (default: text)

Import Flags:
  --config string    Config file path
  --force            Re-import files that are unchanged since the last import
  --output string    Output format: text or json (default: text)

Watch Flags:
  --server string    Server URL (default: http://localhost:8080)

Transcripts:
  .txt    one utterance per line; a blank line separates conversations
  .jsonl  one {"prompt": ..., "response": ..., "html": ...} object per line

Environment:
  KOTOBA_EMBEDDINGS  word embedding file (overrides embedding.path)
  KOTOBA_DATABASE    response database (overrides storage.database_path)
  KOTOBA_DEBUG       enable debug logging
  Variables may also be set in a .env file in the working directory.

Examples:
  kotoba server
  kotoba insert "I like fish" "Me too, especially with chips"
  kotoba respond what do you think of fish
  kotoba respond --output json "hello there"
  kotoba import ./transcripts
  kotoba status --output json
  kotoba watch add /path/to/transcripts`

func printUsage() {
	fmt.Println(usage)
}
