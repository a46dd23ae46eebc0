package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/brettbedarf/colstore"
	"github.com/brettbedarf/colstore/collection"
	"github.com/brettbedarf/colstore/config"
	"github.com/brettbedarf/colstore/internal/util"
	"github.com/brettbedarf/colstore/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose int
	title   string

	rootCmd = &cobra.Command{
		Use:   "colstore",
		Short: "Request collections stored as plain directories",
		Long: `colstore keeps a tree of HTTP request definitions mirrored onto a
directory tree and serves it to a consumer process over stdin/stdout.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: Failed to load .env file: %v\n", err)
			}
			util.InitializeLogger(config.VerbosityToLogLevel(viper.GetInt("verbose")))
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve <root>",
		Short: "Serve a collection to a consumer on stdin/stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  runServe,
	}

	initCmd = &cobra.Command{
		Use:   "init <root>",
		Short: "Create a new empty collection",
		Args:  cobra.ExactArgs(1),
		RunE:  runInit,
	}

	treeCmd = &cobra.Command{
		Use:   "tree <root>",
		Short: "Print the collection tree as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runTree,
	}

	catCmd = &cobra.Command{
		Use:   "cat <root> <path>",
		Short: "Stream the body of the request at a slash separated dirName path",
		Args:  cobra.ExactArgs(2),
		RunE:  runCat,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (.yaml, .yml or .json)")
	rootCmd.PersistentFlags().IntVarP(&verbose, "verbose", "v", config.InfoVerbose,
		"Log verbosity level between 1 (error) and 5 (trace)")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")) // nolint:errcheck

	initCmd.Flags().StringVarP(&title, "title", "t", "", "collection title (default is the root directory name)")

	rootCmd.AddCommand(serveCmd, initCmd, treeCmd, catCmd)
}

func initConfig() {
	viper.SetEnvPrefix("COLSTORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig merges the config file and COLSTORE_* environment overrides
// onto the defaults
func loadConfig() (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if cfgFile != "" {
		var err error
		if cfg, err = config.NewConfigFromFile(cfgFile); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", cfgFile, err)
		}
	}
	override := &config.ConfigOverride{LogLvl: util.Pointer(viper.GetInt("verbose"))}
	if viper.IsSet("chunk_size") {
		override.ChunkSize = util.Pointer(viper.GetInt("chunk_size"))
	}
	if viper.IsSet("stream_rate_limit") {
		override.StreamRateLimit = util.Pointer(viper.GetInt("stream_rate_limit"))
	}
	if viper.IsSet("http_timeout") {
		override.HTTPTimeout = util.Pointer(viper.GetFloat64("http_timeout"))
	}
	cfg.Merge(override)
	return cfg, nil
}

const noSecretKeyWarning = "COLSTORE_SECRET_KEY not set; secret variable values are kept in memory only and not persisted"

// secretCipher derives the AES key from COLSTORE_SECRET_KEY. Without it
// secret variable values live only for the session and are never written.
func secretCipher() (colstore.SecretCipher, error) {
	pass := viper.GetString("secret_key")
	if pass == "" {
		logger := util.GetLogger("main")
		logger.Warn().Msg(noSecretKeyWarning)
		return nil, nil
	}
	key := sha256.Sum256([]byte(pass))
	return collection.NewAESCipher(key[:])
}

func openBackend(root string) (*server.Backend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cipher, err := secretCipher()
	if err != nil {
		return nil, err
	}
	store, err := collection.Open(cfg, root, cipher)
	if err != nil {
		return nil, err
	}
	return server.New(cfg, store, nil), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := util.GetLogger("main")

	b, err := openBackend(args[0])
	if err != nil {
		return err
	}
	defer b.Close() // nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	logger.Info().Str("root", b.Store().Root()).Msg("Collection backend starting")
	err = b.Serve(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("Received signal, shutting down")
		return nil
	}
	return err
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cipher, err := secretCipher()
	if err != nil {
		return err
	}
	t := title
	if t == "" {
		t = args[0]
		if i := strings.LastIndexAny(strings.TrimRight(t, `/\`), `/\`); i >= 0 {
			t = t[i+1:]
		}
	}
	store, err := collection.Create(cfg, args[0], t, cipher)
	if err != nil {
		return err
	}
	logger := util.GetLogger("main")
	logger.Info().Str("root", store.Root()).Str("title", t).Msg("Collection created")
	return store.Close()
}

func runTree(cmd *cobra.Command, args []string) error {
	b, err := openBackend(args[0])
	if err != nil {
		return err
	}
	defer b.Close() // nolint:errcheck

	tree, err := b.Store().Tree(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(tree)
}

func runCat(cmd *cobra.Command, args []string) error {
	b, err := openBackend(args[0])
	if err != nil {
		return err
	}
	defer b.Close() // nolint:errcheck

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	node, err := b.Store().Tree(ctx)
	if err != nil {
		return err
	}
	for _, name := range strings.Split(strings.Trim(args[1], "/"), "/") {
		child, ok := node.Child(name)
		if !ok {
			return fmt.Errorf("%w: %s", collection.ErrNotFound, args[1])
		}
		node = child
	}

	consumer := b.Local(ctx)
	s, err := consumer.Open(ctx, colstore.RequestBodySource(node.ID))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := out.Write(chunk); err != nil {
			consumer.Close(ctx, s) // nolint:errcheck
			return err
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
