package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	v1 "github.com/Xunop/celestial/internal/api/v1"
	"github.com/Xunop/celestial/internal/collage"
	"github.com/Xunop/celestial/internal/config"
	"github.com/Xunop/celestial/internal/export"
	"github.com/Xunop/celestial/internal/library"
	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/pdf"
	"github.com/Xunop/celestial/internal/remote"
	"github.com/Xunop/celestial/internal/resolver"
	"github.com/Xunop/celestial/internal/server"
	"github.com/Xunop/celestial/internal/storage"
	"github.com/Xunop/celestial/internal/store"
	"github.com/Xunop/celestial/internal/store/db"
	"github.com/Xunop/celestial/internal/store/redis"
	"github.com/Xunop/celestial/internal/version"
	"github.com/Xunop/celestial/internal/worker"
)

const (
	greetingBanner = `
  ___  ____  __    ____  ___  ____  ____    __    __   
 / __)( ___)(  )  ( ___)/ __)(_  _)(_  _)  /__\  (  )  
( (__  )__)  )(__  )__) \__ \  )(   _)(_  /(__)\  )(__ 
 \___)(____)(____)(____)(___/ (__) (____)(__)(__)(____)
`
	shutdownTimeout = 10 * time.Second
)

var (
	configFile string
	host       string
	port       int
	data       string

	rootCmd = &cobra.Command{
		Use:     "celestial",
		Short:   "Celestial serves storybooks and their sticker collages",
		Version: version.GetCurrentVersion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd); err != nil {
				return err
			}
			log.Logger = log.NewLogger()
			defer log.Logger.Sync()
			fmt.Print(greetingBanner)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx)
		},
	}

	hashPasswordCmd = &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the bcrypt hash to use as admin_password_hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := ""
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.Wrap(err, "unable to read password")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			hash, err := v1.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (toml, yaml or json)")
	rootCmd.Flags().StringVar(&host, "host", "", "host to listen on")
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on")
	rootCmd.Flags().StringVarP(&data, "data", "d", "", "data directory")
	rootCmd.AddCommand(hashPasswordCmd)
}

// loadConfig layers defaults, the config file and the command line flags.
func loadConfig(cmd *cobra.Command) error {
	config.GetDefaultOptions()
	if configFile != "" {
		if _, err := config.ParseFile(configFile); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("host") {
		config.Opts.Host = host
	}
	if cmd.Flags().Changed("port") {
		config.Opts.Port = port
	}
	if cmd.Flags().Changed("data") {
		config.Opts.Data = data
	}
	_, err := config.GetConfig()
	return err
}

func openKV(ctx context.Context, opts *config.Options) (store.KV, error) {
	switch opts.KVBackend {
	case "redis":
		client := redis.NewClient(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
		if err := client.Ping(ctx); err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "unable to reach redis at %s", opts.RedisAddr)
		}
		return client, nil
	case "sqlite", "":
		d, err := db.NewDB(opts.DSN)
		if err != nil {
			return nil, err
		}
		if err := d.Migrate(ctx); err != nil {
			d.Close()
			return nil, errors.Wrap(err, "unable to migrate database")
		}
		return d, nil
	default:
		return nil, errors.Errorf("unknown kv_backend %q", opts.KVBackend)
	}
}

func run(ctx context.Context) error {
	opts := config.Opts

	kv, err := openKV(ctx, opts)
	if err != nil {
		log.Error("Error opening key-value store", zap.Error(err))
		return err
	}
	defer kv.Close()
	s := store.NewStore(kv)

	renderPool := worker.NewPool("render", opts.RenderWorkers)
	defer renderPool.Close()
	writers := worker.NewPool("cache-writer", opts.CacheWriters)
	defer writers.Close()

	// PDFium renders on the pool; pdftoppm is the in-caller fallback.
	poppler := &pdf.Poppler{Path: opts.PdftoppmPath, ScaleInEngine: true}
	var primary pdf.Rasterizer = poppler
	if engine, err := pdf.NewPdfium(opts.RenderWorkers); err != nil {
		log.Warn("PDFium unavailable, rendering with pdftoppm only", zap.Error(err))
	} else {
		defer engine.Close()
		primary = engine
	}
	loader := pdf.NewLoader(renderPool, primary,
		pdf.WithFallback(poppler),
		pdf.WithWidth(opts.RenderWidth),
		pdf.WithTimeout(opts.RenderTimeout()),
	)

	session := remote.NewSession(opts.RemoteEnabled,
		remote.NewOAuthConfig(opts.GoogleClientID, opts.GoogleClientSecret),
		remote.DriveFactory(opts.RemoteRootFolder))
	sel := storage.NewSelector(storage.NewLocalStorage(s), session)

	res, err := resolver.New(loader, sel, writers, os.DirFS(opts.StaticDir), opts.DocumentCacheSize)
	if err != nil {
		return err
	}
	defer res.Flush()

	collages := collage.NewStore(s, nil)
	lib := library.New(s, collages, sel, res, opts.StaticDir)
	if err := lib.Load(ctx); err != nil {
		log.Error("Error loading library", zap.Error(err))
		return err
	}
	if err := lib.WatchManifest(ctx); err != nil {
		log.Warn("Manifest changes will need a restart", zap.Error(err))
	}

	scheduler := worker.NewScheduler(opts.RenderTimeout())
	if err := scheduler.Add(opts.CacheSweepSchedule, "sweep orphans", func(ctx context.Context) error {
		n, err := lib.SweepOrphans(ctx)
		if n > 0 {
			log.Info("Removed orphaned entries", zap.Int("books", n))
		}
		return err
	}); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	auth := v1.NewAuthenticator(opts.AdminPasswordHash, opts.JWTSecret)
	if auth.Open() {
		log.Warn("No admin password configured, admin routes are open")
	}
	api := v1.NewHandler(v1.Deps{
		Library:       lib,
		Resolver:      res,
		Loader:        loader,
		Collages:      collages,
		Exporter:      export.New(res, collages, lib.Source),
		Remote:        session,
		Auth:          auth,
		MaxUploadSize: opts.MaxUploadSize,
		AutosaveDelay: opts.AutosaveDelay(),
		LongPress:     opts.LongPressDelay(),
	})

	srv, err := server.StartServer(opts.ListenAddr(), s, api)
	if err != nil {
		log.Error("Error starting server", zap.Error(err))
		return err
	}
	log.Info("Server started", zap.String("version", version.GetCurrentVersion()))

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
