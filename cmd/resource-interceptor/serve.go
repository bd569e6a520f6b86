package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	interceptor "github.com/always-cache/resource-interceptor"
	"github.com/always-cache/resource-interceptor/cache"
	"github.com/always-cache/resource-interceptor/config"
	"github.com/always-cache/resource-interceptor/metrics"
	cachekey "github.com/always-cache/resource-interceptor/pkg/cache-key"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	originFlag       string
	hostFlag         string
	policyFlag       string
	cacheVersionFlag string
	coreAssetsFlag   []string
	dbFlag           string
	listenFlag       string
	adminListenFlag  string
)

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "Register a version and serve requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), conf)
	},
}

func init() {
	flags := cmdServe.Flags()
	flags.StringVar(&originFlag, "origin", "", "Origin URL to proxy to")
	flags.StringVar(&hostFlag, "host", "", "Hostname for origin requests and TLS, if the origin is an IP address")
	flags.StringVar(&policyFlag, "policy", "", "Fetch policy: cache-first or network-only")
	flags.StringVar(&cacheVersionFlag, "cache-version", "", "Name of the cache store for this deployment")
	flags.StringSliceVar(&coreAssetsFlag, "asset", nil, "Core asset to store on install (repeatable)")
	flags.StringVar(&dbFlag, "db", "", "Cache DB file name ('memory' for in-memory db)")
	flags.StringVar(&listenFlag, "listen", "", "Address for proxied traffic")
	flags.StringVar(&adminListenFlag, "admin-listen", "", "Address for the admin router")
}

// loadConfig reads the config file, if any, and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	conf := config.Default()
	if configFilenameFlag != "" {
		var err error
		conf, err = config.Load(configFilenameFlag)
		if err != nil {
			return conf, errors.Wrapf(err, "Could not load config %s", configFilenameFlag)
		}
		log.Debug().Str("file", configFilenameFlag).Msg("Config loaded")
	}
	flags := cmd.Flags()
	if flags.Changed("origin") {
		conf.Origin = originFlag
	}
	if flags.Changed("host") {
		conf.Host = hostFlag
	}
	if flags.Changed("policy") {
		conf.Policy = policyFlag
	}
	if flags.Changed("cache-version") {
		conf.Version = cacheVersionFlag
	}
	if flags.Changed("asset") {
		conf.CoreAssets = coreAssetsFlag
	}
	if flags.Changed("db") {
		conf.DB = dbFlag
	}
	if flags.Changed("listen") {
		conf.Listen = listenFlag
	}
	if flags.Changed("admin-listen") {
		conf.AdminListen = adminListenFlag
	}
	return conf, nil
}

// openStorage opens the SQLite cache DB named in the config.
func openStorage(conf config.Config) (cache.SQLiteStorage, error) {
	filename := conf.DB
	if filename == "memory" {
		filename = ""
	}
	storage, err := cache.NewSQLiteStorage(filename, cachekey.NewKeyer(conf.OriginURL()))
	return storage, errors.Wrapf(err, "Could not open cache DB %s", conf.DB)
}

func serve(ctx context.Context, conf config.Config) error {
	if err := conf.Validate(); err != nil {
		return err
	}
	policy, err := interceptor.ParsePolicy(conf.Policy)
	if err != nil {
		return err
	}
	storage, err := openStorage(conf)
	if err != nil {
		return err
	}
	defer storage.Close()

	m := metrics.New()
	origin := conf.OriginURL()
	reg := interceptor.NewRegistration(origin, conf.Host, &log.Logger)
	newVersion := func() *interceptor.Interceptor {
		return interceptor.New(interceptor.Config{
			Policy:     policy,
			Version:    conf.Version,
			CoreAssets: conf.CoreAssets,
			Storage:    storage,
			Scope:      origin,
			ScopeHost:  conf.Host,
			Logger:     &log.Logger,
			Metrics:    m,
		})
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// requests are proxied uncontrolled until the first version is in control
	if err := reg.Register(ctx, newVersion()); err != nil {
		log.Error().Err(err).Msg("Initial registration failed, serving uncontrolled")
	}

	servers := []*http.Server{{Addr: conf.Listen, Handler: reg}}
	if conf.AdminListen != "" {
		servers = append(servers, &http.Server{
			Addr:    conf.AdminListen,
			Handler: adminRouter(reg, storage, m, newVersion),
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, server := range servers {
		server := server
		g.Go(func() error {
			log.Info().Str("addr", server.Addr).Str("origin", conf.Origin).Msg("Listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.Wrapf(err, "Server on %s failed", server.Addr)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, server := range servers {
			server.Shutdown(shutdownCtx)
		}
		log.Info().Msg("Servers stopped")
		return nil
	})
	return g.Wait()
}
