// File: cmd/crawl.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/browser"
	"github.com/xkilldash9x/ghostwire/internal/browser/fingerprint"
	"github.com/xkilldash9x/ghostwire/internal/cache"
	"github.com/xkilldash9x/ghostwire/internal/config"
	"github.com/xkilldash9x/ghostwire/internal/crawler"
	"github.com/xkilldash9x/ghostwire/internal/governor"
	"github.com/xkilldash9x/ghostwire/internal/network"
	"github.com/xkilldash9x/ghostwire/internal/observability"
	"github.com/xkilldash9x/ghostwire/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newCrawlCmd(v *viper.Viper) *cobra.Command {
	var (
		output  string
		noCache bool
	)
	crawlCmd := &cobra.Command{
		Use:   "crawl [urls...]",
		Short: "Fetch URLs through the evasion stack and print the pages as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}
			if noCache {
				cfg.Cache.Enabled = false
			}
			targets, err := normalizeTargets(args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("could not create output file: %w", err)
				}
				defer f.Close()
				out = f
			}
			return runCrawl(ctx, cfg, targets, out, observability.GetLogger())
		},
	}

	flags := crawlCmd.Flags()
	flags.StringVarP(&output, "output", "o", "", "write results to this file instead of stdout")
	flags.BoolVar(&noCache, "no-cache", false, "bypass the content cache")
	flags.IntP("concurrency", "j", 1, "number of parallel browser sessions")
	flags.Bool("headless", true, "run the browser without a window")
	flags.String("proxy-listen", "", "serve the rotating proxy on this address, e.g. 127.0.0.1:8118")
	flags.String("egress-ip", "default", "key for the per-IP rate limit")

	for key, flag := range map[string]string{
		"crawler.concurrency":  "concurrency",
		"browser.headless":     "headless",
		"rotation.listen_addr": "proxy-listen",
		"crawler.egress_ip":    "egress-ip",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return crawlCmd
}

// normalizeTargets adds https:// to bare hosts and rejects anything that is
// not an absolute http(s) URL.
func normalizeTargets(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, raw := range args {
		raw = strings.TrimSpace(raw)
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("invalid target %q", raw)
		}
		out = append(out, u.String())
	}
	return out, nil
}

// components are the collaborators shared by every session of one run.
type components struct {
	governor *governor.Governor
	store    *store.Store
	cache    *cache.Cache
	history  *fingerprint.History
	proxy    *network.RotatingProxy

	stopProxy context.CancelFunc
	proxyDone chan error
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	c := &components{}

	gov, err := governor.New(governor.ConfigFrom(cfg), governor.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	c.governor = gov

	if cfg.Session.Passphrase != "" {
		st, err := store.Open(cfg.Session, store.WithLogger(logger))
		if err != nil {
			return c, err
		}
		c.store = st
	} else {
		logger.Warn("No session passphrase set, cookies will not persist between runs.")
	}

	if cfg.Cache.Enabled {
		ch, err := cache.Open(cfg.Cache, cache.WithLogger(logger))
		if err != nil {
			return c, err
		}
		c.cache = ch
	}

	if cfg.Fingerprint.HistoryDir != "" {
		h, err := fingerprint.NewHistory(cfg.Fingerprint.HistoryDir)
		if err != nil {
			return c, apperr.New(apperr.KindConfiguration, "cmd.history", err)
		}
		c.history = h
	}

	if len(cfg.Rotation.Proxies) > 0 || len(cfg.Rotation.UserAgents) > 0 || cfg.Rotation.ListenAddr != "" {
		addr := cfg.Rotation.ListenAddr
		if addr == "" {
			addr = "127.0.0.1:0"
		}
		tc := network.DefaultTransportConfig()
		tc.IgnoreTLSErrors = cfg.Browser.IgnoreTLSErrors
		rp := network.NewRotatingProxy(cfg.Rotation, gov.Rotator(), logger, network.WithTransportConfig(tc))
		if err := rp.Listen(addr); err != nil {
			return c, apperr.New(apperr.KindConfiguration, "cmd.proxy", err)
		}
		proxyCtx, stop := context.WithCancel(ctx)
		c.proxy, c.stopProxy, c.proxyDone = rp, stop, make(chan error, 1)
		go func() { c.proxyDone <- rp.Serve(proxyCtx) }()
	}
	return c, nil
}

// Shutdown stops the proxy and closes the cache.
func (c *components) Shutdown(logger *zap.Logger) {
	if c.stopProxy != nil {
		c.stopProxy()
		if err := <-c.proxyDone; err != nil {
			logger.Warn("Rotating proxy shutdown failed.", zap.Error(err))
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			logger.Warn("Cache close failed.", zap.Error(err))
		}
	}
}

// factory launches one browser per pool slot and wires it to the shared
// components.
func (c *components) factory(cfg *config.Config, logger *zap.Logger) crawler.Factory {
	return func(ctx context.Context, slot int) (*crawler.Crawler, error) {
		log := logger.With(zap.Int("slot", slot))

		var opts []browser.Option
		if c.proxy != nil {
			opts = append(opts, browser.WithProxy(c.proxy.Addr()))
		}
		bridge, err := browser.NewCDPBridge(ctx, cfg.Browser, log, opts...)
		if err != nil {
			return nil, err
		}

		fcfg := cfg.Fingerprint
		if fcfg.Seed != 0 {
			fcfg.Seed += int64(slot)
		}
		fpOpts := []fingerprint.Option{fingerprint.WithLogger(log)}
		if c.history != nil {
			fpOpts = append(fpOpts, fingerprint.WithHistory(c.history))
		}
		engine, err := fingerprint.New(fcfg, fpOpts...)
		if err != nil {
			_ = bridge.Close()
			return nil, err
		}

		cr, err := crawler.New(cfg, crawler.Deps{
			Bridge:      bridge,
			Governor:    c.governor,
			Fingerprint: engine,
			Store:       c.store,
			Cache:       c.cache,
		}, log)
		if err != nil {
			_ = bridge.Close()
			return nil, err
		}
		return cr, nil
	}
}

func runCrawl(ctx context.Context, cfg *config.Config, targets []string, out io.Writer, logger *zap.Logger) error {
	comps, err := initializeComponents(ctx, cfg, logger)
	if comps != nil {
		defer comps.Shutdown(logger)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	pool, err := crawler.NewPool(cfg.Crawler.Concurrency, comps.factory(cfg, logger), logger)
	if err != nil {
		return err
	}

	logger.Info("Starting crawl.",
		zap.Int("targets", len(targets)),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
		zap.Bool("cache", comps.cache != nil),
		zap.Bool("proxy", comps.proxy != nil))

	results, runErr := pool.Run(ctx, targets)
	if results != nil {
		if err := writeResults(out, results); err != nil {
			return err
		}
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("Crawl aborted.")
		}
		return runErr
	}

	if failed := countFailed(results); failed > 0 {
		return fmt.Errorf("%d of %d targets failed", failed, len(results))
	}
	return nil
}

// resultView is the JSON shape of one crawl result.
type resultView struct {
	URL   string        `json:"url"`
	Page  *crawler.Page `json:"page,omitempty"`
	Error string        `json:"error,omitempty"`
	Kind  string        `json:"kind,omitempty"`
}

func writeResults(w io.Writer, results []crawler.Result) error {
	views := make([]resultView, len(results))
	for i, r := range results {
		views[i] = resultView{URL: r.URL, Page: r.Page}
		if r.Err != nil {
			views[i].Error = r.Err.Error()
			views[i].Kind = string(apperr.KindOf(r.Err))
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(views); err != nil {
		return fmt.Errorf("could not write results: %w", err)
	}
	return nil
}

func countFailed(results []crawler.Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
