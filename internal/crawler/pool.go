// internal/crawler/pool.go
package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
)

// Factory builds the crawler for one pool slot. Crawlers in a pool normally
// share a governor, store and cache but each owns its bridge.
type Factory func(ctx context.Context, slot int) (*Crawler, error)

// Pool runs several sessions in parallel over one URL list.
type Pool struct {
	size    int
	factory Factory
	logger  *zap.Logger
}

// NewPool returns a pool of size sessions.
func NewPool(size int, factory Factory, logger *zap.Logger) (*Pool, error) {
	if size < 1 {
		return nil, apperr.Newf(apperr.KindConfiguration, "crawler.pool", "concurrency must be at least 1, got %d", size)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{size: size, factory: factory, logger: logger.Named("pool")}, nil
}

// Run initializes the sessions, fetches every URL and cleans every session
// up. results[i] belongs to urls[i]. Per-URL failures are reported in the
// results; a fatal error cancels the remaining work and is returned.
func (p *Pool) Run(ctx context.Context, urls []string) ([]Result, error) {
	size := min(p.size, max(len(urls), 1))
	crawlers := make([]*Crawler, size)
	defer func() {
		for _, c := range crawlers {
			if c == nil {
				continue
			}
			if err := c.Close(); err != nil {
				p.logger.Warn("Session cleanup failed.", zap.String("session", c.ID()), zap.Error(err))
			}
		}
	}()

	setup, setupCtx := errgroup.WithContext(ctx)
	for i := range crawlers {
		setup.Go(func() error {
			c, err := p.factory(setupCtx, i)
			if err != nil {
				return fmt.Errorf("session %d: %w", i, err)
			}
			crawlers[i] = c
			if err := c.Initialize(setupCtx); err != nil {
				return fmt.Errorf("session %d: %w", i, err)
			}
			return nil
		})
	}
	if err := setup.Wait(); err != nil {
		return nil, err
	}

	free := make(chan *Crawler, size)
	for _, c := range crawlers {
		free <- c
	}

	results := make([]Result, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(size)
	for i, u := range urls {
		g.Go(func() error {
			c := <-free
			defer func() { free <- c }()

			if err := gctx.Err(); err != nil {
				results[i] = Result{URL: u, Err: err}
				return nil
			}
			page, err := c.Fetch(gctx, u)
			results[i] = Result{URL: u, Page: page, Err: err}
			if err != nil && apperr.IsFatal(err) {
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	p.logger.Info("Pool run finished.",
		zap.Int("sessions", size),
		zap.Int("urls", len(urls)),
		zap.Int("failed", failed))

	if err == nil {
		err = ctx.Err()
	}
	return results, err
}
