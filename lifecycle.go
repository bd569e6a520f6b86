package interceptor

import (
	"context"
	"net/http"

	"github.com/always-cache/resource-interceptor/cache"
	serializer "github.com/always-cache/resource-interceptor/pkg/response-serializer"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Install runs the install step. It can be attempted once.
//
// A network-only interceptor has nothing to provision and is installed right away.
// A cache-first interceptor opens its cache store and stores every core asset.
// If any asset cannot be fetched, nothing is stored, the interceptor becomes
// redundant and the error names the failing asset.
func (i *Interceptor) Install(ctx context.Context) error {
	if !i.transition(StateParsed, StateInstalling) {
		return ErrAlreadyInstalled
	}
	i.log.Info().Int("assets", len(i.coreAssets)).Msg("Installing")

	if err := i.install(ctx); err != nil {
		i.setState(StateRedundant)
		i.observeInstall("failed")
		i.log.Error().Err(err).Msg("Install failed")
		return err
	}

	i.setState(StateInstalled)
	i.observeInstall("ok")
	i.log.Debug().Msg("Installed, skipping wait")
	return nil
}

func (i *Interceptor) install(ctx context.Context) error {
	if i.policy == NetworkOnly {
		return nil
	}
	store, err := i.storage.Open(i.version)
	if err != nil {
		return errors.Wrapf(err, "open cache %s", i.version)
	}
	pairs, err := i.fetchAll(ctx, i.coreAssets)
	if err != nil {
		return err
	}
	if err := store.PutAll(pairs); err != nil {
		return errors.Wrapf(err, "store core assets in %s", i.version)
	}
	i.store = store
	return nil
}

// fetchAll fetches all assets concurrently.
// The first failure cancels the remaining requests and is returned.
func (i *Interceptor) fetchAll(ctx context.Context, assets []string) ([]cache.Pair, error) {
	pairs := make([]cache.Pair, len(assets))
	g, ctx := errgroup.WithContext(ctx)
	for idx, asset := range assets {
		idx, asset := idx, asset
		g.Go(func() error {
			req, err := i.newRequest(ctx, http.MethodGet, asset)
			if err != nil {
				return errors.Wrapf(err, "core asset %s", asset)
			}
			i.log.Trace().Str("asset", asset).Str("url", req.URL.String()).Msg("Fetching core asset")
			res, err := i.client.Do(req)
			if err != nil {
				return errors.Wrapf(err, "fetch core asset %s", asset)
			}
			if res.StatusCode < 200 || res.StatusCode > 299 {
				res.Body.Close()
				return errors.Errorf("fetch core asset %s: status %d", asset, res.StatusCode)
			}
			// buffer the body, the request context ends when the group is done
			buffered, err := serializer.Clone(res)
			if err != nil {
				return errors.Wrapf(err, "read core asset %s", asset)
			}
			pairs[idx] = cache.Pair{Request: req, Response: buffered}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// Activate runs the activate step on an installed interceptor.
//
// Every cache store other than the one named by the version is deleted
// (all of them for a network-only interceptor), after which the interceptor
// claims control and starts resolving fetch events.
// If cleanup fails, the interceptor stays installed and does not claim.
func (i *Interceptor) Activate(ctx context.Context) error {
	if !i.transition(StateInstalled, StateActivating) {
		return ErrNotInstalled
	}
	i.log.Info().Msg("Activating")

	if err := i.deleteStaleStores(ctx); err != nil {
		i.setState(StateInstalled)
		i.log.Error().Err(err).Msg("Activation failed")
		return err
	}

	i.claimed.Store(true)
	i.setState(StateActivated)
	if i.metrics != nil {
		i.metrics.ActiveVersion.WithLabelValues(i.version, i.policy.String()).Set(1)
	}
	i.log.Info().Msg("Activated, controlling requests")
	return nil
}

func (i *Interceptor) deleteStaleStores(ctx context.Context) error {
	if i.storage == nil {
		return nil
	}
	names, err := i.storage.Keys()
	if err != nil {
		return errors.Wrap(err, "list caches")
	}
	g, _ := errgroup.WithContext(ctx)
	for _, name := range names {
		if i.policy == CacheFirst && name == i.version {
			continue
		}
		name := name
		g.Go(func() error {
			i.log.Debug().Str("cache", name).Msg("Deleting cache")
			deleted, err := i.storage.Delete(name)
			if err != nil {
				return errors.Wrapf(err, "delete cache %s", name)
			}
			if deleted && i.metrics != nil {
				i.metrics.StoresDeleted.Inc()
			}
			return nil
		})
	}
	return g.Wait()
}

// retire marks an activated interceptor as superseded by a newer version.
// Fetch events already dispatched to it still resolve.
func (i *Interceptor) retire() {
	i.setState(StateRedundant)
	if i.metrics != nil {
		i.metrics.ActiveVersion.WithLabelValues(i.version, i.policy.String()).Set(0)
	}
	i.log.Info().Msg("Superseded")
}

func (i *Interceptor) observeInstall(result string) {
	if i.metrics != nil {
		i.metrics.InstallsTotal.WithLabelValues(i.version, result).Inc()
	}
}
