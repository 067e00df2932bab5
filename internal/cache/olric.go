package cache

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olric-data/olric"
	olricconfig "github.com/olric-data/olric/config"
	"github.com/rs/zerolog"
)

// parseBindAddr splits host:port, tolerating a bare host.
func parseBindAddr(addr string) (h string, p int) {
	var err error
	h, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	p, err = strconv.Atoi(portStr)
	if err != nil {
		return h, 0
	}
	return h, p
}

// olricCache is the distributed backend. Embedded mode runs a local Olric
// node that joins Peers; client mode connects to an existing cluster at
// Addresses.
type olricCache struct {
	db     *olric.Olric // embedded node, nil in client mode
	client olric.Client
	dmap   olric.DMap
	log    *zerolog.Logger
	name   string
	mu     sync.RWMutex
	closed atomic.Bool
}

var (
	_ Cache         = (*olricCache)(nil)
	_ StatsProvider = (*olricCache)(nil)
	_ Pinger        = (*olricCache)(nil)
)

func newOlricCache(ctx context.Context, cfg *OlricConfig) (*olricCache, error) {
	olricLog := logger().With().Str("backend", "olric").Logger()

	dmapName := cfg.DMapName
	if dmapName == "" {
		dmapName = "gem-relay"
	}

	if cfg.Embedded {
		olricLog.Debug().Str("mode", "embedded").Msg("olric: starting embedded node")
		return newEmbeddedOlricCache(ctx, cfg, dmapName, &olricLog)
	}
	olricLog.Debug().Str("mode", "client").Strs("addresses", cfg.Addresses).Msg("olric: connecting to cluster")
	return newClientOlricCache(ctx, cfg, dmapName, &olricLog)
}

func newEmbeddedOlricCache(
	ctx context.Context, cfg *OlricConfig, dmapName string, lg *zerolog.Logger,
) (*olricCache, error) {
	env := cfg.Environment
	if env == "" {
		env = "local"
	}
	c := olricconfig.New(env)

	bindAddr, bindPort := parseBindAddr(cfg.BindAddr)
	c.BindAddr = bindAddr
	if bindPort > 0 {
		c.BindPort = bindPort
	}
	if len(cfg.Peers) > 0 {
		c.Peers = cfg.Peers
	}
	if cfg.ReplicaCount > 0 {
		c.ReplicaCount = cfg.ReplicaCount
	}
	if cfg.ReadQuorum > 0 {
		c.ReadQuorum = cfg.ReadQuorum
	}
	if cfg.WriteQuorum > 0 {
		c.WriteQuorum = cfg.WriteQuorum
	}
	if cfg.MemberCountQuorum > 0 {
		c.MemberCountQuorum = cfg.MemberCountQuorum
	}
	if cfg.LeaveTimeout > 0 {
		c.LeaveTimeout = cfg.LeaveTimeout
	}

	// Olric's own logging is far too chatty for an embedded node.
	c.LogOutput = io.Discard
	c.Logger = log.New(io.Discard, "", 0)

	// Must be registered before olric.New.
	ready := make(chan struct{})
	c.Started = func() {
		close(ready)
	}

	db, err := olric.New(c)
	if err != nil {
		lg.Error().Err(err).Msg("olric: failed to create embedded instance")
		return nil, err
	}

	startErr := make(chan error, 1)
	go func() {
		if err := db.Start(); err != nil {
			startErr <- err
		}
	}()

	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	select {
	case <-ready:
		lg.Debug().Msg("olric: embedded node ready")
	case err := <-startErr:
		lg.Error().Err(err).Msg("olric: embedded node failed to start")
		return nil, err
	case <-startupCtx.Done():
		// The node may still come up; give the embedded client a moment.
		lg.Debug().Msg("olric: embedded node startup timeout, proceeding")
		time.Sleep(100 * time.Millisecond)
	}

	client := db.NewEmbeddedClient()

	dm, err := client.NewDMap(dmapName)
	if err != nil {
		lg.Error().Err(err).Str("dmap", dmapName).Msg("olric: failed to create dmap")
		if shutdownErr := db.Shutdown(context.Background()); shutdownErr != nil {
			lg.Error().Err(shutdownErr).Msg("olric: shutdown after dmap failure")
		}
		return nil, err
	}

	lg.Info().
		Str("bind_addr", bindAddr).
		Int("bind_port", bindPort).
		Str("dmap", dmapName).
		Int("peers", len(cfg.Peers)).
		Msg("olric embedded cache created")

	return &olricCache{
		client: client,
		dmap:   dm,
		db:     db,
		name:   dmapName,
		log:    lg,
	}, nil
}

func newClientOlricCache(
	ctx context.Context, cfg *OlricConfig, dmapName string, lg *zerolog.Logger,
) (*olricCache, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("cache: olric addresses required for client mode")
	}

	client, err := olric.NewClusterClient(cfg.Addresses)
	if err != nil {
		lg.Error().Err(err).Strs("addresses", cfg.Addresses).Msg("olric: failed to connect to cluster")
		return nil, err
	}

	dm, err := client.NewDMap(dmapName)
	if err != nil {
		lg.Error().Err(err).Str("dmap", dmapName).Msg("olric: failed to create dmap")
		if closeErr := client.Close(ctx); closeErr != nil {
			lg.Error().Err(closeErr).Msg("olric: client close after dmap failure")
		}
		return nil, err
	}

	lg.Info().
		Strs("addresses", cfg.Addresses).
		Str("dmap", dmapName).
		Msg("olric cluster cache created")

	return &olricCache{
		client: client,
		dmap:   dm,
		db:     nil,
		name:   dmapName,
		log:    lg,
	}, nil
}

func (o *olricCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.closed.Load() {
		return nil, ErrClosed
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed.Load() {
		return nil, ErrClosed
	}

	resp, err := o.dmap.Get(ctx, key)
	if err != nil {
		if errors.Is(err, olric.ErrKeyNotFound) {
			o.log.Debug().Str("key", key).Bool("hit", false).Msg("cache get")
			return nil, ErrNotFound
		}
		o.log.Debug().Str("key", key).Err(err).Msg("cache get error")
		return nil, err
	}

	value, err := resp.Byte()
	if err != nil {
		o.log.Debug().Str("key", key).Err(err).Msg("cache get: failed to decode value")
		return nil, err
	}

	o.log.Debug().Str("key", key).Bool("hit", true).Int("size", len(value)).Msg("cache get")

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (o *olricCache) Set(ctx context.Context, key string, value []byte) error {
	return o.put(ctx, key, value, 0)
}

func (o *olricCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return o.put(ctx, key, value, ttl)
}

func (o *olricCache) put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.closed.Load() {
		return ErrClosed
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed.Load() {
		return ErrClosed
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	var err error
	if ttl > 0 {
		err = o.dmap.Put(ctx, key, valueCopy, olric.EX(ttl))
	} else {
		err = o.dmap.Put(ctx, key, valueCopy)
	}
	if err != nil {
		o.log.Debug().Str("key", key).Int("size", len(value)).Err(err).Msg("cache set error")
		return err
	}

	o.log.Debug().Str("key", key).Int("size", len(value)).Dur("ttl", ttl).Msg("cache set")
	return nil
}

func (o *olricCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.closed.Load() {
		return ErrClosed
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed.Load() {
		return ErrClosed
	}

	_, err := o.dmap.Delete(ctx, key)
	if errors.Is(err, olric.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		o.log.Debug().Str("key", key).Err(err).Msg("cache delete error")
		return err
	}

	o.log.Debug().Str("key", key).Msg("cache delete")
	return nil
}

func (o *olricCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if o.closed.Load() {
		return false, ErrClosed
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed.Load() {
		return false, ErrClosed
	}

	_, err := o.dmap.Get(ctx, key)
	if errors.Is(err, olric.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (o *olricCache) Close() error {
	if o.closed.Load() {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return nil
	}

	o.closed.Store(true)

	ctx := context.Background()

	if o.dmap != nil {
		if dmapErr := o.dmap.Close(ctx); dmapErr != nil {
			o.log.Debug().Err(dmapErr).Msg("olric: dmap close error during shutdown")
		}
	}

	if o.db != nil {
		err := o.db.Shutdown(ctx)
		if err != nil {
			o.log.Error().Err(err).Msg("olric: embedded node shutdown error")
		} else {
			o.log.Info().Msg("olric embedded cache closed")
		}
		return err
	}

	if o.client != nil {
		err := o.client.Close(ctx)
		if err != nil {
			o.log.Error().Err(err).Msg("olric: client disconnect error")
		} else {
			o.log.Info().Msg("olric cluster cache closed")
		}
		return err
	}

	return nil
}

// Stats returns empty statistics. Olric exposes per-member stats through
// its client API rather than the counters this interface carries.
func (o *olricCache) Stats() Stats {
	return Stats{}
}

// Ping validates connectivity with a probe read. A missing probe key means
// the cluster answered, which is all Ping asks.
func (o *olricCache) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.closed.Load() {
		return ErrClosed
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed.Load() {
		return ErrClosed
	}

	_, err := o.dmap.Get(ctx, "__ping_healthcheck__")
	if errors.Is(err, olric.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		o.log.Debug().Err(err).Msg("cache ping: unhealthy")
		return err
	}
	return nil
}
