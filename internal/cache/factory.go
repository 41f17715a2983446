package cache

import (
	"container/list"
	"errors"

	"go.uber.org/zap"
)

// New creates a cache that fills itself through loader.
func New[V any](loader Loader[V], opts Options, log *zap.Logger) (*Cache[V], error) {
	if loader == nil {
		return nil, errors.New("cache loader is required")
	}
	if opts.Capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}

	log.Info("Using memory cache",
		zap.Int("max_objects", opts.Capacity),
		zap.Duration("ttl", opts.TTL),
	)

	return &Cache[V]{
		capacity: opts.Capacity,
		ttl:      opts.TTL,
		items:    make(map[string]*list.Element),
		lruList:  list.New(),
		pending:  make(map[string]*pendingLoad[V]),
		loader:   loader,
		clock:    systemClock{},
		logger:   log,
	}, nil
}
