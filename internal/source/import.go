package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Writer is a storage that sources can be copied into.
type Writer interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Import copies every source listed by from into to. Sources that cannot be
// read are logged and skipped; a failed write aborts the import.
func Import(ctx context.Context, from Storage, to Writer, logger *zap.Logger) (int, error) {
	sources, err := from.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", from, err)
	}

	imported := 0
	for _, info := range sources {
		data, err := from.Read(ctx, info.Name)
		if err != nil {
			logger.Warn("Skipping unreadable source",
				zap.String("key", info.Name),
				zap.String("storage", from.String()),
				zap.Error(err),
			)
			continue
		}
		if err := to.Put(ctx, info.Name, data); err != nil {
			return imported, fmt.Errorf("failed to import %s: %w", info.Name, err)
		}
		imported++
	}
	return imported, nil
}
