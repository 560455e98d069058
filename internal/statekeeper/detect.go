package statekeeper

import (
	"context"
	"strings"

	"github.com/arnegard/netbase/internal/backend"
	"github.com/arnegard/netbase/internal/errors"
	"github.com/arnegard/netbase/internal/logio"
)

// DetectSettings inspects store's contents and infers the name,
// blockSize and blocksPerFile of a state previously written there,
// letting tooling open a state without already knowing its parameters.
// It works by detecting the change log's settings and requiring its
// file base to carry the "_statelog" suffix every StateKeeper writes.
func DetectSettings(ctx context.Context, store backend.Store) (stateName string, blockSize int, blocksPerFile uint32, err error) {
	fileBase, blockSize, blocksPerFile, err := logio.DetectSettings(ctx, store)
	if err != nil {
		return "", 0, 0, errors.Wrap(err, "statekeeper: detect settings")
	}
	if !strings.HasSuffix(fileBase, logSuffix) {
		return "", 0, 0, errors.Errorf("statekeeper: %q does not look like a state change log", fileBase)
	}
	stateName = strings.TrimSuffix(fileBase, logSuffix)
	return stateName, blockSize, blocksPerFile, nil
}
