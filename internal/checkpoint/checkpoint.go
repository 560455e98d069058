// Package checkpoint snapshots a set of named string values into a single
// framed file on a backend.Store, and reads the most recent uncorrupted
// snapshot back. It is the durability primitive internal/statekeeper
// layers its periodic full-state dumps on top of: unlike internal/logio's
// append-only change log, a checkpoint is one self-contained file that
// can be read in one pass without replaying history.
package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/arnegard/netbase/internal/backend"
	"github.com/arnegard/netbase/internal/errors"
)

// DefaultBlockSize is the record block size used when callers don't pick
// one explicitly.
const DefaultBlockSize = 65536

const (
	beginSentinel = "__checkpoint_begin__"
	endSentinel   = "__checkpoint_end__"
)

func fileName(fileBase string, seq int32) string {
	return fmt.Sprintf("%s_%010d", fileBase, seq)
}

// parseSeq extracts the sequence number encoded in name if it matches
// "<fileBase>_<10 digits>".
func parseSeq(fileBase, name string) (int32, bool) {
	prefix := fileBase + "_"
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	rest := name[len(prefix):]
	if len(rest) != 10 {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

// listCheckpointFiles returns every checkpoint file for fileBase, sorted
// by sequence number ascending (oldest first).
func listCheckpointFiles(ctx context.Context, store backend.Store, fileBase string) ([]string, error) {
	names, err := store.List(ctx, fileBase+"_")
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: list")
	}
	type entry struct {
		name string
		seq  int32
	}
	var files []entry
	for _, n := range names {
		if seq, ok := parseSeq(fileBase, n); ok {
			files = append(files, entry{name: n, seq: seq})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq < files[j].seq })

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.name
	}
	return out, nil
}

// ListFiles returns every checkpoint file for fileBase, sorted by
// sequence number ascending (oldest first). Exported for callers (like
// internal/statekeeper) that need to inspect and selectively retire
// checkpoints instead of a blanket CleanOldCheckpoints trim.
func ListFiles(ctx context.Context, store backend.Store, fileBase string) ([]string, error) {
	return listCheckpointFiles(ctx, store, fileBase)
}

// CleanOldCheckpoints removes every checkpoint file for fileBase except
// the numToKeep most recent ones.
func CleanOldCheckpoints(ctx context.Context, store backend.Store, fileBase string, numToKeep int) error {
	files, err := listCheckpointFiles(ctx, store, fileBase)
	if err != nil {
		return err
	}
	limit := len(files) - numToKeep
	for i := 0; i < limit; i++ {
		if err := store.Remove(ctx, files[i]); err != nil {
			return errors.Wrapf(err, "checkpoint: remove %q", files[i])
		}
	}
	return nil
}
