package checkpoint

import (
	"context"
	"io"

	"github.com/arnegard/netbase/internal/backend"
	"github.com/arnegard/netbase/internal/buf"
	"github.com/arnegard/netbase/internal/debug"
	"github.com/arnegard/netbase/internal/errors"
	"github.com/arnegard/netbase/internal/record"
)

// ReadFile reads and validates one checkpoint file, returning its
// name/value pairs. It requires the file to begin with the begin
// sentinel and end with the end sentinel with no corruption in between;
// any deviation is reported as an error so ReadCheckpoint can fall back
// to an older file.
func ReadFile(ctx context.Context, store backend.Store, name string, blockSize int) (map[string]string, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	rc, err := store.OpenRead(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint: open %q", name)
	}
	defer rc.Close()

	in := buf.New(blockSize)
	rec := record.NewReader(blockSize)

	values := make(map[string]string)
	readingName := true
	var pendingName string
	sawBegin := false
	sawEnd := false

	chunk := make([]byte, blockSize)
	for !sawEnd {
		n, readErr := io.ReadFull(rc, chunk)
		if readErr == io.EOF {
			break
		}
		if readErr == io.ErrUnexpectedEOF {
			return nil, errors.Errorf("checkpoint: %q ends with a partial block", name)
		}
		if readErr != nil {
			return nil, errors.Wrapf(readErr, "checkpoint: read %q", name)
		}
		in.Write(chunk[:n])

		for {
			out := buf.New(blockSize)
			result, _ := rec.ReadRecord(in, out, 0)
			if result == record.ReadNoData {
				break
			}
			if result != record.ReadOK {
				return nil, errors.Errorf("checkpoint: %q corrupted: %s", name, result)
			}

			text := out.ReadAllString()
			if !sawBegin {
				if text != beginSentinel {
					return nil, errors.Errorf("checkpoint: %q missing begin marker", name)
				}
				sawBegin = true
				continue
			}
			if text == endSentinel {
				sawEnd = true
				break
			}

			if readingName {
				pendingName = text
			} else {
				values[pendingName] = text
			}
			readingName = !readingName
		}
	}

	if !sawBegin || !sawEnd {
		return nil, errors.Errorf("checkpoint: %q is incomplete", name)
	}
	return values, nil
}

// ReadCheckpoint reads the most recent checkpoint for fileBase that
// parses cleanly, trying files from the highest sequence number down so
// a writer crash mid-checkpoint doesn't lose the previous good one. It
// returns the values read and the sequence number of the file they came
// from.
func ReadCheckpoint(ctx context.Context, store backend.Store, fileBase string, blockSize int) (map[string]string, int32, error) {
	files, err := listCheckpointFiles(ctx, store, fileBase)
	if err != nil {
		return nil, -1, err
	}
	if len(files) == 0 {
		return nil, -1, errors.Errorf("checkpoint: no checkpoint files for %q", fileBase)
	}

	var lastErr error
	for i := len(files) - 1; i >= 0; i-- {
		name := files[i]
		values, err := ReadFile(ctx, store, name, blockSize)
		if err != nil {
			debug.Log("checkpoint", "skipping corrupted checkpoint %q: %v", name, err)
			lastErr = err
			continue
		}
		seq, _ := parseSeq(fileBase, name)
		return values, seq, nil
	}
	return nil, -1, errors.Wrapf(lastErr, "checkpoint: no usable checkpoint for %q", fileBase)
}
