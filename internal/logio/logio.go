// Package logio rolls internal/record's block-framed records across a
// sequence of numbered files on a backend.Store, so a single durable
// stream can grow past any one file's convenient size and still be
// resumed, sought into, and recovered from after a crash.
//
// Files are named "<fileBase>_<fileNum>_<firstBlockNum>", both numbers
// zero-padded to 10 digits: fileNum is the file's 1-based sequence number
// and firstBlockNum is the global index (0-based, across the whole
// stream) of the first block stored in that file. Encoding firstBlockNum
// in the name lets a reader open any file and know where its blocks sit
// in the overall stream without having opened the files before it.
package logio

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/arnegard/netbase/internal/backend"
	"github.com/arnegard/netbase/internal/errors"
)

// LogPos identifies a record's position in a log: the file and block it
// starts in, and how many records of that block precede it. The zero
// value (FileNum 0) is the null position, since file numbering starts
// at 1 — it denotes "no position recorded yet", not file #0.
type LogPos struct {
	FileNum   uint32
	BlockNum  uint32
	RecordNum uint32
}

// IsNull reports whether pos is the zero/unset position.
func (p LogPos) IsNull() bool { return p.FileNum == 0 }

// String renders pos for logging.
func (p LogPos) String() string {
	return fmt.Sprintf("(file=%d, block=%d, record=%d)", p.FileNum, p.BlockNum, p.RecordNum)
}

func fileName(fileBase string, fileNum, firstBlockNum uint32) string {
	return fmt.Sprintf("%s_%010d_%010d", fileBase, fileNum, firstBlockNum)
}

// parseFileName extracts the fileNum/firstBlockNum pair encoded in name if
// it matches "<fileBase>_<10 digits>_<10 digits>", reporting ok=false
// otherwise.
func parseFileName(fileBase, name string) (fileNum, firstBlockNum uint32, ok bool) {
	prefix := fileBase + "_"
	if !strings.HasPrefix(name, prefix) {
		return 0, 0, false
	}
	rest := name[len(prefix):]
	parts := strings.Split(rest, "_")
	if len(parts) != 2 || len(parts[0]) != 10 || len(parts[1]) != 10 {
		return 0, 0, false
	}
	n1, err1 := strconv.ParseUint(parts[0], 10, 32)
	n2, err2 := strconv.ParseUint(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint32(n1), uint32(n2), true
}

// logFile describes one file discovered under a fileBase prefix.
type logFile struct {
	name          string
	fileNum       uint32
	firstBlockNum uint32
}

// listLogFiles returns every file under prefix fileBase, sorted by
// fileNum ascending.
func listLogFiles(names []string, fileBase string) []logFile {
	var files []logFile
	for _, name := range names {
		fileNum, firstBlockNum, ok := parseFileName(fileBase, name)
		if !ok {
			continue
		}
		files = append(files, logFile{name: name, fileNum: fileNum, firstBlockNum: firstBlockNum})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].fileNum < files[j].fileNum })
	return files
}

// errNoSuchFile is returned internally when a reader asks to roll or seek
// to a file number that does not exist on the backend yet.
var errNoSuchFile = errors.New("logio: no such file")

// extractFileBase reports the fileBase portion of name if it matches
// "<fileBase>_<10 digits>_<10 digits>".
func extractFileBase(name string) (string, bool) {
	parts := strings.Split(name, "_")
	if len(parts) < 3 {
		return "", false
	}
	last, secondLast := parts[len(parts)-1], parts[len(parts)-2]
	if len(last) != 10 || len(secondLast) != 10 {
		return "", false
	}
	if _, err := strconv.ParseUint(last, 10, 32); err != nil {
		return "", false
	}
	if _, err := strconv.ParseUint(secondLast, 10, 32); err != nil {
		return "", false
	}
	return strings.Join(parts[:len(parts)-2], "_"), true
}

// DetectSettings inspects every name in store and infers the fileBase,
// blockSize and blocksPerFile of the log found there, for tooling that
// wants to open a log without already knowing its parameters (mirrors
// DetectLogSettings, used by the original's log analyzer utility).
// It needs at least two rolled files to infer blocksPerFile and
// blockSize, since a still-open current file may not hold a whole
// number of blocks' worth of bytes to divide evenly.
func DetectSettings(ctx context.Context, store backend.Store) (fileBase string, blockSize int, blocksPerFile uint32, err error) {
	names, err := store.List(ctx, "")
	if err != nil {
		return "", 0, 0, errors.Wrap(err, "logio: list")
	}

	counts := make(map[string]int)
	for _, n := range names {
		if fb, ok := extractFileBase(n); ok {
			counts[fb]++
		}
	}
	for fb, c := range counts {
		if fileBase == "" || c > counts[fileBase] {
			fileBase = fb
		}
	}
	if fileBase == "" {
		return "", 0, 0, errors.New("logio: could not detect a log file base in this store")
	}

	files := listLogFiles(names, fileBase)
	if len(files) < 2 {
		return "", 0, 0, errors.New("logio: need at least two rolled files to detect settings")
	}
	blocksPerFile = files[1].firstBlockNum - files[0].firstBlockNum
	if blocksPerFile == 0 {
		return "", 0, 0, errors.New("logio: could not detect blocksPerFile")
	}

	size, err := store.Size(ctx, files[0].name)
	if err != nil {
		return "", 0, 0, errors.Wrap(err, "logio: size")
	}
	blockSize = int(size / int64(blocksPerFile))
	if blockSize <= 0 {
		return "", 0, 0, errors.New("logio: could not detect blockSize")
	}
	return fileBase, blockSize, blocksPerFile, nil
}

// CleanBefore removes every rolled file for fileBase that lies entirely
// before pos, since a checkpoint already reflects everything they hold.
// It never removes the file pos itself falls in, since that file may
// hold records at or after pos that are still needed to replay forward
// from the checkpoint.
func CleanBefore(ctx context.Context, store backend.Store, fileBase string, pos LogPos) (int, error) {
	names, err := store.List(ctx, fileBase+"_")
	if err != nil {
		return 0, errors.Wrap(err, "logio: list")
	}
	removed := 0
	for _, f := range listLogFiles(names, fileBase) {
		if f.fileNum >= pos.FileNum {
			continue
		}
		if err := store.Remove(ctx, f.name); err != nil {
			return removed, errors.Wrapf(err, "logio: remove %q", f.name)
		}
		removed++
	}
	return removed, nil
}
