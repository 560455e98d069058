// Package statekeeper layers a small, periodically checkpointed
// key/value store on top of internal/checkpoint and internal/logio: every
// mutation is appended as a change-log record, and a background writer
// goroutine folds the current state into a fresh checkpoint from time to
// time so startup only has to replay the change log back to the last
// checkpoint rather than from the beginning of time.
//
// A StateKeeper is not safe for concurrent use from more than one
// goroutine at a time (other than the background writer it owns
// internally): callers must serialize their own calls into it, the same
// restriction the package this is grounded on documents for its
// equivalent type. Every public method checks this and panics with a
// Fatal error rather than let a racing caller corrupt sk.data silently.
package statekeeper

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/arnegard/netbase/internal/backend"
	"github.com/arnegard/netbase/internal/buf"
	"github.com/arnegard/netbase/internal/checkpoint"
	"github.com/arnegard/netbase/internal/debug"
	"github.com/arnegard/netbase/internal/errors"
	"github.com/arnegard/netbase/internal/logio"
)

// goroutineID extracts the calling goroutine's numeric ID from the
// header line of its own stack trace. Go exposes no public API for
// this; parsing runtime.Stack's output is the standard workaround.
func goroutineID() int64 {
	var stack [64]byte
	n := runtime.Stack(stack[:], false)
	var id int64
	fmt.Sscanf(string(stack[:n]), "goroutine %d ", &id)
	return id
}

// Tuning defaults, named the way the package this is grounded on names
// them.
const (
	DefaultBlockSize         = 128
	DefaultBlocksPerFile     = 100000
	MinCheckpointsToKeep     = 2
	DefaultCheckpointsToKeep = 4

	maxWriterQueueSize = 1000
	flushInterval      = 10 * time.Second
	checkpointSuffix   = "_checkpoint"
	logSuffix          = "_statelog"
	logPosKey          = "__checkpoint_pos__"
	checkpointBeginKey = "__checkpoint_begin__"
	checkpointEndKey   = "__checkpoint_end__"
	timeoutKey         = "__t__"
	minUpdateTimeoutMS = 1000
)

// isReservedKey reports whether key is one of the names StateKeeper
// manages itself: the checkpoint's log-position marker, the checkpoint
// format's begin/end sentinels, or an entry in the sorted timeout index.
// These never reach sk.data through the public API; writing one would
// either collide with a name checkpointInternal adds itself (see
// checkpoint.Writer's duplicate-name rejection) or corrupt the sorted
// scan ExpireTimeoutedKeys relies on.
func isReservedKey(key string) bool {
	switch key {
	case logPosKey, checkpointBeginKey, checkpointEndKey:
		return true
	}
	return strings.HasPrefix(key, timeoutKey+"/")
}

type opCode uint8

const (
	opSet opCode = iota
	opDelete
	opClearPrefix
)

// writeCommand is handed to the background writer goroutine. The zero
// value (both fields nil) tells the goroutine to flush and exit.
type writeCommand struct {
	logData        []byte
	checkpointData map[string]string
}

// StateKeeper holds an in-memory key/value map durably backed by a change
// log and periodic checkpoints.
type StateKeeper struct {
	store             backend.Store
	stateName         string
	checkpointName    string
	logName           string
	blockSize         int
	blocksPerFile     uint32
	checkpointsToKeep int
	creatorGoroutine  int64

	checkpointer *checkpoint.Writer
	logWriter    *logio.Writer

	data map[string]string

	inTransaction bool
	opBuf         *buf.Buffer

	queue      chan writeCommand
	writerDone chan struct{}
}

// New returns a StateKeeper for stateName, not yet initialized. Pick
// block_size and blocks_per_file carefully: they govern how much space is
// wasted in a partially-filled change-log block.
func New(store backend.Store, stateName string, blockSize int, blocksPerFile uint32, checkpointsToKeep int) *StateKeeper {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if blocksPerFile == 0 {
		blocksPerFile = DefaultBlocksPerFile
	}
	if checkpointsToKeep < MinCheckpointsToKeep {
		checkpointsToKeep = DefaultCheckpointsToKeep
	}
	checkpointName := stateName + checkpointSuffix
	logName := stateName + logSuffix
	return &StateKeeper{
		store:             store,
		stateName:         stateName,
		checkpointName:    checkpointName,
		logName:           logName,
		blockSize:         blockSize,
		blocksPerFile:     blocksPerFile,
		checkpointsToKeep: checkpointsToKeep,
		creatorGoroutine:  goroutineID(),
		checkpointer:      checkpoint.NewWriter(store, checkpointName, blockSize),
		logWriter:         logio.NewWriter(store, logName, blockSize, blocksPerFile, false, 0),
		opBuf:             buf.New(blockSize),
	}
}

// checkAffinity panics with a Fatal error if the calling goroutine isn't
// the one that constructed sk.
func (sk *StateKeeper) checkAffinity() {
	if got := goroutineID(); got != sk.creatorGoroutine {
		panic(errors.Fatalf("statekeeper: %q called from goroutine %d, constructed on goroutine %d", sk.stateName, got, sk.creatorGoroutine))
	}
}

// StateName returns the name this StateKeeper was constructed with.
func (sk *StateKeeper) StateName() string {
	sk.checkAffinity()
	return sk.stateName
}

// Initialize reads whatever state was previously saved (a checkpoint
// plus the change log recorded since), and starts the background writer
// goroutine. It must be called once before any mutating method.
func (sk *StateKeeper) Initialize(ctx context.Context) error {
	sk.checkAffinity()
	data, err := ReadState(ctx, sk.store, sk.stateName, sk.blockSize, sk.blocksPerFile)
	if err != nil {
		return errors.Wrap(err, "statekeeper: read state")
	}
	sk.data = data

	if err := sk.logWriter.Initialize(ctx); err != nil {
		return errors.Wrap(err, "statekeeper: initialize log writer")
	}

	sk.queue = make(chan writeCommand, maxWriterQueueSize)
	sk.writerDone = make(chan struct{})
	go sk.writerLoop()
	debug.Log("statekeeper", "%q initialized with %d keys", sk.stateName, len(sk.data))
	return nil
}

// Close stops the background writer goroutine, flushing any staged log
// content first.
func (sk *StateKeeper) Close() error {
	sk.checkAffinity()
	sk.queue <- writeCommand{}
	<-sk.writerDone
	return nil
}

func (sk *StateKeeper) writerLoop() {
	defer close(sk.writerDone)
	ctx := context.Background()

	timer := time.NewTimer(flushInterval)
	defer timer.Stop()

	for {
		select {
		case cmd := <-sk.queue:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}

			if cmd.logData == nil && cmd.checkpointData == nil {
				if err := sk.logWriter.Flush(ctx); err != nil {
					debug.Log("statekeeper", "final flush failed: %v", err)
				}
				return
			}
			if cmd.logData != nil {
				if err := sk.logWriter.WriteRecord(ctx, cmd.logData); err != nil {
					debug.Log("statekeeper", "write record failed: %v", err)
				}
			}
			if cmd.checkpointData != nil {
				sk.checkpointInternal(ctx, cmd.checkpointData)
			}
			timer.Reset(flushInterval)

		case <-timer.C:
			if err := sk.logWriter.Flush(ctx); err != nil {
				debug.Log("statekeeper", "periodic flush failed: %v", err)
			}
			timer.Reset(flushInterval)
		}
	}
}

// Checkpoint snapshots the current state and hands it to the writer
// goroutine to fold into a fresh checkpoint file, then cleans up
// checkpoints and log files beyond checkpointsToKeep. It also expires any
// timed-out keys first (see StateKeepUser), since those belong in the
// checkpoint too.
func (sk *StateKeeper) Checkpoint() error {
	sk.checkAffinity()
	if sk.inTransaction {
		return errors.New("statekeeper: cannot checkpoint while a transaction is open")
	}
	sk.ExpireTimeoutedKeys()

	snapshot := make(map[string]string, len(sk.data))
	for k, v := range sk.data {
		snapshot[k] = v
	}
	sk.queue <- writeCommand{checkpointData: snapshot}
	return nil
}

// checkpointInternal runs on the writer goroutine: it flushes the log,
// records the current log position alongside the snapshot, writes the
// checkpoint file, and retires old checkpoints and log files.
func (sk *StateKeeper) checkpointInternal(ctx context.Context, data map[string]string) {
	if err := sk.logWriter.Flush(ctx); err != nil {
		debug.Log("statekeeper", "flush before checkpoint failed: %v", err)
		return
	}
	pos := sk.logWriter.Tell()

	if _, err := sk.checkpointer.Begin(ctx); err != nil {
		debug.Log("statekeeper", "begin checkpoint failed: %v", err)
		return
	}
	if err := sk.checkpointer.Add(ctx, logPosKey, encodeLogPos(pos)); err != nil {
		debug.Log("statekeeper", "add log position failed: %v", err)
		sk.checkpointer.Clear()
		return
	}
	for k, v := range data {
		if err := sk.checkpointer.Add(ctx, k, v); err != nil {
			debug.Log("statekeeper", "add key %q failed: %v", k, err)
			sk.checkpointer.Clear()
			return
		}
	}
	if err := sk.checkpointer.End(ctx); err != nil {
		debug.Log("statekeeper", "end checkpoint failed: %v", err)
		return
	}
	debug.Log("statekeeper", "checkpointed %q at %v with %d keys", sk.stateName, pos, len(data))
	sk.cleanOldState(ctx, sk.checkpointsToKeep)
}

// cleanOldState first discards any corrupted checkpoint outright
// (regardless of how many good ones remain), then retires checkpoints
// beyond numToKeep, cleaning the log files each one's position makes
// redundant along the way.
func (sk *StateKeeper) cleanOldState(ctx context.Context, numToKeep int) {
	if numToKeep < MinCheckpointsToKeep {
		numToKeep = MinCheckpointsToKeep
	}

	files, err := checkpoint.ListFiles(ctx, sk.store, sk.checkpointName)
	if err != nil {
		debug.Log("statekeeper", "list checkpoints failed: %v", err)
		return
	}

	var good []string
	for _, name := range files {
		if _, err := checkpoint.ReadFile(ctx, sk.store, name, sk.blockSize); err != nil {
			debug.Log("statekeeper", "removing corrupted checkpoint %q: %v", name, err)
			if err := sk.store.Remove(ctx, name); err != nil {
				debug.Log("statekeeper", "remove %q failed: %v", name, err)
			}
			continue
		}
		good = append(good, name)
	}

	limit := len(good) - numToKeep
	for i := 0; i < limit; i++ {
		name := good[i]
		values, err := checkpoint.ReadFile(ctx, sk.store, name, sk.blockSize)
		if rmErr := sk.store.Remove(ctx, name); rmErr != nil {
			debug.Log("statekeeper", "remove %q failed: %v", name, rmErr)
		}
		if err != nil {
			continue
		}
		str, ok := values[logPosKey]
		if !ok {
			continue
		}
		pos, err := decodeLogPos(str)
		if err != nil {
			continue
		}
		removed, err := logio.CleanBefore(ctx, sk.store, sk.logName, pos)
		if err != nil {
			debug.Log("statekeeper", "clean old log files for %q failed: %v", name, err)
			continue
		}
		debug.Log("statekeeper", "cleaned %d log files superseded by %q (pos %v)", removed, name, pos)
	}
}

// BeginTransaction accumulates subsequent SetValue/DeleteValue/
// DeletePrefix calls in memory without writing them to the change log
// until CommitTransaction. There is no abort: once begun, a transaction
// must be committed. Do not call Checkpoint while a transaction is open.
func (sk *StateKeeper) BeginTransaction() {
	sk.checkAffinity()
	if sk.inTransaction {
		panic(errors.Fatal("statekeeper: BeginTransaction called while already in a transaction"))
	}
	sk.inTransaction = true
}

// CommitTransaction ends a transaction started with BeginTransaction,
// writing every change accumulated since as a single change-log record.
func (sk *StateKeeper) CommitTransaction() error {
	sk.checkAffinity()
	if !sk.inTransaction {
		panic(errors.Fatal("statekeeper: CommitTransaction called without a transaction"))
	}
	sk.inTransaction = false
	sk.queueWrite()
	return nil
}

// SetValue sets key to value, both in memory and (eventually) in the
// change log. A no-op SetValue that doesn't change the value already on
// record skips writing a log entry. It is an error to set a reserved
// key (see isReservedKey); those are managed internally by StateKeeper
// itself.
func (sk *StateKeeper) SetValue(key, value string) error {
	sk.checkAffinity()
	if isReservedKey(key) {
		return errors.Errorf("statekeeper: %q is a reserved key", key)
	}
	return sk.setValueInternal(key, value)
}

func (sk *StateKeeper) setValueInternal(key, value string) error {
	if existing, ok := sk.data[key]; ok && existing == value {
		return nil
	}
	sk.data[key] = value
	sk.queueOp(key, opSet, &value)
	return nil
}

// DeleteValue removes key. It is not an error to delete a key that isn't
// set; no log entry is written in that case. It is an error to delete a
// reserved key (see isReservedKey).
func (sk *StateKeeper) DeleteValue(key string) error {
	sk.checkAffinity()
	if isReservedKey(key) {
		return errors.Errorf("statekeeper: %q is a reserved key", key)
	}
	return sk.deleteValueInternal(key)
}

func (sk *StateKeeper) deleteValueInternal(key string) error {
	if _, ok := sk.data[key]; !ok {
		return nil
	}
	delete(sk.data, key)
	sk.queueOp(key, opDelete, nil)
	return nil
}

// DeletePrefix removes every key beginning with prefix. It is an error
// if prefix names or overlaps a reserved key (see isReservedKey).
func (sk *StateKeeper) DeletePrefix(prefix string) error {
	sk.checkAffinity()
	if isReservedKey(prefix) {
		return errors.Errorf("statekeeper: %q overlaps a reserved key", prefix)
	}
	return sk.deletePrefixInternal(prefix)
}

func (sk *StateKeeper) deletePrefixInternal(prefix string) error {
	for k := range sk.data {
		if strings.HasPrefix(k, prefix) {
			delete(sk.data, k)
		}
	}
	sk.queueOp(prefix, opClearPrefix, nil)
	return nil
}

// GetValue returns key's value, if set.
func (sk *StateKeeper) GetValue(key string) (string, bool) {
	sk.checkAffinity()
	v, ok := sk.data[key]
	return v, ok
}

// HasValue reports whether key is set.
func (sk *StateKeeper) HasValue(key string) bool {
	sk.checkAffinity()
	_, ok := sk.data[key]
	return ok
}

// Size returns the number of keys currently held.
func (sk *StateKeeper) Size() int {
	sk.checkAffinity()
	return len(sk.data)
}

// KeysWithPrefix returns every key beginning with prefix, sorted
// ascending. The original this is grounded on returns a pair of
// std::map iterators bounding the same range; an exported sorted slice
// serves Go callers just as well and avoids exposing map iteration
// order as an implementation detail.
func (sk *StateKeeper) KeysWithPrefix(prefix string) []string {
	sk.checkAffinity()
	var keys []string
	for k := range sk.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ExpireTimeoutedKeys deletes every prefix registered by a StateKeepUser
// whose timeout has elapsed, and returns how many were expired. Timeout
// registrations are stored as sorted keys ("__t__/<25-digit deadline>/
// <prefix>") so the scan can stop at the first not-yet-expired entry.
func (sk *StateKeeper) ExpireTimeoutedKeys() int {
	sk.checkAffinity()
	now := time.Now().UnixMilli()
	keys := sk.KeysWithPrefix(timeoutKey + "/")

	sk.BeginTransaction()
	expired := 0
	deleteKey := true
	for _, k := range keys {
		rest := strings.TrimPrefix(k, timeoutKey+"/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 2 {
			if t, err := strconv.ParseInt(parts[0], 10, 64); err == nil {
				deleteKey = t < now
			}
		}
		if !deleteKey {
			break
		}
		prefix := sk.data[k]
		debug.Log("statekeeper", "prefix deleted on timeout: %q", prefix)
		_ = sk.deletePrefixInternal(prefix)
		_ = sk.deleteValueInternal(k)
		expired++
	}
	_ = sk.CommitTransaction()
	return expired
}

func (sk *StateKeeper) queueOp(key string, op opCode, value *string) {
	if len(key) > math.MaxInt16 {
		panic(errors.Fatalf("statekeeper: key too large to log: %d bytes", len(key)))
	}
	sk.opBuf.WriteInt16BE(int16(len(key)))
	sk.opBuf.WriteString(key)
	sk.opBuf.WriteUint8(uint8(op))
	if value != nil {
		sk.opBuf.WriteInt32BE(int32(len(*value)))
		sk.opBuf.WriteString(*value)
	}
	if !sk.inTransaction {
		sk.queueWrite()
	}
}

func (sk *StateKeeper) queueWrite() {
	if sk.opBuf.IsEmpty() {
		return
	}
	data := sk.opBuf.ReadAllString()
	sk.queue <- writeCommand{logData: []byte(data)}
}

func encodeLogPos(pos logio.LogPos) string {
	return fmt.Sprintf("%d:%d:%d", pos.FileNum, pos.BlockNum, pos.RecordNum)
}

func decodeLogPos(s string) (logio.LogPos, error) {
	var pos logio.LogPos
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return pos, errors.Errorf("statekeeper: malformed log position %q", s)
	}
	fileNum, err1 := strconv.ParseUint(parts[0], 10, 32)
	blockNum, err2 := strconv.ParseUint(parts[1], 10, 32)
	recordNum, err3 := strconv.ParseUint(parts[2], 10, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		return pos, errors.Errorf("statekeeper: malformed log position %q", s)
	}
	return logio.LogPos{FileNum: uint32(fileNum), BlockNum: uint32(blockNum), RecordNum: uint32(recordNum)}, nil
}

// ReadState reads the map of values saved for stateName: the most recent
// uncorrupted checkpoint (if any), with the change log replayed forward
// from the position it recorded.
func ReadState(ctx context.Context, store backend.Store, stateName string, blockSize int, blocksPerFile uint32) (map[string]string, error) {
	checkpointName := stateName + checkpointSuffix
	logName := stateName + logSuffix

	data := make(map[string]string)
	var pos logio.LogPos
	if values, _, err := checkpoint.ReadCheckpoint(ctx, store, checkpointName, blockSize); err == nil {
		for k, v := range values {
			data[k] = v
		}
		if str, ok := data[logPosKey]; ok {
			p, perr := decodeLogPos(str)
			if perr != nil {
				return nil, errors.Wrap(perr, "statekeeper: checkpoint has a corrupted log position")
			}
			pos = p
		}
		delete(data, logPosKey)
	}

	reader := logio.NewReader(store, logName, blockSize, blocksPerFile)
	if !pos.IsNull() {
		if err := reader.Seek(ctx, pos); err != nil {
			debug.Log("statekeeper", "cannot seek to checkpointed position %v: %v", pos, err)
			return data, nil
		}
	}

	numChanged := 0
	for {
		out := buf.New(blockSize)
		ok, err := reader.GetNextRecord(ctx, out)
		if err != nil {
			return nil, errors.Wrap(err, "statekeeper: replay change log")
		}
		if !ok {
			break
		}
		numChanged += applyRecord(data, out)
	}
	debug.Log("statekeeper", "%q: %d keys, %d changed since checkpoint", stateName, len(data), numChanged)
	return data, nil
}

// applyRecord decodes and applies every name/opcode[/value] operation
// packed into one change-log record, returning how many OP_SET
// operations it applied.
func applyRecord(data map[string]string, record *buf.Buffer) int {
	numSet := 0
	for !record.IsEmpty() {
		nameSize, err := record.ReadInt16BE()
		if err != nil || nameSize < 0 {
			return numSet
		}
		nameBytes := make([]byte, nameSize)
		if n, _ := record.Read(nameBytes); n != int(nameSize) {
			return numSet
		}
		name := string(nameBytes)

		opByte, err := record.ReadUint8()
		if err != nil {
			return numSet
		}

		switch opCode(opByte) {
		case opSet:
			valueSize, err := record.ReadInt32BE()
			if err != nil || valueSize < 0 {
				return numSet
			}
			valueBytes := make([]byte, valueSize)
			if n, _ := record.Read(valueBytes); n != int(valueSize) {
				return numSet
			}
			data[name] = string(valueBytes)
			numSet++
		case opDelete:
			delete(data, name)
		case opClearPrefix:
			for k := range data {
				if strings.HasPrefix(k, name) {
					delete(data, k)
				}
			}
		}
	}
	return numSet
}
