// Package journal is an append-only, CRC-framed log of committed engine
// operations. It is replayed at startup to rebuild in-memory state.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

var ErrClosed = errors.New("journal: closed")

type Config struct {
	Dir          string
	SegmentBytes int64

	// NoSync skips fsync after each append.
	NoSync bool
}

// Journal is safe for concurrent use; appends from different market
// workers are serialized and numbered in write order.
type Journal struct {
	mu sync.Mutex

	dir     string
	segSize int64
	noSync  bool

	current *segment
	lastSeq uint64
	closed  bool

	now func() time.Time
}

// Open continues the newest segment in cfg.Dir. lastSeq is the highest
// sequence already on disk, normally taken from Replay.
func Open(cfg Config, lastSeq uint64) (*Journal, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	if cfg.SegmentBytes <= 0 {
		cfg.SegmentBytes = 64 << 20
	}

	index := 0
	files, err := segments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if len(files) > 0 {
		if index, err = segmentIndex(files[len(files)-1]); err != nil {
			return nil, fmt.Errorf("journal: %s: %w", files[len(files)-1], err)
		}
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}

	return &Journal{
		dir:     cfg.Dir,
		segSize: cfg.SegmentBytes,
		noSync:  cfg.NoSync,
		current: seg,
		lastSeq: lastSeq,
		now:     time.Now,
	}, nil
}

// Append frames data, writes it and returns the assigned sequence.
func (j *Journal) Append(t RecordType, data []byte) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return 0, ErrClosed
	}

	seq := j.lastSeq + 1
	payloadLen := uint32(len(data))

	buf := make([]byte, headerSize+int(payloadLen)+crcSize)
	buf[0] = byte(t)
	binary.BigEndian.PutUint64(buf[1:9], seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(j.now().UnixNano()))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[headerSize:], data)

	sum := checksum(buf[:headerSize+int(payloadLen)])
	binary.BigEndian.PutUint32(buf[headerSize+int(payloadLen):], sum)

	if err := j.current.append(buf); err != nil {
		return 0, err
	}
	if !j.noSync {
		if err := j.current.file.Sync(); err != nil {
			return 0, err
		}
	}
	j.lastSeq = seq

	if j.current.offset >= j.segSize {
		if err := j.rotate(); err != nil {
			return seq, err
		}
	}
	return seq, nil
}

func (j *Journal) rotate() error {
	next := j.current.index + 1
	if err := j.current.close(); err != nil {
		return err
	}
	seg, err := openSegment(j.dir, next)
	if err != nil {
		return err
	}
	j.current = seg
	return nil
}

func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSeq
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.current.close()
}
