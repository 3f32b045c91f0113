package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrCorrupt      = errors.New("journal: crc mismatch")
	ErrNonMonotonic = errors.New("journal: non-monotonic sequence")
)

type ReplayHandler func(*Record) error

// Replay feeds every record in dir to fn in write order and returns the last
// sequence seen. A partially written record at the end of the newest segment
// is a crash during append: it is truncated away and replay ends cleanly.
// Anywhere else it is corruption.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	files, err := segments(dir)
	if err != nil {
		return 0, err
	}

	for i, path := range files {
		last := i == len(files)-1
		lastSeq, err = replaySegment(path, last, lastSeq, fn)
		if err != nil {
			return lastSeq, fmt.Errorf("journal: %s: %w", path, err)
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, last bool, lastSeq uint64, fn ReplayHandler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return lastSeq, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var good int64
	for {
		rec, err := readRecord(r)
		if err == io.EOF {
			return lastSeq, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) && last {
			return lastSeq, os.Truncate(path, good)
		}
		if err != nil {
			return lastSeq, err
		}
		good += int64(headerSize + len(rec.Data) + crcSize)

		if rec.Seq <= lastSeq {
			return lastSeq, fmt.Errorf("%w: %d after %d", ErrNonMonotonic, rec.Seq, lastSeq)
		}
		lastSeq = rec.Seq

		if err := fn(rec); err != nil {
			return lastSeq, err
		}
	}
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	l := binary.BigEndian.Uint32(header[17:21])
	body := make([]byte, int(l)+crcSize)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	payload := body[:l]
	sum := binary.BigEndian.Uint32(body[l:])
	if checksum(append(header, payload...)) != sum {
		return nil, ErrCorrupt
	}

	return &Record{
		Type: RecordType(header[0]),
		Seq:  binary.BigEndian.Uint64(header[1:9]),
		Time: int64(binary.BigEndian.Uint64(header[9:17])),
		Data: payload,
	}, nil
}
