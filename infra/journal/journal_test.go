package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendReplay(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(Config{Dir: dir, SegmentBytes: 64, NoSync: true}, 0)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		seq, err := j.Append(RecordPlace, []byte(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), seq)
	}
	require.NoError(t, j.Close())

	files, err := segments(dir)
	require.NoError(t, err)
	assert.Greater(t, len(files), 1, "small segments must rotate")

	var got []string
	last, err := Replay(dir, func(r *Record) error {
		assert.Equal(t, RecordPlace, r.Type)
		got = append(got, string(r.Data))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), last)
	assert.Len(t, got, 10)
	assert.Equal(t, `{"n":9}`, got[9])
}

func TestReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir, NoSync: true}, 0)
	require.NoError(t, err)
	_, err = j.Append(RecordDeposit, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	last, err := Replay(dir, func(*Record) error { return nil })
	require.NoError(t, err)

	j, err = Open(Config{Dir: dir, NoSync: true}, last)
	require.NoError(t, err)
	seq, err := j.Append(RecordWithdraw, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
	require.NoError(t, j.Close())

	_, err = j.Append(RecordWithdraw, nil)
	assert.ErrorIs(t, err, ErrClosed)

	var types []RecordType
	_, err = Replay(dir, func(r *Record) error { types = append(types, r.Type); return nil })
	require.NoError(t, err)
	assert.Equal(t, []RecordType{RecordDeposit, RecordWithdraw}, types)
}

func TestReplayTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir, NoSync: true}, 0)
	require.NoError(t, err)
	_, err = j.Append(RecordCancel, []byte("whole"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	path := segmentPath(dir, 0)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{byte(RecordCancel), 0, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	n := 0
	last, err := Replay(dir, func(*Record) error { n++; return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(1), last)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(headerSize+len("whole")+crcSize), st.Size())
}

func TestReplayDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir, NoSync: true}, 0)
	require.NoError(t, err)
	_, err = j.Append(RecordPlace, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	path := filepath.Join(dir, "segment-000000.log")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[headerSize] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = Replay(dir, func(*Record) error { return nil })
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestReplayRejectsRepeatedSequence(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		// Reopening at zero reissues sequence 1.
		j, err := Open(Config{Dir: dir, NoSync: true}, 0)
		require.NoError(t, err)
		_, err = j.Append(RecordPlace, []byte("x"))
		require.NoError(t, err)
		require.NoError(t, j.Close())
	}

	n := 0
	last, err := Replay(dir, func(*Record) error { n++; return nil })
	assert.ErrorIs(t, err, ErrNonMonotonic)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(1), last)
}
