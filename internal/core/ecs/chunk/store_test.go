package chunk

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/ecscore/internal/core/observability/log"
)

// columns: id u32, flag u8, pos 8 bytes, blob 16 bytes, odd 3 bytes
var testLayout = NewLayout([]uint16{4, 1, 8, 16, 3})

func blobFor(v uint32) []byte {
	b := make([]byte, testLayout.Stride)
	binary.LittleEndian.PutUint32(testLayout.Field(b, 0), v)
	testLayout.Field(b, 1)[0] = byte(v)
	binary.LittleEndian.PutUint64(testLayout.Field(b, 2), uint64(v)*3)
	for i := range testLayout.Field(b, 3) {
		testLayout.Field(b, 3)[i] = byte(v + uint32(i))
	}
	copy(testLayout.Field(b, 4), []byte{byte(v), byte(v >> 8), 0xAA})
	return b
}

func newTestStore(t *testing.T, bits uint8) (*Store, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return NewStore(log.NewWithCore(core), bits), logs
}

func insert(t *testing.T, s *Store, v uint32) Reservation {
	t.Helper()
	res, err := s.AllocateEmpty(testLayout.Stride)
	require.NoError(t, err)
	require.NoError(t, s.AddToChunk(res.Chunk, res.Row, testLayout, blobFor(v)))
	s.Allocated(res)
	return res
}

func rowValue(t *testing.T, s *Store, res Reservation) uint32 {
	t.Helper()
	c, ok := s.Chunk(res.Chunk)
	require.True(t, ok)
	return binary.LittleEndian.Uint32(c.Cell(testLayout, 0, res.Row))
}

func TestLayoutOffsets(t *testing.T) {
	assert.Equal(t, []uint32{0, 4, 5, 13, 29}, testLayout.Offsets)
	assert.Equal(t, uint32(32), testLayout.Stride)
	assert.Equal(t, 5, testLayout.Columns())
}

func TestAllocateChunkClampsCapacity(t *testing.T) {
	s, _ := newTestStore(t, 3)
	id, err := s.AllocateChunk(testLayout.Stride, 1)
	require.NoError(t, err)
	c, _ := s.Chunk(id)
	assert.Equal(t, uint8(3), c.CapacityBits())

	id, err = s.AllocateChunk(testLayout.Stride, 40)
	require.NoError(t, err)
	c, _ = s.Chunk(id)
	assert.Equal(t, uint8(MaxCapacityBits), c.CapacityBits())
	assert.Equal(t, uint8(MaxCapacityBits), s.HighBits())
	assert.Equal(t, uint32(8+1<<MaxCapacityBits), s.TotalCapacity())
}

func TestAddToChunkWritesSoAColumns(t *testing.T) {
	s, _ := newTestStore(t, 2)
	for v := uint32(1); v <= 3; v++ {
		insert(t, s, v)
	}
	c, ok := s.Chunk(0)
	require.True(t, ok)
	assert.Equal(t, uint32(3), c.Used())

	flags := c.Column(testLayout, 1)
	assert.Equal(t, []byte{1, 2, 3, 0}, flags)

	dst := make([]byte, testLayout.Stride)
	c.Gather(testLayout, 1, dst)
	assert.Equal(t, blobFor(2), dst)
}

func TestWorkingChunkGrowsWhenFull(t *testing.T) {
	s, _ := newTestStore(t, 1)
	var last Reservation
	for v := uint32(0); v < 2+4+8; v++ {
		last = insert(t, s, v)
	}
	assert.Equal(t, 3, s.ChunkCount())
	assert.Equal(t, 2, last.Chunk)
	c, _ := s.Chunk(2)
	assert.Equal(t, uint8(3), c.CapacityBits())
	assert.Equal(t, uint32(14), s.TotalUsed())
	assert.Equal(t, uint32(14), s.TotalCapacity())
}

func TestSwapRemoveMovesLastRow(t *testing.T) {
	s, _ := newTestStore(t, 3)
	var rows []Reservation
	for v := uint32(10); v < 15; v++ {
		rows = append(rows, insert(t, s, v))
	}

	movedFrom, moved := s.RemoveFromChunk(0, 1, testLayout)
	require.True(t, moved)
	assert.Equal(t, uint32(4), movedFrom)
	assert.Equal(t, uint32(14), rowValue(t, s, rows[1]))

	c, _ := s.Chunk(0)
	got := make([]byte, testLayout.Stride)
	c.Gather(testLayout, 1, got)
	assert.Equal(t, blobFor(14), got)

	// vacated row is zeroed
	c.Gather(testLayout, 4, got)
	assert.Equal(t, make([]byte, testLayout.Stride), got)

	_, moved = s.RemoveFromChunk(0, 3, testLayout)
	assert.False(t, moved, "removing the last live row moves nothing")
	assert.Equal(t, uint32(3), c.Used())
	assert.Equal(t, uint32(3), s.TotalUsed())
}

func TestRemoveAllThenReuse(t *testing.T) {
	s, _ := newTestStore(t, 2)
	for v := uint32(0); v < 4; v++ {
		insert(t, s, v)
	}
	for _, row := range []uint32{2, 0, 1, 0} {
		s.RemoveFromChunk(0, row, testLayout)
	}
	assert.Equal(t, uint32(0), s.TotalUsed())

	res := insert(t, s, 99)
	assert.Equal(t, Reservation{Chunk: 0, Row: 0}, res)
	assert.Equal(t, 1, s.ChunkCount())
}

func TestRemoveFromChunkRejectsDeadRow(t *testing.T) {
	s, logs := newTestStore(t, 2)
	insert(t, s, 1)
	_, moved := s.RemoveFromChunk(0, 3, testLayout)
	assert.False(t, moved)
	assert.Equal(t, 1, logs.FilterMessage("remove of a row that is not live").Len())
	assert.Equal(t, uint32(1), s.TotalUsed())
}

func TestRemoveChunkRefusesLiveData(t *testing.T) {
	s, logs := newTestStore(t, 1)
	insert(t, s, 1)
	err := s.RemoveChunk(0)
	assert.ErrorIs(t, err, ErrChunkInUse)
	assert.Equal(t, 1, logs.FilterMessage("refusing to remove a chunk with live rows").Len())

	s.RemoveFromChunk(0, 0, testLayout)
	require.NoError(t, s.RemoveChunk(0))
	c, _ := s.Chunk(0)
	assert.True(t, c.Released())
	assert.Equal(t, uint32(0), s.TotalCapacity())
	assert.ErrorIs(t, s.RemoveChunk(7), ErrUnknownChunk)
}

func TestRollbackReturnsReservedRow(t *testing.T) {
	s, _ := newTestStore(t, 2)
	insert(t, s, 1)
	res, err := s.AllocateEmpty(testLayout.Stride)
	require.NoError(t, err)
	c, _ := s.Chunk(res.Chunk)
	assert.Equal(t, uint32(2), c.Used())
	assert.Equal(t, uint32(1), s.TotalUsed(), "reservation is not committed yet")

	require.NoError(t, s.Rollback(res))
	assert.Equal(t, uint32(1), c.Used())
	assert.ErrorIs(t, s.Rollback(Reservation{Chunk: 0, Row: 5}), ErrNotLastReservation)
}

func TestLockFreezesWorkingChunk(t *testing.T) {
	s, _ := newTestStore(t, 3)
	insert(t, s, 1)

	s.Lock()
	assert.True(t, s.Locked())
	res := insert(t, s, 2)
	assert.Equal(t, 1, res.Chunk, "locked store opens a new working chunk")
	res = insert(t, s, 3)
	assert.Equal(t, 1, res.Chunk, "the new chunk is not frozen")
	s.Unlock()

	assert.False(t, s.Locked())
	c0, _ := s.Chunk(0)
	assert.Equal(t, uint32(1), c0.Used())
}

func TestUnbalancedUnlockIsClamped(t *testing.T) {
	s, logs := newTestStore(t, 3)
	s.Unlock()
	assert.False(t, s.Locked())
	assert.Equal(t, 1, logs.FilterMessage("chunk store unlocked more often than locked").Len())
	s.Lock()
	assert.True(t, s.Locked())
}

func TestRemoveEmptyChunksAndReuseSlots(t *testing.T) {
	s, _ := newTestStore(t, 1)
	for v := uint32(0); v < 6; v++ {
		insert(t, s, v)
	}
	require.Equal(t, 2, s.ChunkCount())
	// empty chunk 0
	s.RemoveFromChunk(0, 1, testLayout)
	s.RemoveFromChunk(0, 0, testLayout)

	assert.Equal(t, 1, s.RemoveEmptyChunks())
	assert.Len(t, s.Chunks(), 1)
	c1, _ := s.Chunk(1)
	assert.Equal(t, uint32(4), c1.Used())

	// chunk 1 is full, so the released inline slot is reused
	res := insert(t, s, 42)
	assert.Equal(t, 0, res.Chunk)
}

func TestCopyComponentSizes(t *testing.T) {
	for _, size := range []int{0, 1, 2, 4, 8, 16, 24} {
		src := make([]byte, size)
		for i := range src {
			src[i] = byte(i + 1)
		}
		dst := make([]byte, size)
		copyComponent(dst, src)
		assert.Equal(t, src, dst, "size %d", size)
	}
}

func TestFreedRowsRefilledBeforeNewChunk(t *testing.T) {
	s, _ := newTestStore(t, 1)
	for v := uint32(0); v < 6; v++ {
		insert(t, s, v)
	}
	require.Equal(t, 2, s.ChunkCount())
	s.RemoveFromChunk(0, 0, testLayout)

	res := insert(t, s, 7)
	assert.Equal(t, Reservation{Chunk: 0, Row: 1}, res)
	assert.Equal(t, 2, s.ChunkCount())
	assert.Equal(t, uint32(6), s.TotalCapacity())
}
