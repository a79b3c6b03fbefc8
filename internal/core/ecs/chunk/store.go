package chunk

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zeusync/ecscore/internal/core/observability/log"
)

const (
	MaxCapacityBits     = 16
	DefaultInitialBits  = 4
	MaxChunksPerStore   = 1 << 16
	noWorkingChunk      = -1
	firstChunkID        = 0
	defaultRestCapacity = 4
)

var (
	ErrChunkInUse         = errors.New("chunk still holds live rows")
	ErrUnknownChunk       = errors.New("unknown chunk")
	ErrTooManyChunks      = errors.New("too many chunks")
	ErrNotLastReservation = errors.New("reservation is not the last row of its chunk")
	ErrRowOutOfRange      = errors.New("row out of range")
)

// Reservation is a reserved row that still has to be committed with
// Allocated or returned with Rollback.
type Reservation struct {
	Chunk int
	Row   uint32
}

// Store owns the chunks of one archetype. The first chunk lives inline in the
// store; every later chunk is kept behind a pointer so that growing the list
// never moves a chunk under a reader.
type Store struct {
	mu       sync.Mutex
	first    Chunk
	hasFirst bool
	rest     []*Chunk
	working  int

	// chunks with id < frozen take no appends while the store is locked
	frozen    int
	lockDepth int

	initialBits uint8
	highBits    uint8

	totalUsed     atomic.Uint32
	totalCapacity atomic.Uint32

	log log.Log
}

func NewStore(logger log.Log, initialBits uint8) *Store {
	if initialBits == 0 || initialBits > MaxCapacityBits {
		initialBits = DefaultInitialBits
	}
	return &Store{
		working:     noWorkingChunk,
		initialBits: initialBits,
		highBits:    initialBits,
		rest:        make([]*Chunk, 0, defaultRestCapacity),
		log:         logger,
	}
}

func (s *Store) chunk(id int) *Chunk {
	if id == firstChunkID {
		if !s.hasFirst {
			return nil
		}
		return &s.first
	}
	if id < 0 || id-1 >= len(s.rest) {
		return nil
	}
	return s.rest[id-1]
}

func (s *Store) count() int {
	if !s.hasFirst {
		return 0
	}
	return 1 + len(s.rest)
}

// AllocateChunk opens a chunk for entities of the given stride and returns its id.
// capacityBits is clamped into [initialBits, MaxCapacityBits].
func (s *Store) AllocateChunk(stride uint32, capacityBits uint8) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocateChunkLocked(stride, capacityBits)
}

func (s *Store) allocateChunkLocked(stride uint32, capacityBits uint8) (int, error) {
	capacityBits = max(capacityBits, s.initialBits)
	capacityBits = min(capacityBits, MaxCapacityBits)
	if capacityBits > s.highBits {
		s.highBits = capacityBits
	}

	c := Chunk{
		data:         make([]byte, int(stride)<<capacityBits),
		capacityBits: capacityBits,
	}
	s.totalCapacity.Add(1 << capacityBits)

	if !s.hasFirst {
		s.first = c
		s.hasFirst = true
		return firstChunkID, nil
	}
	// reuse a released slot beyond the frozen range before growing the list
	if s.first.Released() && s.frozen == 0 {
		s.first = c
		return firstChunkID, nil
	}
	for i, rc := range s.rest {
		if rc.Released() && i+1 >= s.frozen {
			*rc = c
			return i + 1, nil
		}
	}
	if s.count() >= MaxChunksPerStore {
		s.totalCapacity.Add(^uint32(1<<capacityBits - 1))
		return noWorkingChunk, ErrTooManyChunks
	}
	s.rest = append(s.rest, &c)
	return len(s.rest), nil
}

// nextBits picks the capacity of the next chunk: the first chunk starts small,
// every further one doubles the high-water mark.
func (s *Store) nextBits() uint8 {
	if !s.hasFirst {
		return s.initialBits
	}
	return min(s.highBits+1, MaxCapacityBits)
}

// AllocateEmpty reserves a row, appending to the working chunk when it has room
// and is not frozen by Lock. Otherwise another unfrozen chunk with room becomes
// the working chunk, or a new one is opened.
func (s *Store) AllocateEmpty(stride uint32) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.working == noWorkingChunk || s.working < s.frozen || !s.hasRoom(s.working) {
		s.working = s.firstWithRoom()
	}
	if s.working != noWorkingChunk {
		c := s.chunk(s.working)
		row := c.used
		c.used++
		return Reservation{Chunk: s.working, Row: row}, nil
	}

	id, err := s.allocateChunkLocked(stride, s.nextBits())
	if err != nil {
		s.log.Error("failed to open chunk", log.Int("chunks", s.count()), log.Error(err))
		return Reservation{Chunk: noWorkingChunk}, err
	}
	s.working = id
	c := s.chunk(id)
	c.used = 1
	return Reservation{Chunk: id, Row: 0}, nil
}

func (s *Store) hasRoom(id int) bool {
	c := s.chunk(id)
	return c != nil && !c.Released() && c.used < c.Capacity()
}

// firstWithRoom finds the lowest unfrozen chunk that can take a row, so rows
// freed by removals are refilled before a new chunk is opened.
func (s *Store) firstWithRoom() int {
	for id := s.frozen; id < s.count(); id++ {
		if s.hasRoom(id) {
			return id
		}
	}
	return noWorkingChunk
}

// Allocated commits a reservation.
func (s *Store) Allocated(Reservation) {
	s.totalUsed.Add(1)
}

// Rollback returns a reserved row that was never committed.
func (s *Store) Rollback(res Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chunk(res.Chunk)
	if c == nil {
		return ErrUnknownChunk
	}
	if c.used == 0 || res.Row != c.used-1 {
		s.log.Error("rollback of a reservation that is not the last row",
			log.Int("chunk", res.Chunk),
			log.Uint32("row", res.Row),
			log.Uint32("used", c.used))
		return ErrNotLastReservation
	}
	c.used--
	return nil
}

// AddToChunk copies a packed entity blob into its columns at row.
func (s *Store) AddToChunk(chunkID int, row uint32, l Layout, src []byte) error {
	c := s.chunk(chunkID)
	if c == nil {
		return ErrUnknownChunk
	}
	if row >= c.used {
		return ErrRowOutOfRange
	}
	for col := range l.Sizes {
		if l.Sizes[col] == 0 {
			continue
		}
		copyComponent(c.Cell(l, col, row), l.Field(src, col))
	}
	return nil
}

// RemoveFromChunk frees row by moving the chunk's last live row into it.
// When a row moved, its previous index is returned so the caller can fix up
// the one entity that now lives at row.
func (s *Store) RemoveFromChunk(chunkID int, row uint32, l Layout) (movedFrom uint32, moved bool) {
	c := s.chunk(chunkID)
	if c == nil || row >= c.used {
		s.log.Error("remove of a row that is not live",
			log.Int("chunk", chunkID),
			log.Uint32("row", row))
		return 0, false
	}
	c.used--
	s.totalUsed.Add(^uint32(0))
	last := c.used
	for col := range l.Sizes {
		if l.Sizes[col] == 0 {
			continue
		}
		vacated := c.Cell(l, col, last)
		if row != last {
			copyComponent(c.Cell(l, col, row), vacated)
		}
		clear(vacated)
	}
	if row == last {
		return 0, false
	}
	return last, true
}

// RemoveChunk releases an empty chunk. Live data is never discarded.
func (s *Store) RemoveChunk(chunkID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeChunkLocked(chunkID)
}

func (s *Store) removeChunkLocked(chunkID int) error {
	c := s.chunk(chunkID)
	if c == nil {
		return ErrUnknownChunk
	}
	if c.used != 0 {
		s.log.Error("refusing to remove a chunk with live rows",
			log.Int("chunk", chunkID),
			log.Uint32("used", c.used))
		return ErrChunkInUse
	}
	if c.Released() {
		return nil
	}
	s.totalCapacity.Add(^uint32(c.Capacity() - 1))
	c.data = nil
	if s.working == chunkID {
		s.working = noWorkingChunk
	}
	for len(s.rest) > 0 && s.rest[len(s.rest)-1].Released() {
		s.rest = s.rest[:len(s.rest)-1]
	}
	return nil
}

// RemoveEmptyChunks releases every empty chunk and returns how many were freed.
func (s *Store) RemoveEmptyChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockDepth > 0 {
		return 0
	}
	freed := 0
	for id := s.count() - 1; id >= 0; id-- {
		c := s.chunk(id)
		if c == nil || c.Released() || c.used != 0 {
			continue
		}
		if s.removeChunkLocked(id) == nil {
			freed++
		}
	}
	return freed
}

// Lock freezes the chunks that exist right now: appends go to a fresh chunk
// until the matching Unlock, so readers scanning the frozen tails never race
// with writers.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockDepth == 0 {
		s.frozen = s.count()
	}
	s.lockDepth++
}

func (s *Store) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockDepth--
	if s.lockDepth < 0 {
		s.log.Error("chunk store unlocked more often than locked")
		s.lockDepth = 0
	}
	if s.lockDepth == 0 {
		s.frozen = 0
	}
}

func (s *Store) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockDepth > 0
}

// Chunk returns the chunk with the given id.
func (s *Store) Chunk(id int) (*Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chunk(id)
	return c, c != nil
}

func (s *Store) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count()
}

// Chunks returns a snapshot of the live chunk list; released chunks are skipped.
func (s *Store) Chunks() []*Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Chunk, 0, s.count())
	for id := 0; id < s.count(); id++ {
		if c := s.chunk(id); !c.Released() {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) TotalUsed() uint32 {
	return s.totalUsed.Load()
}

func (s *Store) TotalCapacity() uint32 {
	return s.totalCapacity.Load()
}

func (s *Store) HighBits() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highBits
}

// Bytes reports the memory held by all chunks.
func (s *Store) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for id := 0; id < s.count(); id++ {
		total += s.chunk(id).Bytes()
	}
	return total
}
