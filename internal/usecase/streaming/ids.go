package streaming

import (
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"deltastream/internal/domain"
)

// streamIDs is shared by every Manager in the process, so ids from separate
// managers never collide and still sort in launch order.
var streamIDs = newIDSource()

// idSource mints StreamIDs from one monotonic entropy source, so ids minted
// in the same millisecond still differ and sort in launch order.
type idSource struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *idSource) next() domain.StreamID {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		ms := ulid.Now()
		id, err := ulid.New(ms, s.entropy)
		if err == nil {
			return domain.StreamID(id.String())
		}
		if !errors.Is(err, ulid.ErrMonotonicOverflow) {
			return domain.StreamID(ulid.Make().String())
		}
		// This millisecond's entropy is spent; the next one reseeds it.
		for ulid.Now() == ms {
			time.Sleep(100 * time.Microsecond)
		}
	}
}
