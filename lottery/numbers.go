package lottery

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"
)

// numberSpace is the count of distinct 6-digit numbers.
const numberSpace = 1_000_000

// Rand is a goroutine-safe source for ticket numbers and draw shuffles.
type Rand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRand returns a Rand seeded from crypto/rand.
func NewRand() *Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic(fmt.Sprintf("lottery: seeding rand: %v", err))
	}
	return &Rand{rng: rand.New(rand.NewChaCha8(seed))}
}

// NewSeededRand returns a deterministic Rand. Intended for tests.
func NewSeededRand(seed uint64) *Rand {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:8], seed)
	return &Rand{rng: rand.New(rand.NewChaCha8(s))}
}

// Numbers returns n distinct zero-padded 6-digit ticket numbers.
func (r *Rand) Numbers(n int) ([]string, error) {
	if n < 0 || n > numberSpace {
		return nil, fmt.Errorf("cannot generate %d distinct %d-digit numbers", n, NumberWidth)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[int]struct{}, n)
	out := make([]string, 0, n)
	for len(out) < n {
		v := r.rng.IntN(numberSpace)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, FormatNumber(v))
	}
	return out, nil
}

// Pick returns k distinct tickets from pool using a Fisher-Yates shuffle.
// pool is not modified.
func (r *Rand) Pick(pool []Ticket, k int) []Ticket {
	shuffled := make([]Ticket, len(pool))
	copy(shuffled, pool)

	r.mu.Lock()
	r.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	r.mu.Unlock()

	if k > len(shuffled) {
		k = len(shuffled)
	}
	return shuffled[:k]
}

// FormatNumber renders v as a fixed-width ticket number.
func FormatNumber(v int) string {
	return fmt.Sprintf("%0*d", NumberWidth, v)
}

// ValidNumber reports whether s is a 6-digit ticket number.
func ValidNumber(s string) bool {
	if len(s) != NumberWidth {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
