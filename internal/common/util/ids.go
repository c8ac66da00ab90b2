package util

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

var entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
var m sync.Mutex

func NewULID() string {
	m.Lock()
	defer m.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}

func NewUUID() string {
	return uuid.New().String()
}

// IdGenerator produces unique identifiers. Bucket splitting and queues take one so that
// tests can make their output deterministic.
type IdGenerator interface {
	Generate() string
}

type ULIDGenerator struct{}

func (ULIDGenerator) Generate() string {
	return NewULID()
}

// SequentialIdGenerator yields prefix-1, prefix-2, ...
type SequentialIdGenerator struct {
	mu     sync.Mutex
	Prefix string
	next   int
}

func (g *SequentialIdGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%d", g.Prefix, g.next)
}

// FixedIdGenerator always returns Value.
type FixedIdGenerator struct {
	Value string
}

func (g FixedIdGenerator) Generate() string {
	return g.Value
}
