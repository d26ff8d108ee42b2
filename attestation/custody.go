package attestation

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/efsf/efsf-go/interfaces"
)

// AccessEvent is one entry in a chain of custody.
type AccessEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Accessor  string    `json:"accessor"`
	Action    string    `json:"action"`
}

// ChainOfCustody is an append-only, hash-chained log of access events.
// Events can never be removed or reordered; tamper evidence comes from
// replaying the chain with Verify.
type ChainOfCustody struct {
	CreatedAt time.Time
	CreatedBy string

	mu     sync.Mutex
	events []AccessEvent
	hashes []string
	clock  interfaces.Clock
}

// NewChainOfCustody opens an empty chain.
func NewChainOfCustody(createdBy string, clock interfaces.Clock) *ChainOfCustody {
	if clock == nil {
		clock = interfaces.SystemClock
	}
	return &ChainOfCustody{
		CreatedAt: clock.Now().UTC(),
		CreatedBy: createdBy,
		clock:     clock,
	}
}

// AddAccess appends an event and extends the hash chain.
func (c *ChainOfCustody) AddAccess(accessor, action string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	event := AccessEvent{
		Timestamp: c.clock.Now().UTC(),
		Accessor:  accessor,
		Action:    action,
	}
	c.events = append(c.events, event)
	c.hashes = append(c.hashes, chainLink(previousHash(c.hashes), event))
}

// Events returns a copy of the event log.
func (c *ChainOfCustody) Events() []AccessEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]AccessEvent, len(c.events))
	copy(out, c.events)
	return out
}

// HashChain returns a copy of the full hash chain.
func (c *ChainOfCustody) HashChain() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.hashes))
	copy(out, c.hashes)
	return out
}

// AccessCount returns the total number of recorded events.
func (c *ChainOfCustody) AccessCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Verify replays the chain and reports whether every stored hash matches
// its recomputation from the events.
func (c *ChainOfCustody) Verify() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.hashes) != len(c.events) {
		return false
	}
	prev := ""
	for i, event := range c.events {
		expected := chainLink(prev, event)
		if c.hashes[i] != expected {
			return false
		}
		prev = expected
	}
	return true
}

// Snapshot captures the chain for embedding in a certificate, keeping at
// most maxHashes of the newest hashes while retaining the full access
// count.
func (c *ChainOfCustody) Snapshot(maxHashes int) *CustodySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	tail := c.hashes
	if maxHashes >= 0 && len(tail) > maxHashes {
		tail = tail[len(tail)-maxHashes:]
	}
	hashes := make([]string, len(tail))
	copy(hashes, tail)

	return &CustodySnapshot{
		CreatedAt:   c.CreatedAt,
		CreatedBy:   c.CreatedBy,
		AccessCount: len(c.events),
		HashChain:   hashes,
	}
}

// CustodySnapshot is the bounded chain-of-custody form embedded in a
// destruction certificate.
type CustodySnapshot struct {
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
	AccessCount int       `json:"access_count"`
	HashChain   []string  `json:"hash_chain"`
}

// eventHash computes H(event) over the event's canonical string form.
func eventHash(e AccessEvent) []byte {
	h := sha256.New()
	h.Write([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{'|'})
	h.Write([]byte(e.Accessor))
	h.Write([]byte{'|'})
	h.Write([]byte(e.Action))
	return h.Sum(nil)
}

// chainLink computes hash[n] = H(hash[n-1] || H(event)); the first link
// is H(event) alone.
func chainLink(prevHex string, e AccessEvent) string {
	eh := eventHash(e)
	if prevHex == "" {
		return hex.EncodeToString(eh)
	}
	prev, err := hex.DecodeString(prevHex)
	if err != nil {
		// Hashes in the chain are always produced here; a decode failure
		// means the chain was mutated out-of-band.
		return ""
	}
	h := sha256.New()
	h.Write(prev)
	h.Write(eh)
	return hex.EncodeToString(h.Sum(nil))
}

func previousHash(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}
	return hashes[len(hashes)-1]
}
