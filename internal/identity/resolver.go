package identity

import (
	"fmt"
	"strings"
	"sync"

	"picture-export/internal/source"
)

// Sequence is a batch-scoped counter handing out zero-padded values.
type Sequence struct {
	mu      sync.Mutex
	counter int
}

// Next returns the next counter value, starting at 000001.
func (s *Sequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return fmt.Sprintf("%06d", s.counter)
}

// Resolver picks the canonical identifier of a record. One Resolver belongs
// to one batch; its sequence counter is not shared across runs.
type Resolver struct {
	mu        sync.Mutex
	mode      Mode
	generator Generator
	sequence  Sequence
	stats     Stats
}

// Stats counts resolutions by outcome.
type Stats struct {
	SOP       int
	Persisted int
	Generated int
	Sequence  int
}

// NewResolver creates a resolver. A nil generator uses RandomGenerator.
func NewResolver(mode Mode, gen Generator) *Resolver {
	if gen == nil {
		gen = RandomGenerator{}
	}
	return &Resolver{mode: mode, generator: gen}
}

// Mode returns the resolver's identity mode.
func (r *Resolver) Mode() Mode {
	return r.mode
}

// Resolve returns the record's identity: its SOP Instance UID when present,
// else a previously persisted Picture UID, else a new Picture UID (or a
// sequence number when the mode does not generate).
func (r *Resolver) Resolve(rec *source.SourceRecord) (Identity, error) {
	if id, ok := Lookup(rec); ok {
		r.count(id)
		return id, nil
	}

	if !r.mode.Generates() {
		id := Identity{Kind: KindSequence, Value: r.sequence.Next()}
		r.count(id)
		return id, nil
	}

	uid, err := r.generator.NewPictureUID()
	if err != nil {
		return Identity{}, fmt.Errorf("could not generate picture UID: %w", err)
	}
	id := Identity{Kind: KindPictureUID, Value: uid, Generated: true}
	r.count(id)
	return id, nil
}

// Lookup returns the identity already carried by rec without generating or
// consuming a sequence number.
func Lookup(rec *source.SourceRecord) (Identity, bool) {
	if sop := strings.TrimSpace(rec.SOPInstanceUID()); sop != "" {
		return Identity{Kind: KindSOP, Value: sop}, true
	}
	if uid := strings.TrimSpace(rec.PictureUID); uid != "" {
		return Identity{Kind: KindPictureUID, Value: uid}, true
	}
	return Identity{}, false
}

func (r *Resolver) count(id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case id.Kind == KindSOP:
		r.stats.SOP++
	case id.Kind == KindSequence:
		r.stats.Sequence++
	case id.Generated:
		r.stats.Generated++
	default:
		r.stats.Persisted++
	}
}

// Stats returns resolution counts so far.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
