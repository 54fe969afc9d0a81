package naming

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// DefaultMaxProbe bounds the dedup suffix search.
const DefaultMaxProbe = 10000

// ErrNamingExhausted means no free stem was found within the probe bound.
var ErrNamingExhausted = errors.New("naming exhausted")

// Claims is the set of stems taken in one output directory: everything found
// on disk plus everything claimed during the run. Keys are case-folded so
// that case-insensitive filesystems cannot collide.
type Claims struct {
	mu    sync.Mutex
	names map[string]struct{}
}

// NewClaims returns an empty set.
func NewClaims() *Claims {
	return &Claims{names: make(map[string]struct{})}
}

// ScanDir returns the stems of the regular files in dir. A missing directory
// yields an empty set.
func ScanDir(dir string) (*Claims, error) {
	c := NewClaims()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("could not scan %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		c.add(StemOf(entry.Name()))
	}
	return c, nil
}

// StemOf strips the final extension from a file name.
func StemOf(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func key(stem string) string {
	return strings.ToLower(stem)
}

func (c *Claims) add(stem string) {
	c.names[key(stem)] = struct{}{}
}

// Add marks stem as taken.
func (c *Claims) Add(stem string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(stem)
}

// Has reports whether stem is taken.
func (c *Claims) Has(stem string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.names[key(stem)]
	return ok
}

// Len returns the number of taken stems.
func (c *Claims) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.names)
}

// Claim reserves base, or the first free base-2, base-3, ... up to
// base-maxProbe. The probe and the reservation happen under one lock, so
// concurrent callers never receive the same stem. When a suffix would push
// the stem past maxLen the base is shortened to make room.
func (c *Claims) Claim(base string, maxLen, maxProbe int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxStemLength
	}
	if maxProbe < 2 {
		maxProbe = DefaultMaxProbe
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, taken := c.names[key(base)]; !taken {
		c.add(base)
		return base, nil
	}
	for n := 2; n <= maxProbe; n++ {
		suffix := "-" + strconv.Itoa(n)
		candidate := truncate(base, maxLen-len(suffix)) + suffix
		if _, taken := c.names[key(candidate)]; taken {
			continue
		}
		c.add(candidate)
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %q has %d claimed variants", ErrNamingExhausted, base, maxProbe)
}
