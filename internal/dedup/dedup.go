package dedup

import (
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// Cache remembers recently seen message fingerprints so that QoS-1
// redeliveries can be skipped before they reach the pipeline. Entries are
// evicted by the underlying ARC once the capacity is reached.
type Cache struct {
	arc *lru.ARCCache
}

func New(size int) (*Cache, error) {
	arc, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &Cache{arc: arc}, nil
}

// CheckAndMark reports whether the topic/payload pair was already seen and
// marks it as seen either way.
func (c *Cache) CheckAndMark(topic string, payload []byte) bool {
	key := string(AsXXHash([]byte(topic), payload))
	_, seen := c.arc.Get(key)
	if !seen {
		c.arc.Add(key, true)
	}
	return seen
}

// AsXXHash returns the XXHash128 of the given data.
// This hash is extremely fast and reasonable for use as a key in a cache.
// https://cyan4973.github.io/xxHash/
func AsXXHash(inputs ...[]byte) []byte {
	h := xxh3.New()
	for _, input := range inputs {
		_, err := h.Write(input)
		if err != nil {
			zap.S().Errorf("Unable to write to hash: %v", err)
		}
	}

	return uint128ToBytes(h.Sum128())
}

func uint128ToBytes(a xxh3.Uint128) (b []byte) {
	b = make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], a.Lo)
	binary.LittleEndian.PutUint64(b[8:16], a.Hi)
	return
}
