package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const tokenCacheSize = 1000

// TokenCounter provides accurate BPE token counts with a bounded cache,
// plus a fast word-based estimate for paths where calibration does not
// matter.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken

	mu    sync.Mutex
	cache map[string]int
	order []string
}

// NewTokenCounter creates a counter on the cl100k_base encoding. When the
// encoding cannot be loaded the counter runs on the estimate alone.
func NewTokenCounter() *TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Printf("token encoding unavailable, falling back to estimates: %v", err)
		enc = nil
	}
	return &TokenCounter{
		encoding: enc,
		cache:    make(map[string]int, tokenCacheSize),
	}
}

// Count returns the BPE token count of text. Results are memoized by
// content hash in an insertion-ordered map capped at 1000 entries; the
// oldest insertion is evicted first.
func (t *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if t.encoding == nil {
		return t.Estimate(text)
	}

	key := hashContent(text)

	t.mu.Lock()
	if count, ok := t.cache[key]; ok {
		t.mu.Unlock()
		return count
	}
	t.mu.Unlock()

	count := len(t.encoding.Encode(text, nil, nil))

	t.mu.Lock()
	if _, ok := t.cache[key]; !ok {
		if len(t.order) >= tokenCacheSize {
			oldest := t.order[0]
			t.order = t.order[1:]
			delete(t.cache, oldest)
		}
		t.cache[key] = count
		t.order = append(t.order, key)
	}
	t.mu.Unlock()

	return count
}

// Estimate returns ceil(whitespaceWordCount * 1.3).
func (t *TokenCounter) Estimate(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * 1.3))
}

func hashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}
