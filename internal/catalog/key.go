package catalog

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/snapetech/tvcollector/internal/indexer"
)

// MaxKeyLen bounds channel keys, which double as file names.
const MaxKeyLen = 64

// Slug lowercases name, drops everything but ASCII letters, digits and
// whitespace, and joins the remaining words with single underscores.
func Slug(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			pendingSep = true
		}
	}
	return b.String()
}

// URLHash is a short stable hash of u.
func URLHash(u string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(u))[:8]
}

// DedupKey is the identity two entries must share to count as duplicates: the
// slug of a real display name, else a hash of the URL.
func DedupKey(e indexer.Entry) string {
	if !e.Meta.NameGenerated {
		if s := Slug(e.Meta.Name); s != "" {
			return s
		}
	}
	return "channel_" + URLHash(e.URL)
}

// keyAllocator hands out unique publication keys for one run.
type keyAllocator struct {
	used map[string]bool
}

func newKeyAllocator() *keyAllocator {
	return &keyAllocator{used: make(map[string]bool)}
}

// assign truncates key to MaxKeyLen and, if that collides with a key already
// handed out, appends the URL hash.
func (k *keyAllocator) assign(key, u string) string {
	if len(key) > MaxKeyLen {
		key = strings.TrimRight(key[:MaxKeyLen], "_")
	}
	if !k.used[key] {
		k.used[key] = true
		return key
	}
	base := key
	suffix := "_" + URLHash(u)
	if len(base)+len(suffix) > MaxKeyLen {
		base = strings.TrimRight(base[:MaxKeyLen-len(suffix)], "_")
	}
	key = base + suffix
	for i := 2; k.used[key]; i++ {
		key = fmt.Sprintf("%s%s_%d", base, suffix, i)
	}
	k.used[key] = true
	return key
}
