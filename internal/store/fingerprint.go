package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/me/prodgraph/pkg/model"
)

// Fingerprint derives the storage key of a node result from the rule that
// computes it, the node identity and the encoded values of its inputs.
//
// Every field is length-prefixed so that no two distinct field sequences hash
// the same bytes. Dependency order is significant.
func Fingerprint(rule, version string, key model.Key, deps ...[]byte) string {
	h := sha256.New()
	writeField(h, []byte(rule))
	writeField(h, []byte(version))
	writeField(h, []byte(key.Product))
	writeField(h, []byte(key.SubjectType()))
	writeField(h, []byte(fmt.Sprintf("%#v", key.Subject)))
	pairs := key.Variants.Pairs()
	writeCount(h, len(pairs))
	for _, p := range pairs {
		writeField(h, []byte(p.Name))
		writeField(h, []byte(p.Value))
	}

	writeCount(h, len(deps))
	for _, d := range deps {
		writeField(h, d)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, data []byte) {
	writeCount(h, len(data))
	h.Write(data)
}

func writeCount(h hash.Hash, n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	h.Write(b[:])
}
