// Package ids produces storage-safe identifiers for graph nodes and edges.
//
// Node keys are random and never derived from entity text, so two mentions
// of the same text in different documents never collide. Edge keys are a
// content hash of (source, relationship, target) so that re-creating the
// same logical edge is idempotent.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/scholargraph/pkg/common"

	"github.com/google/uuid"
)

// MaxKeyLen bounds the length of a key fragment in bytes.
const MaxKeyLen = 254

const forbiddenRunes = "/?#[]@!$&'()*+,;=`"

var ErrInvalidKey = errors.New("invalid key")

// NewNodeKey returns a 32 character lowercase hex key taken from a random
// UUID.
func NewNodeKey() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// NodeID joins a node type and key into the id used by the graph store.
func NodeID(t common.NodeType, key string) string {
	return string(t) + "/" + key
}

// NewNodeID is a shortcut for NodeID(t, NewNodeKey()).
func NewNodeID(t common.NodeType) string {
	return NodeID(t, NewNodeKey())
}

// SplitNodeID returns the type and key parts of a node id.
func SplitNodeID(id string) (common.NodeType, string, error) {
	t, key, ok := strings.Cut(id, "/")
	if !ok || key == "" {
		return "", "", fmt.Errorf("%w: node id %q has no collection", ErrInvalidKey, id)
	}
	nt := common.NodeType(t)
	if !nt.Valid() {
		return "", "", fmt.Errorf("%w: unknown collection %q", ErrInvalidKey, t)
	}
	if err := ValidateKey(key); err != nil {
		return "", "", err
	}
	return nt, key, nil
}

// EdgeID returns the deterministic id of the edge source -[relationship]-> target.
// Each field is length prefixed so that no choice of delimiter inside the
// inputs can make two different triples hash alike.
func EdgeID(sourceID, targetID, relationship string) string {
	h := sha256.New()
	for _, part := range []string{sourceID, relationship, targetID} {
		h.Write([]byte(strconv.Itoa(len(part))))
		h.Write([]byte{':'})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func isForbidden(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(forbiddenRunes, r)
}

// ValidateKey checks a key fragment against the storage key grammar.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > MaxKeyLen {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidKey, len(key), MaxKeyLen)
	}
	if strings.HasPrefix(key, "_") {
		return fmt.Errorf("%w: leading underscore in %q", ErrInvalidKey, key)
	}
	if i := strings.IndexFunc(key, isForbidden); i >= 0 {
		return fmt.Errorf("%w: forbidden character %q in %q", ErrInvalidKey, key[i], key)
	}
	return nil
}

// SanitizeKey rewrites a fragment so that it passes ValidateKey. Forbidden
// characters become '-', leading underscores are dropped and the result is
// cut to MaxKeyLen bytes on a rune boundary. A fragment with nothing left
// is replaced by a fresh random key.
func SanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToValidUTF8(key, "") {
		if isForbidden(r) {
			b.WriteByte('-')
			continue
		}
		b.WriteRune(r)
	}

	out := strings.TrimLeft(b.String(), "_")
	if len(out) > MaxKeyLen {
		cut := MaxKeyLen
		for cut > 0 && !utf8RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	if out == "" {
		return NewNodeKey()
	}
	return out
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
