package graph

import "strings"

type visibility bool

const (
	visPrivate visibility = false
	visPublic  visibility = true
)

type arenaKey struct {
	text string
	vis  visibility
}

// entityArena maps the entities of one document to the node ids minted for
// them. It lives for a single IngestDocument call.
type entityArena struct {
	ids map[arenaKey]string
}

func newEntityArena() *entityArena {
	return &entityArena{ids: make(map[arenaKey]string)}
}

func normalizeMention(text string) string {
	return strings.TrimSpace(text)
}

func (a *entityArena) get(text string, vis visibility) (string, bool) {
	id, ok := a.ids[arenaKey{normalizeMention(text), vis}]
	return id, ok
}

func (a *entityArena) put(text string, vis visibility, id string) {
	a.ids[arenaKey{normalizeMention(text), vis}] = id
}

// resolve finds the node for a relation endpoint. Public relations only see
// public entries. Private relations prefer private entries and fall back to
// public ones from the same document.
func (a *entityArena) resolve(text string, vis visibility) (string, bool) {
	if id, ok := a.get(text, vis); ok {
		return id, true
	}
	if vis == visPrivate {
		return a.get(text, visPublic)
	}
	return "", false
}
