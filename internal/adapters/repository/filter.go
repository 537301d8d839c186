package repository

import "sort"

// KeyID matches the document id instead of a field.
const KeyID = "__id"

// ScopeField is the field stores may index to narrow per-event queries.
const ScopeField = "eventId"

// Filter is a conjunction of field equalities. An empty filter matches all.
type Filter map[string]any

// Matches reports whether doc satisfies every clause.
func (f Filter) Matches(doc Document) bool {
	for k, want := range f {
		if k == KeyID {
			if id, _ := want.(string); id != doc.ID {
				return false
			}
			continue
		}
		if !equalValue(doc.Fields[k], want) {
			return false
		}
	}
	return true
}

// ID returns the KeyID clause, if any.
func (f Filter) ID() (string, bool) {
	id, ok := f[KeyID].(string)
	return id, ok
}

// Scope returns the ScopeField clause, if any.
func (f Filter) Scope() (string, bool) {
	s, ok := f[ScopeField].(string)
	return s, ok
}

// SortBySeq orders docs by insertion.
func SortBySeq(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].Seq < docs[j].Seq })
}

func equalValue(got, want any) bool {
	if gn, ok := toInt64(got); ok {
		wn, ok := toInt64(want)
		return ok && gn == wn
	}
	switch g := got.(type) {
	case string:
		w, ok := want.(string)
		return ok && g == w
	case bool:
		w, ok := want.(bool)
		return ok && g == w
	case nil:
		return want == nil
	default:
		return false
	}
}
