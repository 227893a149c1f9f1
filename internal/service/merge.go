package service

import (
	"fmt"
	"strings"

	"github.com/Harshitk-cp/credence/internal/canon"
	"github.com/Harshitk-cp/credence/internal/domain"
)

// MergeMeta summarizes what a merge changed.
type MergeMeta struct {
	// Added lists the IDs of entries or nodes appended to the base set, in
	// the order they were appended.
	Added []string `json:"added,omitempty"`
	// Renamed maps original incoming IDs to the IDs they were stored under
	// after a collision rename.
	Renamed map[string]string `json:"renamed,omitempty"`
	// Skipped counts incoming items whose payload already existed.
	Skipped int `json:"skipped"`
	// Messages counts messages appended to conversation nodes that existed
	// on both sides. Zero for graph merges.
	Messages int `json:"messages,omitempty"`
}

// MergeGraphs combines two trust graphs. Base entries always survive
// unchanged. Incoming entries are processed in order: an unseen ID is
// appended, an ID whose payload already exists is skipped, and an ID that
// exists with a different payload is renamed with a content-hash suffix
// (then numeric suffixes if that is also taken) so both versions survive.
// The result is deterministic for a given (base, incoming) pair, and
// re-merging the same incoming set adds nothing.
//
// References inside operator entries are not rewritten: a renamed entry
// keeps its payload intact under the new ID, and anything that referred to
// the old ID continues to resolve against the base entry that kept it.
// Callers that care can inspect Renamed.
func MergeGraphs(base, incoming []domain.TrustEntry) ([]domain.TrustEntry, *MergeMeta) {
	out := make([]domain.TrustEntry, 0, len(base)+len(incoming))
	index := make(map[string]int, len(base))
	for _, e := range base {
		index[e.ID] = len(out)
		out = append(out, e)
	}

	meta := &MergeMeta{}
	for _, e := range incoming {
		if e.ID == "" {
			canon.Finalize(&e)
		}

		if i, collides := index[e.ID]; collides {
			if out[i].PayloadEqual(&e) {
				meta.Skipped++
				continue
			}
			orig := e.ID
			renamed, dup := renameForCollision(out, index, e)
			if dup {
				meta.Skipped++
				continue
			}
			e = renamed
			if meta.Renamed == nil {
				meta.Renamed = make(map[string]string)
			}
			meta.Renamed[orig] = e.ID
		}

		index[e.ID] = len(out)
		out = append(out, e)
		meta.Added = append(meta.Added, e.ID)
	}
	return out, meta
}

// renameForCollision picks a fresh deterministic ID for an entry whose ID is
// taken by a different payload: first the 8-hex hash of the incoming content,
// then numeric suffixes on top of that. If a candidate lands on an entry with
// an equal payload the incoming entry is a re-import of an earlier rename,
// and dup is true.
func renameForCollision(out []domain.TrustEntry, index map[string]int, e domain.TrustEntry) (renamed domain.TrustEntry, dup bool) {
	stem := e.ID + "-" + canon.ShortHash(e.Content)
	e.ID = stem
	canon.Rebuild(&e)
	for n := 2; ; n++ {
		i, taken := index[e.ID]
		if !taken {
			return e, false
		}
		if out[i].PayloadEqual(&e) {
			return e, true
		}
		e.ID = fmt.Sprintf("%s-%d", stem, n)
		canon.Rebuild(&e)
	}
}

// MergeTrees combines two conversation forests into one flat node list,
// suitable for domain.LinkChildren. Nodes match by ID: an unseen node is
// appended with its parent link intact (it attaches under the existing
// parent at link time, or becomes a root if the parent is absent), while a
// node present on both sides keeps the base version and gains any incoming
// messages it did not already have. Re-merging the same incoming forest
// changes nothing.
func MergeTrees(base, incoming []domain.Conversation) ([]domain.Conversation, *MergeMeta) {
	out := make([]domain.Conversation, 0, len(base)+len(incoming))
	index := make(map[string]int, len(base))
	for _, c := range base {
		c.Children = nil
		c.Messages = append([]domain.Message(nil), c.Messages...)
		index[c.ID] = len(out)
		out = append(out, c)
	}

	meta := &MergeMeta{}
	for _, c := range incoming {
		if i, ok := index[c.ID]; ok {
			added := mergeMessages(&out[i], c.Messages)
			if added == 0 {
				meta.Skipped++
			}
			meta.Messages += added
			continue
		}
		c.Children = nil
		c.Messages = append([]domain.Message(nil), c.Messages...)
		index[c.ID] = len(out)
		out = append(out, c)
		meta.Added = append(meta.Added, c.ID)
	}
	return out, meta
}

// mergeMessages appends the messages dst does not already hold, preserving
// incoming order, and reports how many were added.
func mergeMessages(dst *domain.Conversation, msgs []domain.Message) int {
	seen := make(map[string]bool, len(dst.Messages))
	for _, m := range dst.Messages {
		seen[messageKey(m)] = true
	}
	added := 0
	for _, m := range msgs {
		k := messageKey(m)
		if seen[k] {
			continue
		}
		seen[k] = true
		dst.Messages = append(dst.Messages, m)
		added++
	}
	return added
}

// messageKey identifies a message for dedup. Messages normally carry IDs;
// for imported ones that do not, the role, author, timestamp and content
// stand in so re-imports stay idempotent.
func messageKey(m domain.Message) string {
	if m.ID != "" {
		return m.ID
	}
	return strings.Join([]string{
		m.Role,
		m.Username,
		m.Time.UTC().Format("2006-01-02T15:04:05.999999999Z"),
		m.Content,
	}, "\x00")
}
