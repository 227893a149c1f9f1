// Package canon normalizes arbitrary trust-entry input into the canonical
// self-describing fragment form. The fragment is the source of truth for an
// entry; envelope fields are derived from its attributes, and identity is
// content-addressed so identical payloads always canonicalize to the same ID.
package canon

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/Harshitk-cp/credence/internal/domain"
)

var (
	ErrBadArity     = errors.New("operator child count out of bounds")
	ErrMissingAttr  = errors.New("missing required attribute")
	ErrBadCertainty = errors.New("certainty is not a number")
)

// Options control strictness and the fallback timestamp.
type Options struct {
	// Strict raises validation errors for malformed structure. The default
	// (load-time) mode repairs by defaulting instead.
	Strict bool
	// Now supplies the timestamp for fragments that carry none. Zero means
	// time.Now().
	Now time.Time
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now().UTC()
	}
	return o.Now.UTC()
}

// Canonicalize turns raw input into a canonical trust entry. The root tag
// decides the kind before any fallback: input that is not well-formed markup,
// or whose root tag is not a recognized kind, is escaped and wrapped as a
// plain fact. Unparseable input is therefore never an error; the worst case
// is an escaped-text fact.
func Canonicalize(raw string, opts Options) (*domain.TrustEntry, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(raw); err == nil {
		if root := doc.Root(); root != nil && domain.ValidEntryKind(root.Tag) {
			return fromFragment(root, opts)
		}
	}
	e := &domain.TrustEntry{
		Kind: domain.KindFact,
		Text: normText(raw),
		Time: opts.now(),
	}
	finalize(e)
	return e, nil
}

// ParseTable parses a trust-table document: a wrapper element holding any
// number of entry fragments. A table is structured input, so unlike
// Canonicalize it does error on malformed markup; wrapper children with an
// unrecognized tag are skipped. A document whose root is itself a single
// entry fragment is accepted as a one-entry table.
func ParseTable(raw string, opts Options) ([]*domain.TrustEntry, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(raw); err != nil {
		return nil, fmt.Errorf("parse trust table: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("parse trust table: document has no root element")
	}

	if domain.ValidEntryKind(root.Tag) {
		e, err := fromFragment(root, opts)
		if err != nil {
			return nil, err
		}
		return []*domain.TrustEntry{e}, nil
	}

	var out []*domain.TrustEntry
	for _, child := range root.ChildElements() {
		if !domain.ValidEntryKind(child.Tag) {
			continue
		}
		e, err := fromFragment(child, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Finalize fills in the canonical content and, when the ID is empty, the
// content-addressed ID for a programmatically built entry. Certainty is
// clamped and the timestamp defaulted first, so the result always satisfies
// the envelope/content sync invariant.
func Finalize(e *domain.TrustEntry) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	finalize(e)
}

// Rebuild re-serializes canonical content after an envelope mutation (ID
// rename, certainty rescale), keeping fragment attributes in sync.
func Rebuild(e *domain.TrustEntry) {
	e.Certainty = domain.ClampCertainty(e.Certainty)
	e.Content = buildFragment(e, true)
}

func finalize(e *domain.TrustEntry) {
	e.Title = normText(e.Title)
	e.Text = normText(e.Text)
	e.Certainty = domain.ClampCertainty(e.Certainty)
	e.Time = e.Time.UTC()
	if e.ID == "" {
		e.ID = DeriveID(e.Title, e.Time, e.Certainty, buildFragment(e, false))
	}
	e.Content = buildFragment(e, true)
}

func fromFragment(root *etree.Element, opts Options) (*domain.TrustEntry, error) {
	e := &domain.TrustEntry{
		Kind:  domain.EntryKind(root.Tag),
		ID:    strings.TrimSpace(root.SelectAttrValue("id", "")),
		Title: normText(root.SelectAttrValue("title", "")),
	}

	rawCert := strings.TrimSpace(root.SelectAttrValue("certainty", ""))
	if rawCert != "" {
		c, err := strconv.ParseFloat(rawCert, 64)
		if err != nil {
			if opts.Strict {
				return nil, fmt.Errorf("%w: %q", ErrBadCertainty, rawCert)
			}
			c = 0
		}
		e.Certainty = domain.ClampCertainty(c)
	}

	if rawTime := strings.TrimSpace(root.SelectAttrValue("time", "")); rawTime != "" {
		if at, err := time.Parse(time.RFC3339Nano, rawTime); err == nil {
			e.Time = at.UTC()
		}
	}
	if e.Time.IsZero() {
		e.Time = opts.now()
	}

	switch {
	case e.Kind.Operator():
		for _, ref := range root.ChildElements() {
			if ref.Tag != "ref" {
				continue
			}
			if id := strings.TrimSpace(ref.SelectAttrValue("id", "")); id != "" {
				e.Children = append(e.Children, id)
			}
		}
		if opts.Strict {
			min, max := e.Kind.ChildBounds()
			if len(e.Children) < min || (max >= 0 && len(e.Children) > max) {
				return nil, fmt.Errorf("%w: %s with %d children", ErrBadArity, e.Kind, len(e.Children))
			}
		}
	case e.Kind == domain.KindProvider:
		e.Provider = &domain.ProviderSpec{
			Name:     strings.TrimSpace(root.SelectAttrValue("name", "")),
			Endpoint: strings.TrimSpace(root.SelectAttrValue("endpoint", "")),
			Model:    strings.TrimSpace(root.SelectAttrValue("model", "")),
			KeyRef:   strings.TrimSpace(root.SelectAttrValue("key", "")),
			TruthURL: strings.TrimSpace(root.SelectAttrValue("truth_url", "")),
		}
		if v := strings.TrimSpace(root.SelectAttrValue("timeout", "")); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
				e.Provider.TimeoutSeconds = secs
			}
		}
		if v := strings.TrimSpace(root.SelectAttrValue("prelim", "")); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				e.Provider.Prelim = b
			}
		}
		if opts.Strict && e.Provider.Name == "" {
			return nil, fmt.Errorf("%w: provider name", ErrMissingAttr)
		}
	case e.Kind == domain.KindAuthority:
		e.Authority = &domain.AuthoritySpec{
			Target: strings.TrimSpace(root.SelectAttrValue("url", "")),
			ORCID:  strings.TrimSpace(root.SelectAttrValue("orcid", "")),
		}
		if v := strings.TrimSpace(root.SelectAttrValue("refresh", "")); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
				e.Authority.RefreshSeconds = secs
			}
		}
		if opts.Strict && e.Authority.Target == "" {
			return nil, fmt.Errorf("%w: authority url", ErrMissingAttr)
		}
	default:
		e.Text = normText(innerText(root))
		e.Source = strings.TrimSpace(root.SelectAttrValue("source", ""))
		if e.Kind == domain.KindReference {
			e.Href = strings.TrimSpace(root.SelectAttrValue("href", ""))
		}
	}

	finalize(e)
	return e, nil
}

// buildFragment renders the canonical fragment. Attribute order is fixed:
// id, certainty, title, time, then kind-specific attributes alphabetically.
// withID=false produces the ID-free form hashed for content addressing.
func buildFragment(e *domain.TrustEntry, withID bool) string {
	el := etree.NewElement(string(e.Kind))
	if withID && e.ID != "" {
		el.CreateAttr("id", e.ID)
	}
	el.CreateAttr("certainty", formatFloat(e.Certainty))
	if e.Title != "" {
		el.CreateAttr("title", e.Title)
	}
	el.CreateAttr("time", e.Time.UTC().Format(time.RFC3339Nano))

	switch {
	case e.Kind.Operator():
		for _, id := range e.Children {
			el.CreateElement("ref").CreateAttr("id", id)
		}
	case e.Kind == domain.KindProvider:
		if p := e.Provider; p != nil {
			if p.Endpoint != "" {
				el.CreateAttr("endpoint", p.Endpoint)
			}
			if p.KeyRef != "" {
				el.CreateAttr("key", p.KeyRef)
			}
			if p.Model != "" {
				el.CreateAttr("model", p.Model)
			}
			el.CreateAttr("name", p.Name)
			if p.Prelim {
				el.CreateAttr("prelim", "true")
			}
			if p.TimeoutSeconds > 0 {
				el.CreateAttr("timeout", formatFloat(p.TimeoutSeconds))
			}
			if p.TruthURL != "" {
				el.CreateAttr("truth_url", p.TruthURL)
			}
		}
	case e.Kind == domain.KindAuthority:
		if a := e.Authority; a != nil {
			if a.ORCID != "" {
				el.CreateAttr("orcid", a.ORCID)
			}
			if a.RefreshSeconds > 0 {
				el.CreateAttr("refresh", formatFloat(a.RefreshSeconds))
			}
			if a.Target != "" {
				el.CreateAttr("url", a.Target)
			}
		}
	default:
		if e.Kind == domain.KindReference && e.Href != "" {
			el.CreateAttr("href", e.Href)
		}
		if e.Source != "" {
			el.CreateAttr("source", e.Source)
		}
		if e.Text != "" {
			el.SetText(e.Text)
		}
	}

	doc := etree.NewDocument()
	doc.SetRoot(el)
	doc.WriteSettings = etree.WriteSettings{CanonicalText: true, CanonicalAttrVal: true}
	s, _ := doc.WriteToString()
	return strings.TrimRight(s, "\n")
}

// innerText flattens all character data under el, dropping any nested markup.
func innerText(el *etree.Element) string {
	var b strings.Builder
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			b.WriteString(t.Data)
		case *etree.Element:
			b.WriteString(" ")
			b.WriteString(innerText(t))
		}
	}
	return b.String()
}

// normText collapses whitespace runs to single spaces and trims the ends.
func normText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
