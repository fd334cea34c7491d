package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Variants is an ordered set of name=value overrides attached to a node. It is
// stored in a canonical encoding so that it stays comparable and can be part
// of a map key.
type Variants struct {
	enc string
}

// Variant is a single name=value pair.
type Variant struct {
	Name  string
	Value string
}

// NewVariants builds a Variants set from pairs. Later pairs override earlier
// pairs with the same name.
func NewVariants(pairs ...Variant) Variants {
	if len(pairs) == 0 {
		return Variants{}
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		m[p.Name] = p.Value
	}
	return fromMap(m)
}

// ParseVariants parses the "k1=v1,k2=v2" form produced by String. Names and
// values holding separators must be double-quoted.
func ParseVariants(s string) (Variants, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Variants{}, nil
	}
	var pairs []Variant
	for rest := s; ; {
		name, r, err := scanVariantToken(rest)
		if err != nil {
			return Variants{}, err
		}
		if name == "" || r == "" || r[0] != '=' {
			return Variants{}, fmt.Errorf("invalid variant %q: want name=value", rest)
		}
		value, r, err := scanVariantToken(r[1:])
		if err != nil {
			return Variants{}, err
		}
		if r != "" && r[0] != ',' {
			return Variants{}, fmt.Errorf("invalid variant %q: unexpected %q", rest, r[:1])
		}
		pairs = append(pairs, Variant{Name: name, Value: value})
		if r == "" {
			break
		}
		rest = r[1:]
	}
	return NewVariants(pairs...), nil
}

// scanVariantToken reads one bare or quoted token and returns it with the
// unread input, which is empty or starts at the next separator.
func scanVariantToken(s string) (string, string, error) {
	s = strings.TrimLeft(s, " \t")
	if strings.HasPrefix(s, `"`) {
		q, err := strconv.QuotedPrefix(s)
		if err != nil {
			return "", "", fmt.Errorf("invalid quoted variant in %q: %w", s, err)
		}
		tok, _ := strconv.Unquote(q)
		return tok, strings.TrimLeft(s[len(q):], " \t"), nil
	}
	i := strings.IndexAny(s, ",=")
	if i < 0 {
		return strings.TrimSpace(s), "", nil
	}
	return strings.TrimSpace(s[:i]), s[i:], nil
}

// fromMap encodes m as length-prefixed "<len>:<name><len>:<value>" pairs
// sorted by name, so names and values may hold any character without two
// distinct sets sharing an encoding.
func fromMap(m map[string]string) Variants {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		writeLenPrefixed(&b, n)
		writeLenPrefixed(&b, m[n])
	}
	return Variants{enc: b.String()}
}

func writeLenPrefixed(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}

// readLenPrefixed splits one field off enc. enc is always produced by
// fromMap, so a malformed field is a programming error.
func readLenPrefixed(enc string) (field, rest string) {
	colon := strings.IndexByte(enc, ':')
	n, err := strconv.Atoi(enc[:colon])
	if err != nil || colon+1+n > len(enc) {
		panic(fmt.Sprintf("model: corrupt variants encoding %q", enc))
	}
	return enc[colon+1 : colon+1+n], enc[colon+1+n:]
}

// Pairs returns the variants sorted by name.
func (v Variants) Pairs() []Variant {
	var out []Variant
	for rest := v.enc; rest != ""; {
		var name, value string
		name, rest = readLenPrefixed(rest)
		value, rest = readLenPrefixed(rest)
		out = append(out, Variant{Name: name, Value: value})
	}
	return out
}

// Get returns the value for name.
func (v Variants) Get(name string) (string, bool) {
	for _, p := range v.Pairs() {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Len returns the number of variants.
func (v Variants) Len() int {
	return len(v.Pairs())
}

// IsEmpty reports whether no variants are set.
func (v Variants) IsEmpty() bool {
	return v.enc == ""
}

// Merge returns v with every pair of override applied on top.
func (v Variants) Merge(override Variants) Variants {
	if override.enc == "" {
		return v
	}
	if v.enc == "" {
		return override
	}
	m := make(map[string]string)
	for _, p := range v.Pairs() {
		m[p.Name] = p.Value
	}
	for _, p := range override.Pairs() {
		m[p.Name] = p.Value
	}
	return fromMap(m)
}

// String returns the "k1=v1,k2=v2" form accepted by ParseVariants. Names or
// values holding separators, quotes or surrounding space are quoted, so
// distinct sets never render alike.
func (v Variants) String() string {
	var b strings.Builder
	for i, p := range v.Pairs() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteVariant(p.Name))
		b.WriteByte('=')
		b.WriteString(quoteVariant(p.Value))
	}
	return b.String()
}

func quoteVariant(s string) string {
	if strings.ContainsAny(s, ",=\"") || strings.TrimSpace(s) != s {
		return strconv.Quote(s)
	}
	return s
}

// Equal reports whether both sets hold the same pairs.
func (v Variants) Equal(other Variants) bool {
	return v.enc == other.enc
}
