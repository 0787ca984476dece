package sender

import (
	"unicode/utf16"

	"relaybot/internal/message"
)

// Platform limits in UTF-16 code units.
const (
	TextLimit    = 4096
	CaptionLimit = 1024
)

const (
	separator = "\n\n"
	ellipsis  = "..."
)

// Decorated is a body with the relay's suffix appended.
type Decorated struct {
	Text     string
	Entities []message.Entity
}

// AliasTag renders the sender alias as it appears in relayed content.
func AliasTag(alias string) string { return "[" + alias + "]" }

// Decorate appends the alias tag and signature to body. The suffix is never
// truncated; when the result exceeds limit the body is cut and ends with an
// ellipsis, and entities beyond the cut are clipped or dropped. The alias tag
// gets a code entity.
func Decorate(body string, entities []message.Entity, signature, alias string, limit int) Decorated {
	suffix, aliasLen := "", 0
	if alias != "" {
		suffix = AliasTag(alias)
		aliasLen = len16(suffix)
	}
	if signature != "" {
		if suffix != "" {
			suffix += "\n"
		}
		suffix += signature
	}

	switch {
	case body == "" && suffix == "":
		return Decorated{}
	case suffix == "":
		return Decorated{Text: body, Entities: cloneEntities(entities)}
	}

	var out Decorated
	if body == "" {
		out.Text = cut16(suffix, limit)
		return withAlias(out, 0, aliasLen)
	}

	full := body + separator + suffix
	if len16(full) <= limit {
		out = Decorated{Text: full, Entities: cloneEntities(entities)}
		return withAlias(out, len16(body)+len16(separator), aliasLen)
	}

	available := limit - len16(separator) - len16(suffix) - len16(ellipsis)
	if available <= 0 {
		out.Text = cut16(suffix, limit)
		return withAlias(out, 0, aliasLen)
	}
	head := cut16(body, available)
	out = Decorated{
		Text:     head + ellipsis + separator + suffix,
		Entities: ClipEntities(entities, len16(head)),
	}
	return withAlias(out, len16(head)+len16(ellipsis)+len16(separator), aliasLen)
}

func withAlias(d Decorated, offset, length int) Decorated {
	if length == 0 || offset+length > len16(d.Text) {
		return d
	}
	d.Entities = append(d.Entities, message.Entity{Type: "code", Offset: offset, Length: length})
	return d
}

// ClipEntities keeps entities that start before limit, shortening any that
// cross it.
func ClipEntities(in []message.Entity, limit int) []message.Entity {
	var out []message.Entity
	for _, e := range in {
		if e.Offset >= limit || e.Length <= 0 {
			continue
		}
		if end := e.Offset + e.Length; end > limit {
			e.Length = limit - e.Offset
		}
		out = append(out, e)
	}
	return out
}

func cloneEntities(in []message.Entity) []message.Entity {
	if len(in) == 0 {
		return nil
	}
	return append([]message.Entity(nil), in...)
}

// len16 is the length of s in UTF-16 code units.
func len16(s string) int {
	n := 0
	for _, r := range s {
		n += len(utf16.Encode([]rune{r}))
	}
	return n
}

// cut16 returns the longest prefix of s that fits in n UTF-16 units without
// splitting a surrogate pair.
func cut16(s string, n int) string {
	used := 0
	for i, r := range s {
		w := len(utf16.Encode([]rune{r}))
		if used+w > n {
			return s[:i]
		}
		used += w
	}
	return s
}
