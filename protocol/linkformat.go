package protocol

import (
	"sort"
	"strings"
)

// WellKnownCore is the path of the resource directory of every node.
const WellKnownCore = "/.well-known/core"

// Link is one entry of a link-format document.
type Link struct {
	Path  string
	Attrs map[string]string
}

// ParseLinkFormat parses a link-format body. Entries that do not start with a
// well-formed "</path>" token are returned in skipped instead of failing the
// whole document.
func ParseLinkFormat(body string) (links []Link, skipped []string) {
	for _, entry := range splitEntries(body) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.HasPrefix(entry, "<") {
			skipped = append(skipped, entry)
			continue
		}
		end := strings.IndexByte(entry, '>')
		if end < 2 {
			skipped = append(skipped, entry)
			continue
		}
		path := entry[1:end]
		if !strings.HasPrefix(path, "/") || strings.ContainsAny(path, " <") {
			skipped = append(skipped, entry)
			continue
		}

		link := Link{Path: path, Attrs: map[string]string{}}
		for _, param := range strings.Split(entry[end+1:], ";") {
			param = strings.TrimSpace(param)
			if param == "" {
				continue
			}
			k, v, _ := strings.Cut(param, "=")
			link.Attrs[k] = strings.Trim(v, `"`)
		}
		links = append(links, link)
	}
	return links, skipped
}

// FormatLinks renders links as a link-format document, sorted by path.
func FormatLinks(links []Link) string {
	sorted := make([]Link, len(links))
	copy(sorted, links)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var b strings.Builder
	for i, l := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('<')
		b.WriteString(l.Path)
		b.WriteByte('>')

		keys := make([]string, 0, len(l.Attrs))
		for k := range l.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte(';')
			b.WriteString(k)
			if v := l.Attrs[k]; v != "" {
				b.WriteString(`="`)
				b.WriteString(v)
				b.WriteByte('"')
			}
		}
	}
	return b.String()
}

// splitEntries splits on commas outside of quoted attribute values.
func splitEntries(body string) []string {
	var (
		entries []string
		quoted  bool
		start   int
	)
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				entries = append(entries, body[start:i])
				start = i + 1
			}
		}
	}
	return append(entries, body[start:])
}
