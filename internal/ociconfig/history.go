package ociconfig

import (
	"strings"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// nopSentinel is the substring docker build inserts into created_by for
// history entries that only set metadata (no rootfs change).
const nopSentinel = "#(nop)"

// CommonHistoryPrefixLen returns the length of the leading run of history
// entries with identical created_by strings, the way spec.md §4.6 step 5
// aligns base and update history before replaying the update's tail.
func CommonHistoryPrefixLen(base, update []v1.History) int {
	n := len(base)
	if len(update) < n {
		n = len(update)
	}
	i := 0
	for ; i < n; i++ {
		if base[i].CreatedBy != update[i].CreatedBy {
			break
		}
	}
	return i
}

// ReplayDirectives returns the metadata directives (one per line) that
// must be carried forward into the delta recipe: every empty_layer entry
// in update[h:] whose created_by contains the #(nop) sentinel, with the
// sentinel stripped and CMD/ENTRYPOINT array forms re-normalized.
func ReplayDirectives(update []v1.History, h int) []string {
	var lines []string
	for _, entry := range update[h:] {
		if !entry.EmptyLayer {
			continue
		}
		idx := strings.Index(entry.CreatedBy, nopSentinel)
		if idx < 0 {
			continue
		}
		directive := strings.TrimSpace(entry.CreatedBy[idx+len(nopSentinel):])
		if directive == "" {
			continue
		}
		lines = append(lines, normalizeDirective(directive))
	}
	return lines
}

// normalizeDirective re-quotes a CMD/ENTRYPOINT directive's JSON-array
// argument form into canonical array syntax (double-quoted tokens,
// comma-joined, no intervening spaces). Other directives pass through
// verbatim.
func normalizeDirective(directive string) string {
	for _, kw := range [2]string{"CMD", "ENTRYPOINT"} {
		if !strings.HasPrefix(directive, kw) {
			continue
		}
		rest := strings.TrimSpace(directive[len(kw):])
		if !strings.HasPrefix(rest, "[") || !strings.HasSuffix(rest, "]") {
			return directive
		}
		tokens := shellSplit(rest[1 : len(rest)-1])
		if tokens == nil {
			return directive
		}
		quoted := make([]string, len(tokens))
		for i, t := range tokens {
			quoted[i] = `"` + strings.ReplaceAll(t, `"`, `\"`) + `"`
		}
		return kw + " [" + strings.Join(quoted, ",") + "]"
	}
	return directive
}

// shellSplit tokenizes a bracketed argument list by shell-splitting
// rules: whitespace-separated tokens, with single- or double-quoted
// runs treated as one token (quotes stripped). It returns nil if the
// input is unbalanced.
func shellSplit(body string) []string {
	var tokens []string
	var cur strings.Builder
	inToken := false
	var quote rune

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for _, r := range body {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			flush()
		default:
			inToken = true
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil
	}
	flush()
	return tokens
}
