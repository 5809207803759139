// Package recipe synthesizes the ordered build-directive list described
// in spec.md §4.6: base reference, deletions, the additions tarball, and
// the metadata directives replayed from the update image's history tail.
package recipe

import (
	"runtime"
	"strings"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/brauner/go-docker-melt/internal/ociconfig"
)

// Recipe is an ordered list of Dockerfile-style directive lines.
type Recipe struct {
	Lines []string
}

// Synthesize builds a Recipe from the base reference, the Tree Differ's
// removal lists, whether an additions tarball exists, and the two
// images' histories.
func Synthesize(baseRef string, removedFiles, removedDirs []string, hasAdditions bool, baseHistory, updateHistory []v1.History) *Recipe {
	lines := []string{"FROM " + baseRef}

	if len(removedFiles) > 0 {
		lines = append(lines, "RUN rm "+shellJoin(removedFiles))
	}
	if len(removedDirs) > 0 {
		lines = append(lines, "RUN rm -rf "+shellJoin(removedDirs))
	}
	if hasAdditions {
		lines = append(lines, "ADD files.tar /")
	}

	h := ociconfig.CommonHistoryPrefixLen(baseHistory, updateHistory)
	lines = append(lines, ociconfig.ReplayDirectives(updateHistory, h)...)

	return &Recipe{Lines: lines}
}

// String joins the recipe's lines with the host line separator, one
// directive per line (spec.md §6).
func (r *Recipe) String() string {
	sep := "\n"
	if runtime.GOOS == "windows" {
		sep = "\r\n"
	}
	return strings.Join(r.Lines, sep)
}

// shellJoin space-joins paths, single-quoting any that contain shell
// metacharacters or whitespace.
func shellJoin(paths []string) string {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = shellQuote(p)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`!*?[](){}|&;<>~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
