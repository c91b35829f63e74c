package preprocess

import (
	"regexp"
	"strings"
)

const (
	lineCommentMarker  = "//"
	blockCommentMarker = "/*"
)

var (
	// Pattern: #define <name> <value>, whitespace allowed after '#'
	definePattern = regexp.MustCompile(`^\s*#\s*define(\s.*)?$`)
)

// matchDefine returns the text after the directive if line is a constant
// definition.
func matchDefine(line string) (string, bool) {
	if m := definePattern.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	return "", false
}

// parseDefine takes the last two whitespace-delimited tokens of rest as the
// constant's name and value.
func parseDefine(rest string) (name, value string, ok bool) {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return "", "", false
	}
	return fields[len(fields)-2], fields[len(fields)-1], true
}

// stripComments truncates line at the first "//" and then at the first
// "/*". keep is false when a marker starts the line.
func stripComments(line string) (out string, keep bool) {
	for _, marker := range []string{lineCommentMarker, blockCommentMarker} {
		if i := strings.Index(line, marker); i >= 0 {
			if i == 0 {
				return "", false
			}
			line = line[:i]
		}
	}
	return line, true
}
