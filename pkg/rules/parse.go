package rules

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// Rule file section headers.
const (
	sectionAllow    = "[allow]"
	sectionDisallow = "[disallow]"
)

// Arrow tokens, longest first so "<->" is never split as "<-".
const (
	arrowBoth  = "<->"
	arrowRight = "->"
	arrowLeft  = "<-"
)

// ParseFile reads a rule file into set. A missing file is reported
// unwrapped so callers can fall back to the default policy via
// errors.Is(err, fs.ErrNotExist).
func ParseFile(path string, set *Set) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Parse(f, set)
}

// Parse reads the rule file format from r into set. Malformed lines and
// unknown sections are logged through the set's logger and skipped; only
// read failures abort.
func Parse(r io.Reader, set *Set) error {
	sc := bufio.NewScanner(r)

	kind := Allow
	inSection := false
	skipSection := false
	lineNo := 0

	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") {
			switch line {
			case sectionAllow:
				kind, inSection, skipSection = Allow, true, false
			case sectionDisallow:
				kind, inSection, skipSection = Disallow, true, false
			default:
				set.warnLog("ignoring unknown rule section", "section", line, "line", lineNo)
				inSection, skipSection = true, true
			}
			continue
		}

		if !inSection {
			set.warnLog("ignoring rule outside any section", "line", lineNo)
			continue
		}
		if skipSection {
			set.warnLog("ignoring rule in unknown section", "line", lineNo)
			continue
		}

		parseRuleLine(set, kind, line, lineNo)
	}
	return sc.Err()
}

// parseRuleLine splits one rule line on its arrow and adds the resulting
// rule or rules.
func parseRuleLine(set *Set, kind Kind, line string, lineNo int) {
	if left, right, ok := strings.Cut(line, arrowBoth); ok {
		left, right = strings.TrimSpace(left), strings.TrimSpace(right)
		addRule(set, kind, left, right, lineNo)
		if left != right {
			addRule(set, kind, right, left, lineNo)
		}
		return
	}
	if left, right, ok := strings.Cut(line, arrowRight); ok {
		addRule(set, kind, strings.TrimSpace(left), strings.TrimSpace(right), lineNo)
		return
	}
	if left, right, ok := strings.Cut(line, arrowLeft); ok {
		addRule(set, kind, strings.TrimSpace(right), strings.TrimSpace(left), lineNo)
		return
	}
	set.warnLog("ignoring rule line without an arrow", "line", lineNo)
}

func addRule(set *Set, kind Kind, output, input string, lineNo int) {
	if err := set.Add(kind, output, input); err != nil {
		set.warnLog("ignoring invalid rule", "output", output, "input", input, "line", lineNo)
	}
}
