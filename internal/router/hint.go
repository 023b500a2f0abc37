package router

import "strings"

// ParseCommentHints extracts routing hints from a statement's leading SQL
// comments (--, # and /* */ styles). The recognised forms are the classic
// proxy hint dialect, with primary and replica accepted as synonyms of
// master and slave:
//
//	-- maxscale route to master
//	-- maxscale route to slave
//	-- maxscale route to server <name>
//	# maxscale route to all
//	/* maxscale route to master */ SELECT ...
//
// Hints are returned in the order they appear. Statement text outside the
// comments is never inspected.
func ParseCommentHints(sql string) []Hint {
	var hints []Hint
	rest := sql
	for {
		rest = strings.TrimLeft(rest, " \t\r\n")
		var body string
		switch {
		case strings.HasPrefix(rest, "--"):
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				body, rest = rest[2:], ""
			} else {
				body, rest = rest[2:end], rest[end+1:]
			}
		case strings.HasPrefix(rest, "#"):
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				body, rest = rest[1:], ""
			} else {
				body, rest = rest[1:end], rest[end+1:]
			}
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest, "*/")
			if end < 0 {
				return hints
			}
			body, rest = rest[2:end], rest[end+2:]
		default:
			return hints
		}
		if h, ok := parseHintBody(body); ok {
			hints = append(hints, h)
		}
	}
}

func parseHintBody(body string) (Hint, bool) {
	fields := strings.Fields(body)
	if len(fields) < 4 || !strings.EqualFold(fields[0], "maxscale") ||
		!strings.EqualFold(fields[1], "route") || !strings.EqualFold(fields[2], "to") {
		return Hint{}, false
	}
	switch strings.ToLower(fields[3]) {
	case "master", "primary":
		return Hint{Kind: HintPrimary}, true
	case "slave", "replica":
		return Hint{Kind: HintReplica}, true
	case "all":
		return Hint{Kind: HintAll}, true
	case "server":
		if len(fields) < 5 {
			return Hint{}, false
		}
		return Hint{Kind: HintNamed, Name: fields[4]}, true
	}
	return Hint{}, false
}
