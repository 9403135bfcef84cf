package codec

import "strings"

// shellMetacharacters are the characters whose presence in a shell.command
// string means it must run through a shell rather than exec directly.
const shellMetacharacters = "|><;&`$(){}*?[]~\n"

// containsShellMetacharacters reports whether s needs shell interpretation,
// per spec's list: pipes, redirection, sequencing, heredoc, command
// substitution, and background operators.
func containsShellMetacharacters(s string) bool {
	if strings.Contains(s, "&&") || strings.Contains(s, "||") || strings.Contains(s, "<<") {
		return true
	}
	return strings.ContainsAny(s, shellMetacharacters)
}

// wrapAsShellCommand wraps a raw shell string into the ["bash","-lc",cmd]
// argv form expected by shell-aware tool runners, unless it already is one.
func wrapAsShellCommand(args []string) []string {
	if len(args) == 3 && args[0] == "bash" && args[1] == "-lc" {
		return args
	}
	if len(args) == 1 && containsShellMetacharacters(args[0]) {
		return []string{"bash", "-lc", args[0]}
	}
	return args
}

// tokenizeShellWords splits a raw command string into words, honoring single
// and double quoting, without invoking an actual shell. It is intentionally
// simpler than POSIX word-splitting (no backslash-escape processing inside
// single quotes, no parameter expansion) since it only needs to recover the
// argv a model intended when it emitted a flat string instead of an array.
func tokenizeShellWords(s string) []string {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quote   rune
	)
	flush := func() {
		if inWord {
			words = append(words, cur.String())
			cur.Reset()
			inWord = false
		}
	}
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			inWord = true
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}
