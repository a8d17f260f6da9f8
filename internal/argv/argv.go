package argv

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Source names the places a startup argument vector can come from.
// Exactly one is honored, in the order File > JSON > Tokens.
type Source struct {
	File   string // path to a NUL- or newline-delimited argument file
	JSON   string // inline JSON array, or base64 of a JSON array
	Tokens string // legacy space-joined token list
}

// Error reports an unusable argument source.
type Error struct {
	Source string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("argv source %s: %s", e.Source, e.Reason)
}

var flagRe = regexp.MustCompile(`^[+-][A-Za-z0-9_.-]+$`)

// switchOnly lists flags known to take no value. A flag outside this set
// consumes the non-flag tokens that follow it.
var switchOnly = map[string]bool{
	"-batchmode":      true,
	"-nographics":     true,
	"-silent-crashes": true,
	"-headless":       true,
	"+server.secure":  true,
}

// Decode resolves the first configured source into a repaired argument
// vector. Element 0 is the executable path. The vector is never empty on
// success; an empty or missing source fails with *Error.
func Decode(src Source) ([]string, error) {
	switch {
	case src.File != "":
		toks, err := decodeFile(src.File)
		if err != nil {
			return nil, err
		}
		return finish("file", toks)
	case src.JSON != "":
		toks, err := decodeJSON(src.JSON)
		if err != nil {
			return nil, err
		}
		return finish("json", toks)
	case src.Tokens != "":
		return finish("tokens", strings.Fields(src.Tokens))
	default:
		return nil, &Error{Source: "none", Reason: "no startup argument source configured"}
	}
}

func finish(source string, toks []string) ([]string, error) {
	if len(toks) == 0 {
		return nil, &Error{Source: source, Reason: "argument vector is empty"}
	}
	return Repair(toks), nil
}

func decodeFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Source: "file", Reason: err.Error()}
	}
	if len(b) == 0 {
		return nil, &Error{Source: "file", Reason: "argument file is empty"}
	}
	sep := byte('\n')
	if bytes.IndexByte(b, 0) >= 0 {
		sep = 0
	}
	// A single trailing delimiter terminates the last token rather than
	// introducing an empty one; interior empty tokens are preserved.
	if b[len(b)-1] == sep {
		b = b[:len(b)-1]
	}
	parts := strings.Split(string(b), string(sep))
	if sep == '\n' {
		for i, p := range parts {
			parts[i] = strings.TrimSuffix(p, "\r")
		}
	}
	return parts, nil
}

func decodeJSON(raw string) ([]string, error) {
	data := []byte(strings.TrimSpace(raw))
	if len(data) == 0 || data[0] != '[' {
		dec, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return nil, &Error{Source: "json", Reason: "neither a JSON array nor base64: " + err.Error()}
		}
		data = dec
	}
	var toks []string
	if err := json.Unmarshal(data, &toks); err != nil {
		return nil, &Error{Source: "json", Reason: err.Error()}
	}
	return toks, nil
}

// IsFlag reports whether a token is flag-shaped (-name or +name).
func IsFlag(tok string) bool { return flagRe.MatchString(tok) }

// Repair rejoins flag values that an upstream shell pass split on
// whitespace. Scanning left to right, a flag outside the switch-only set
// consumes every following non-flag token into one space-joined value.
// A value that is itself flag-shaped cannot be told apart from a flag
// boundary; that ambiguity is inherent to the token stream and is left
// as-is. Repair is idempotent.
func Repair(toks []string) []string {
	out := make([]string, 0, len(toks))
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if !IsFlag(tok) || switchOnly[tok] {
			out = append(out, tok)
			continue
		}
		out = append(out, tok)
		j := i + 1
		for j < len(toks) && !IsFlag(toks[j]) {
			j++
		}
		if j > i+1 {
			out = append(out, strings.Join(toks[i+1:j], " "))
			i = j - 1
		}
	}
	return out
}
