package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Generate returns a 48-character nanoid using an alphanumeric alphabet (A-Za-z0-9).
func Generate() string {
	id, err := gonanoid.Generate("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789", 48)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return id
}

// ShortName returns a short lowercase kebab name suitable for a
// session's display name: a 6-character lowercase-alphanumeric
// suffix, optionally prefixed by a sanitized hint (e.g. the repo's
// directory name).
func ShortName(hint string) string {
	suffix, err := gonanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", 6)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	hint = kebabify(hint)
	if hint == "" {
		return suffix
	}
	return hint + "-" + suffix
}

// kebabify lowercases s and keeps only [a-z0-9-], collapsing any run of
// other characters into a single hyphen, trimmed of leading/trailing
// hyphens.
func kebabify(s string) string {
	var b []byte
	lastHyphen := true // avoid leading hyphen
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b = append(b, byte(r))
			lastHyphen = false
		case r >= 'A' && r <= 'Z':
			b = append(b, byte(r-'A'+'a'))
			lastHyphen = false
		default:
			if !lastHyphen {
				b = append(b, '-')
				lastHyphen = true
			}
		}
	}
	for len(b) > 0 && b[len(b)-1] == '-' {
		b = b[:len(b)-1]
	}
	return string(b)
}
