// Package stringutils provides helpers to format configuration values for
// log messages.
package stringutils

import "strings"

const hiddenStr = "**hidden**"

// IndentString prefixes each line of the string with indent.
func IndentString(str, indent string) string {
	spl := strings.SplitAfter(str, "\n")
	return strings.Join(append([]string{""}, spl...), indent)
}

// Hide returns a placeholder for a non-empty secret, an empty string is
// returned unchanged to show that the value is unset.
func Hide(secret string) string {
	if secret == "" {
		return secret
	}

	return hiddenStr
}
