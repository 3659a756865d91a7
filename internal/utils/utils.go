package utils

import (
	"bytes"
	"unicode"
)

// CleanComm removes null, newline and non-printable characters from a
// kernel-provided task name.
func CleanComm(b []byte) string {
	var cleaned []byte
	for _, c := range bytes.TrimRight(b, "\x00\n") {
		if c != 0 && unicode.IsPrint(rune(c)) {
			cleaned = append(cleaned, c)
		}
	}
	return string(cleaned)
}

// IndexOf returns the index of v in s, or -1.
func IndexOf[T comparable](s []T, v T) int {
	for i := range s {
		if s[i] == v {
			return i
		}
	}
	return -1
}
