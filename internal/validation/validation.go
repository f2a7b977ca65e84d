package validation

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxMessageLength = 4000
	MaxGroupNameLength      = 100
	MaxGroupDescLength      = 255
)

// TrimAndLimit trims surrounding space and cuts s to at most max runes.
func TrimAndLimit(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:max]))
}

func NormalizeGroupName(name string) string {
	return TrimAndLimit(name, MaxGroupNameLength)
}

func ValidateGroupName(name string) bool {
	return NormalizeGroupName(name) != ""
}

func NormalizeGroupDescription(desc string) string {
	return TrimAndLimit(desc, MaxGroupDescLength)
}

// UniqueIDs drops zeros and duplicates, keeping first-seen order.
func UniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Without returns ids minus every occurrence of drop.
func Without(ids []uint, drop uint) []uint {
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
