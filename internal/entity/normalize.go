package entity

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var mutationToken = regexp.MustCompile(`^([A-Z*])(\d+)([A-Z*])$`)

var mutationSeparators = regexp.MustCompile(`[,;+/\s]+`)

// NormalizeSequence strips all whitespace and uppercases a sequence.
func NormalizeSequence(seq string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, seq)
}

// ParseMutations splits a mutation list into canonical tokens ordered by
// position, then token. Duplicates are dropped. Tokens that are not of the
// form <residue><position><residue> are returned separately.
func ParseMutations(raw string) (tokens []string, invalid []string) {
	seen := make(map[string]bool)
	for _, part := range mutationSeparators.Split(strings.ToUpper(strings.TrimSpace(raw)), -1) {
		if part == "" {
			continue
		}
		if !mutationToken.MatchString(part) {
			invalid = append(invalid, part)
			continue
		}
		if seen[part] {
			continue
		}
		seen[part] = true
		tokens = append(tokens, part)
	}
	SortMutations(tokens)
	return tokens, invalid
}

// SortMutations orders canonical tokens by position, then lexicographically.
func SortMutations(tokens []string) {
	sort.SliceStable(tokens, func(i, j int) bool {
		pi, pj := mutationPosition(tokens[i]), mutationPosition(tokens[j])
		if pi != pj {
			return pi < pj
		}
		return tokens[i] < tokens[j]
	})
}

func mutationPosition(token string) int {
	m := mutationToken.FindStringSubmatch(token)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[2])
	return n
}

// MutationKey is the order-independent identity of a mutation set.
func MutationKey(tokens []string) string {
	return strings.Join(tokens, ",")
}

// normalizeLabel is the comparison form of names and aliases.
func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
