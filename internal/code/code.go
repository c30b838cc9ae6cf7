// Package code generates short, human-shareable room access codes.
package code

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits  = "0123456789"

	// Length is the size of every generated code: two letters, three digits.
	Length = 5
)

// Random produces one candidate code: two uppercase letters followed by a number in
// 100..999.
func Random() string {
	b := make([]byte, 0, Length)
	b = append(b, letters[randIndex(len(letters))], letters[randIndex(len(letters))])
	b = append(b, digits[1+randIndex(9)]) // no leading zero
	b = append(b, digits[randIndex(10)], digits[randIndex(10)])
	return string(b)
}

// Generate retries Random until taken reports the candidate as free.
func Generate(taken func(string) bool) string {
	for {
		c := Random()
		if taken == nil || !taken(c) {
			return c
		}
	}
}

// Pair returns two codes that differ from each other and are both free per taken.
func Pair(taken func(string) bool) (player, spectator string) {
	player = Generate(taken)
	spectator = Generate(func(c string) bool {
		return c == player || (taken != nil && taken(c))
	})
	return player, spectator
}

// Normalize upper-cases and trims a user-supplied code.
func Normalize(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// Valid reports whether c has the generated shape.
func Valid(c string) bool {
	if len(c) != Length {
		return false
	}
	for i := 0; i < 2; i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return false
		}
	}
	if c[2] < '1' || c[2] > '9' {
		return false
	}
	for i := 3; i < Length; i++ {
		if c[i] < '0' || c[i] > '9' {
			return false
		}
	}
	return true
}

func randIndex(n int) int {
	num, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(err)
	}
	return int(num.Int64())
}
