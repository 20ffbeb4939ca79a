// Package roomname generates memorable room ids such as "sleepy-otter-comet".
package roomname

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const maxAttempts = 16

// Generate returns a random three-word room id.
func Generate() string {
	return strings.Join([]string{
		pick(adjectives),
		pick(animals),
		pick(things),
	}, "-")
}

// GenerateUnused keeps generating until taken reports an id as free. After
// a bounded number of collisions the last candidate is returned anyway:
// joining an existing room is harmless, only surprising.
func GenerateUnused(taken func(id string) bool) string {
	id := Generate()
	for i := 1; i < maxAttempts && taken(id); i++ {
		id = Generate()
	}
	return id
}

func pick(words []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		panic("roomname: crypto/rand failed: " + err.Error())
	}
	return words[n.Int64()]
}
