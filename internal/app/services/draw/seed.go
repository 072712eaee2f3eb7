package draw

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// Algorithm identifies the selection scheme recorded on every winner so a
// draw can be re-verified after the fact.
const Algorithm = "merkle-sha256-rejection-v1"

// MerkleRoot computes the commitment over the ticket pool: leaves are the
// SHA-256 of each ticket number in sorted order, pairs are hashed upward,
// and an odd node is promoted unchanged. Any change to the pool changes
// the root, so the seed is fixed by the pool itself.
func MerkleRoot(ticketNumbers []string) string {
	if len(ticketNumbers) == 0 {
		return ""
	}
	sorted := append([]string(nil), ticketNumbers...)
	sort.Strings(sorted)

	level := make([][32]byte, 0, len(sorted))
	for _, n := range sorted {
		level = append(level, sha256.Sum256([]byte(n)))
	}
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			joined := append(level[i][:], level[i+1][:]...)
			next = append(next, sha256.Sum256(joined))
		}
		level = next
	}
	return hex.EncodeToString(level[0][:])
}

// Seed derives the fairness seed from the raffle identity, the scheduled
// draw date and the pool commitment. Re-running the derivation with the
// same inputs always yields the same seed.
func Seed(raffleID string, drawDate time.Time, merkleRoot string) string {
	data := fmt.Sprintf("%s|%d|%s", raffleID, drawDate.UTC().Unix(), merkleRoot)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
