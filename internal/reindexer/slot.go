package reindexer

import (
	"strings"
	"time"
)

// Slot is when a peer first fires and how often it fires after that.
type Slot struct {
	Delay  time.Duration
	Stride time.Duration
	// Index is the peer's position in the fleet, or -1 if it is not a member.
	Index int
	// Peers is the fleet size.
	Peers int
}

// ParsePeers splits a comma-joined host list, dropping ports and blanks.
// Order is preserved; it defines each peer's slot.
func ParsePeers(list string) []string {
	var peers []string
	for _, hostPort := range strings.Split(list, ",") {
		host, _, _ := strings.Cut(strings.TrimSpace(hostPort), ":")
		if host == "" {
			continue
		}
		peers = append(peers, host)
	}
	return peers
}

// CalculateSlot gives peer hostname its own offset within a cycle of
// len(peers) base intervals. Peer k fires at instants congruent to k*interval
// modulo the cycle, so any interval-wide window holds exactly one firing of
// the fleet. A host missing from peers fires immediately and then every
// interval. Duplicate entries resolve to the first occurrence.
func CalculateSlot(hostname string, peers []string, interval time.Duration, now time.Time) Slot {
	index := -1
	for i, p := range peers {
		if p == hostname {
			index = i
			break
		}
	}
	if index < 0 || interval < time.Millisecond {
		return Slot{Delay: 0, Stride: interval, Index: -1, Peers: len(peers)}
	}

	baseMs := interval.Milliseconds()
	strideMs := baseMs * int64(len(peers))
	offsetMs := int64(index) * baseMs
	delayMs := floorMod(offsetMs-now.UnixMilli(), strideMs)

	return Slot{
		Delay:  time.Duration(delayMs) * time.Millisecond,
		Stride: time.Duration(strideMs) * time.Millisecond,
		Index:  index,
		Peers:  len(peers),
	}
}

func floorMod(x, m int64) int64 {
	r := x % m
	if r < 0 {
		r += m
	}
	return r
}
