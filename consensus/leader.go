package consensus

import "math/rand"

// leaderSeed is the fixed seed shared by every replica so the leader
// schedule is reproducible without coordination. A well-known constant is
// sufficient here: the schedule's unpredictability to an outside attacker is
// not a safety requirement of Streamlet, only its determinism across
// replicas is.
const leaderSeed = 0x5372656d6c6574 // "Sremlet" in ASCII hex, a fixed constant

// Schedule maps an epoch number to its leader. It is a pure function of
// (epoch, n): every replica, whether or not it locally timed out on some
// epoch, derives the exact same leader for the exact same epoch number
// without needing to replay every epoch in between.
type Schedule struct {
	n int
}

// NewSchedule creates a leader schedule over n replicas (ids 0..n-1).
func NewSchedule(n int) *Schedule {
	return &Schedule{n: n}
}

// LeaderFor returns the leader replica id for epoch.
func (s *Schedule) LeaderFor(epoch int64) int {
	rng := rand.New(rand.NewSource(leaderSeed + epoch))
	return rng.Intn(s.n)
}
