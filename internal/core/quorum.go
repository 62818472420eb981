package core

import "github.com/dkeye/Lobby/internal/domain"

// QuorumReached decides a vote-kick from scratch. Only votes cast by users in
// connected are counted, and the ratio is taken against len(connected).
func QuorumReached(votes map[domain.UserID]struct{}, connected []domain.UserID, quorum float64, minVotes int) bool {
	counted := CountEligibleVotes(votes, connected)
	if len(connected) == 0 || counted < minVotes {
		return false
	}
	return float64(counted)/float64(len(connected)) >= quorum
}

func CountEligibleVotes(votes map[domain.UserID]struct{}, connected []domain.UserID) int {
	n := 0
	for _, id := range connected {
		if _, ok := votes[id]; ok {
			n++
		}
	}
	return n
}
