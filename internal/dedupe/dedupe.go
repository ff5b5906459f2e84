// Package dedupe decides which fetched plays are genuinely new versus
// already ingested. The two providers need different algorithms: Spotify
// returns strictly-newer plays behind an after-cursor, while Apple Music
// returns the same fixed recently-played window on every fetch, so what is
// new has to be reconstructed from positional overlap with recent history.
//
// Everything here is pure so the heuristics can be unit tested without a
// database or network.
package dedupe

import "time"

// SpotifyWindow is the played_at tolerance inside which two plays of the
// same track count as one real-world play.
const SpotifyWindow = 5 * time.Second

// WithinSpotifyWindow reports whether two play timestamps for the same
// track fall within the residual duplicate window.
func WithinSpotifyWindow(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= SpotifyWindow
}

// Tunables for the Apple Music overlap scan.
const (
	// appleStaleAfter is how old the most recent stored play may be before
	// the whole fetch is treated as new. Past this, a full replay of the
	// window is plausible and over-counting beats under-counting.
	appleStaleAfter = 10 * time.Minute

	maxScanOffsets   = 30 // candidate starting offsets considered
	maxOverlapDepth  = 20 // entries compared per candidate offset
	minOverlapScore  = 3  // best score required to trust an offset
	recentHeadLookup = 5  // most-recent prior ids used by the fallback scan
)

// PriorPlay is the slice of a stored play the detector needs.
type PriorPlay struct {
	TrackID         string
	FetchSessionID  string
	PositionInFetch int
	CreatedAt       time.Time
}

// OverlapBoundary returns how many leading entries of the fetched window are
// new. prior is the user's recently stored Apple Music plays, most recent
// first; fetched is the new window's track ids in the provider's
// reverse-chronological order; mostRecentAge is the age of the newest stored
// play.
//
// The scan fails open: when no overlap can be established with confidence,
// the entire fetch is treated as new rather than silently dropping plays.
func OverlapBoundary(prior []PriorPlay, fetched []string, mostRecentAge time.Duration) int {
	if len(fetched) == 0 {
		return 0
	}
	if len(prior) == 0 || mostRecentAge > appleStaleAfter {
		return len(fetched)
	}

	// Map each prior track id to its best (most recent) rank.
	priorRank := make(map[string]int, len(prior))
	for i, p := range prior {
		if _, ok := priorRank[p.TrackID]; !ok {
			priorRank[p.TrackID] = i
		}
	}

	bestOffset, bestScore := -1, 0
	limit := len(fetched)
	if limit > maxScanOffsets {
		limit = maxScanOffsets
	}
	for s := 0; s < limit; s++ {
		score := overlapScore(priorRank, fetched, s)
		if score > bestScore {
			bestScore = score
			bestOffset = s
		}
	}
	if bestScore >= minOverlapScore {
		return bestOffset
	}

	// Weak overlap: look for any of the few most recent prior ids anywhere
	// in the fetch.
	recent := make(map[string]bool, recentHeadLookup)
	for i, p := range prior {
		if i >= recentHeadLookup {
			break
		}
		recent[p.TrackID] = true
	}
	for i, id := range fetched {
		if recent[id] {
			if i > 0 {
				return i
			}
			break
		}
	}

	return len(fetched)
}

// overlapScore scores how well the fetch starting at offset s lines up with
// prior history: +2 for a matched id whose prior rank keeps non-decreasing
// order, +1 for a match out of order. An overlap region must begin on a
// matched entry; otherwise every offset before the true boundary would
// inherit the same matches and tie the scan.
func overlapScore(priorRank map[string]int, fetched []string, s int) int {
	if _, ok := priorRank[fetched[s]]; !ok {
		return 0
	}
	score := 0
	lastRank := -1
	depth := 0
	for i := s; i < len(fetched) && depth < maxOverlapDepth; i, depth = i+1, depth+1 {
		rank, ok := priorRank[fetched[i]]
		if !ok {
			continue
		}
		if rank >= lastRank {
			score += 2
			lastRank = rank
		} else {
			score++
		}
	}
	return score
}

// Per-candidate insert guards. Even after the overlap scan, a track can slip
// through on consecutive fetches; these catch the repeat before insert.
const (
	guardCreatedWithin  = 10 * time.Minute
	guardSessionWindow  = 15 * time.Minute
	guardSessionCount   = 3
	guardSessionRepeats = 2
	guardPositionDrift  = 3
)

// IsSessionRepeat reports whether the track was created within the last 10
// minutes and appeared in at least 2 of the last 3 distinct prior fetch
// sessions within 15 minutes. playsOfTrack are the user's recent plays of
// this exact track id; lastSessions are the most recent distinct fetch
// session ids, newest first.
func IsSessionRepeat(playsOfTrack []PriorPlay, lastSessions []string, now time.Time) bool {
	createdRecently := false
	for _, p := range playsOfTrack {
		if now.Sub(p.CreatedAt) <= guardCreatedWithin {
			createdRecently = true
			break
		}
	}
	if !createdRecently {
		return false
	}

	if len(lastSessions) > guardSessionCount {
		lastSessions = lastSessions[:guardSessionCount]
	}
	recentSessions := make(map[string]bool, len(lastSessions))
	for _, s := range lastSessions {
		recentSessions[s] = true
	}

	seen := make(map[string]bool)
	for _, p := range playsOfTrack {
		if now.Sub(p.CreatedAt) <= guardSessionWindow && recentSessions[p.FetchSessionID] {
			seen[p.FetchSessionID] = true
		}
	}
	return len(seen) >= guardSessionRepeats
}

// IsPositionRepeat reports whether the track was created within the last 10
// minutes at a position within ±3 of the candidate position.
func IsPositionRepeat(playsOfTrack []PriorPlay, position int, now time.Time) bool {
	for _, p := range playsOfTrack {
		if now.Sub(p.CreatedAt) > guardCreatedWithin {
			continue
		}
		drift := p.PositionInFetch - position
		if drift < 0 {
			drift = -drift
		}
		if drift <= guardPositionDrift {
			return true
		}
	}
	return false
}
