package app

import (
	"bytes"
	"encoding/json"
	"time"

	"cic-sync/internal/domain"
)

// MergeProgress reconciles the review state cached on this device with the
// state fetched from the remote store.
//
//	lastSessionIndex                       max(local, remote), never regresses
//	lastReviewed                           later of the two
//	ratings                                key-wise union; remote wins a collision only if strictly newer
//	nextReview, reviewStage, lastMarks,
//	cardsCountAtLastReview                 strictly newer record wins; a missing side takes the other
//	progressUpdatedAt                      later of the two
//
// A record without a timestamp is never newer. Ties go to local.
func MergeProgress(local, remote domain.Progress) domain.Progress {
	remoteNewer := remote.ProgressUpdatedAt.After(local.ProgressUpdatedAt)
	out := local

	out.LastSessionIndex = maxInt(local.LastSessionIndex, remote.LastSessionIndex)
	out.LastReviewed = laterTime(local.LastReviewed, remote.LastReviewed)

	if len(local.Ratings) > 0 || len(remote.Ratings) > 0 {
		ratings := make(map[string]domain.Rating, len(local.Ratings)+len(remote.Ratings))
		for k, v := range local.Ratings {
			ratings[k] = v
		}
		for k, v := range remote.Ratings {
			if _, clash := ratings[k]; clash && !remoteNewer {
				continue
			}
			ratings[k] = v
		}
		out.Ratings = ratings
	}

	out.NextReview = pick(local.NextReview, remote.NextReview, remoteNewer)
	out.ReviewStage = pick(local.ReviewStage, remote.ReviewStage, remoteNewer)
	out.LastMarks = pick(local.LastMarks, remote.LastMarks, remoteNewer)
	out.CardsCountAtLastReview = pick(local.CardsCountAtLastReview, remote.CardsCountAtLastReview, remoteNewer)

	if remoteNewer {
		out.ProgressUpdatedAt = remote.ProgressUpdatedAt
	}
	return out
}

// remoteContentWins reports whether fetched content should replace the cached copy.
// Remote replaces local only when strictly newer; an unknown remote time never
// replaces existing content, and empty remote content never replaces anything.
func remoteContentWins(local contentRecord, hasLocal bool, remote domain.Content, remoteModified *time.Time) bool {
	if len(remote.Questions) == 0 {
		return false
	}
	if !hasLocal || len(local.Questions) == 0 {
		return true
	}
	if remoteModified == nil || remoteModified.IsZero() {
		return false
	}
	return remoteModified.After(local.syncedAt())
}

func sameProgress(a, b domain.Progress) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}

func maxInt(a, b *int) *int {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b > *a:
		return b
	default:
		return a
	}
}

func laterTime(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}

func pick[T any](local, remote *T, remoteNewer bool) *T {
	if local == nil {
		return remote
	}
	if remote != nil && remoteNewer {
		return remote
	}
	return local
}
