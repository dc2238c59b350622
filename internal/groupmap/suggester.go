// Package groupmap scores provider groups against the user's own groups and
// recommends a mapping. Suggestions are pure functions of their inputs: they
// are regenerated on every full sync until a human approves or rejects them,
// so identical inputs must always yield identical output.
package groupmap

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
)

// Decision thresholds.
const (
	candidateNameScore = 0.7
	candidateOverlap   = 0.5
	acceptNameScore    = 0.8
	acceptOverlap      = 0.6
	createConfidence   = 0.9
)

var fold = cases.Fold()

// Suggest recommends how to map a provider group onto the local grouping
// scheme, with a confidence score in [0,1].
func Suggest(remote models.ProviderGroup, locals []models.Group) models.GroupSuggestion {
	remoteName := normalizeName(remote.Name)
	remoteMembers := memberSet(remote.MemberExternalIDs)

	type candidate struct {
		group     *models.Group
		nameScore float64
		overlap   float64
	}

	var best *candidate
	for i := range locals {
		local := &locals[i]
		ns := nameScore(remoteName, normalizeName(local.Name))
		ov := jaccard(remoteMembers, memberSet(local.MemberExternalIDs))

		if ns <= candidateNameScore && ov <= candidateOverlap {
			continue
		}

		c := candidate{group: local, nameScore: ns, overlap: ov}
		switch {
		case best == nil:
			best = &c
		case c.nameScore+c.overlap > best.nameScore+best.overlap:
			best = &c
		case c.nameScore+c.overlap == best.nameScore+best.overlap &&
			c.group.ID < best.group.ID:
			// Deterministic tie-break on smallest local group id.
			best = &c
		}
	}

	if best != nil && (best.nameScore > acceptNameScore || best.overlap > acceptOverlap) {
		return models.GroupSuggestion{
			Action:        models.ActionMapToExisting,
			TargetGroupID: best.group.ID,
			Confidence:    (best.nameScore + best.overlap) / 2,
			Reason: fmt.Sprintf("name similarity %.0f%%, member overlap %.0f%% with %q",
				best.nameScore*100, best.overlap*100, best.group.Name),
		}
	}

	return models.GroupSuggestion{
		Action:     models.ActionCreateNew,
		Confidence: createConfidence,
		Reason:     "no similar existing group found",
	}
}

// nameScore is 1 - levenshtein/maxLen over the normalized names.
func nameScore(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)

	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}

	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// jaccard is the member-overlap index over external ids.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	inter := 0
	for id := range a {
		if _, ok := b[id]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func normalizeName(name string) string {
	return fold.String(strings.TrimSpace(name))
}

func memberSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
