package processor

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sketchsync/internal/ftrack"
	"github.com/sketchsync/pkg/models"
)

// NormalizeNoteText strips the "www." host variant from note text. Both
// host forms of the review link appear in historically mirrored notes and
// must compare equal.
func NormalizeNoteText(text string) string {
	return strings.ReplaceAll(text, "www.", "")
}

// FilterNew drops candidate notes whose normalized text already exists on
// the target entity. Dedup is purely content based: mirrored notes are
// never edited and the review service exposes no per-note id that is
// stable across re-runs, so text equality is the only safe key.
func FilterNew(candidates []models.NoteRecord, existing []ftrack.Note) []models.NoteRecord {
	seen := make(map[string]struct{}, len(existing))
	for _, note := range existing {
		seen[NormalizeNoteText(note.Content)] = struct{}{}
	}

	kept := candidates[:0:0]
	for _, candidate := range candidates {
		if _, dup := seen[NormalizeNoteText(candidate.Text)]; dup {
			log.Info().
				Str("author", candidate.Username).
				Msg("Note already mirrored, skipping")
			continue
		}
		kept = append(kept, candidate)
	}
	return kept
}
