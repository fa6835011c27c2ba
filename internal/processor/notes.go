package processor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sketchsync/pkg/models"
)

// annotationTypeSketch marks a drawing-only annotation with no text.
const annotationTypeSketch = "sketch"

// Extractor turns a review item's annotations into note records ready for
// mirroring.
type Extractor struct {
	review ReviewAPI
}

// NewExtractor creates an extractor over the review API.
func NewExtractor(review ReviewAPI) *Extractor {
	return &Extractor{review: review}
}

// Extract fetches the item's annotations and flattened sketches and builds
// one note record per text annotation. Sketch-only annotations are skipped.
// When a flattened sketch exists for an annotation's frame, the note gets
// the sketch descriptor and the adjusted frame number. An item with no text
// annotations yields nil, which means "nothing to sync", not an error.
func (e *Extractor) Extract(ctx context.Context, item models.ReviewMediaItem, reviewID, itemLink string) ([]models.NoteRecord, error) {
	itemID := item.ID.String()

	annotations, err := e.review.GetAnnotations(ctx, itemID, reviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch annotations for item %s: %w", itemID, err)
	}

	var notes []models.NoteRecord
	for _, annotation := range annotations {
		if annotation.Type == annotationTypeSketch {
			continue
		}

		notes = append(notes, models.NoteRecord{
			Username: annotation.Creator.Username,
			Text:     CommentText(annotation.Creator.Username, annotation.Text, itemLink),
			Frame:    annotation.Frame,
		})
	}

	if len(notes) == 0 {
		log.Info().Str("item", item.Name).Msg("No notes to sync for review item")
		return nil, nil
	}

	sketches, err := e.review.GetFlattenedAnnotations(ctx, itemID, reviewID, true, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch flattened sketches for item %s: %w", itemID, err)
	}

	byFrame := make(map[int]models.SketchFrame, len(sketches))
	for _, sketch := range sketches {
		byFrame[sketch.Frame] = sketch
	}

	for i := range notes {
		if notes[i].Frame == nil {
			continue
		}
		sketch, ok := byFrame[*notes[i].Frame]
		if !ok {
			continue
		}
		adjusted := sketch.AdjustedFrame
		sk := sketch
		notes[i].Frame = &adjusted
		notes[i].Sketch = &sk
	}

	return notes, nil
}

// CommentText renders the ftrack note body for one annotation: author,
// text, and a deep link into the review item.
func CommentText(username, text, itemLink string) string {
	return fmt.Sprintf("%s: %s\n\nSyncSketch link: %s", username, text, itemLink)
}

// ItemLink builds the per-item deep link into a review.
func ItemLink(reviewLink, itemID string) string {
	return reviewLink + "#/" + itemID
}

// NormalizeReviewLink strips the redundant "www." host prefix that some
// payload variants carry. Both forms of the same link must compare equal in
// note dedup, so link construction always uses the stripped form.
func NormalizeReviewLink(link string) string {
	return NormalizeNoteText(link)
}
