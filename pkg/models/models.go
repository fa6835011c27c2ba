package models

import "encoding/json"

// Event topics emitted by the SyncSketch webhook leecher.
const (
	TopicReviewSessionEnd         = "syncsketch.review_session_end"
	TopicItemApprovalStatusChange = "syncsketch.item_approval_status_changed"
)

// Queue event statuses reported back to the events server.
const (
	EventStatusFinished = "finished"
	EventStatusFailed   = "failed"
)

// ReviewEvent is one queue-delivered occurrence of a SyncSketch event.
// Payload holds the raw webhook body of the source event; its shape depends
// on Topic (see ReviewSessionEndPayload and ItemStatusChangedPayload).
type ReviewEvent struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	DependsOn string          `json:"dependsOn,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventRef identifies a review/account/project inside event payloads.
type EventRef struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name,omitempty"`
	Link string      `json:"link,omitempty"`
}

// ReviewSessionEndPayload is the webhook body of a review_session_end event.
type ReviewSessionEndPayload struct {
	Action  string   `json:"action"`
	Review  EventRef `json:"review"`
	Account EventRef `json:"account"`
	Project EventRef `json:"project"`
}

// ItemStatusChangedPayload is the webhook body of an
// item_approval_status_changed event.
type ItemStatusChangedPayload struct {
	Action      string      `json:"action"`
	Account     EventRef    `json:"account"`
	ItemCreator EventUser   `json:"item_creator"`
	ItemID      json.Number `json:"item_id"`
	ItemName    string      `json:"item_name"`
	NewStatus   string      `json:"new_status"`
	OldStatus   string      `json:"old_status"`
	Project     EventRef    `json:"project"`
	Review      EventRef    `json:"review"`
	User        EventUser   `json:"user"`
}

// EventUser is the user block carried by SyncSketch webhook payloads.
type EventUser struct {
	ID       json.Number `json:"id,omitempty"`
	Email    string      `json:"email,omitempty"`
	Name     string      `json:"name,omitempty"`
	Username string      `json:"username,omitempty"`
}

// ReviewMediaItem is one piece of reviewable media inside a SyncSketch
// review. Metadata is an opaque JSON string written by the upload step and
// carries the AYON version id that links the item back to the pipeline.
type ReviewMediaItem struct {
	ID             json.Number `json:"id"`
	Name           string      `json:"name"`
	ApprovalStatus string      `json:"approval_status"`
	Metadata       string      `json:"metadata"`
}

// ItemMetadata is the parsed form of ReviewMediaItem.Metadata.
type ItemMetadata struct {
	AyonVersionID string `json:"ayonVersionID"`
}

// Annotation is a frame-stamped comment or sketch on a review item.
// Type "sketch" marks a drawing-only annotation with no text payload.
type Annotation struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Frame   *int      `json:"frame"`
	Creator EventUser `json:"creator"`
}

// SketchFrame is one flattened tracing-paper composite returned by the
// review service, keyed by the source frame number of the annotations it
// merges.
type SketchFrame struct {
	Frame         int    `json:"frame"`
	AdjustedFrame int    `json:"adjustedFrame"`
	URL           string `json:"url"`
	Data          string `json:"data,omitempty"`
}

// NoteRecord is one note extracted from a review item, ready to be mirrored
// to ftrack. Sketch is set when a flattened sketch exists for the note's
// frame; Frame then carries the adjusted frame number.
type NoteRecord struct {
	Username string
	Text     string
	Frame    *int
	Sketch   *SketchFrame
}

// PipelineVersion is an AYON version record. Attrib.FtrackID is empty when
// the ftrack integration has not linked the version yet, which is a valid
// state.
type PipelineVersion struct {
	ID     string        `json:"id"`
	Attrib VersionAttrib `json:"attrib"`
}

// VersionAttrib holds the cross-system attributes of an AYON version.
type VersionAttrib struct {
	FtrackID string `json:"ftrackId"`
}

// TrackingEntityRef points at the ftrack entity a review item resolves to.
type TrackingEntityRef struct {
	VersionID string // ftrack AssetVersion id
	TaskID    string // parent task id, may be empty
}

// StatusMappingEntry maps a SyncSketch approval status name onto an ftrack
// status name. Entries are studio-configured; names are matched
// case-insensitively with spaces collapsed to underscores.
type StatusMappingEntry struct {
	Name         string `koanf:"name" json:"name"`
	FtrackStatus string `koanf:"ftrack_status" json:"ftrack_status"`
}
