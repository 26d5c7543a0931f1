package service

import (
	"time"

	"keepsake/internal/audit/models"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
)

// EventResponse is the wire shape of an audit event, used by the export API
// and the Kafka fan-out.
type EventResponse struct {
	EventID        string    `json:"event_id"`
	StreamID       string    `json:"stream_id"`
	Seq            int64     `json:"seq"`
	EventType      string    `json:"event_type"`
	ActorType      string    `json:"actor_type"`
	TimestampUTC   time.Time `json:"timestamp_utc"`
	TimestampLocal string    `json:"timestamp_local"`
	Region         string    `json:"region"`
	Outcome        string    `json:"outcome"`
	SubjectID      string    `json:"subject_id,omitempty"`
	ConsentType    string    `json:"consent_type,omitempty"`
	ConsentVersion int       `json:"consent_version,omitempty"`
	ObjectID       string    `json:"object_id,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	PrevHash       string    `json:"prev_hash"`
	SelfHash       string    `json:"self_hash"`
}

func ToResponse(e *models.Event) EventResponse {
	r := EventResponse{
		EventID:        e.ID.String(),
		StreamID:       e.Stream.String(),
		Seq:            e.Seq,
		EventType:      string(e.Type),
		ActorType:      string(e.ActorType),
		TimestampUTC:   e.TimestampUTC,
		TimestampLocal: e.TimestampLocal,
		Region:         string(e.Region),
		Outcome:        string(e.Outcome),
		ConsentType:    e.ConsentType,
		ConsentVersion: e.ConsentVersion,
		Detail:         e.Detail,
		PrevHash:       e.PrevHash,
		SelfHash:       e.SelfHash,
	}
	if !e.SubjectID.IsNil() {
		r.SubjectID = e.SubjectID.String()
	}
	if !e.ObjectID.IsNil() {
		r.ObjectID = e.ObjectID.String()
	}
	return r
}

// ToEvent parses a wire event back into the model, for chains sealed on a
// device and shipped for reconciliation.
func (r EventResponse) ToEvent() (models.Event, error) {
	eventID, err := id.ParseEventID(r.EventID)
	if err != nil {
		return models.Event{}, err
	}
	stream, err := id.ParseStreamID(r.StreamID)
	if err != nil {
		return models.Event{}, err
	}
	e := models.Event{
		ID:             eventID,
		Stream:         stream,
		Seq:            r.Seq,
		Type:           models.EventType(r.EventType),
		ActorType:      id.ActorType(r.ActorType),
		TimestampUTC:   r.TimestampUTC.UTC(),
		TimestampLocal: r.TimestampLocal,
		Region:         id.Region(r.Region),
		Outcome:        models.Outcome(r.Outcome),
		ConsentType:    r.ConsentType,
		ConsentVersion: r.ConsentVersion,
		Detail:         r.Detail,
		PrevHash:       r.PrevHash,
		SelfHash:       r.SelfHash,
	}
	if r.SubjectID != "" {
		if e.SubjectID, err = id.ParseSubjectID(r.SubjectID); err != nil {
			return models.Event{}, err
		}
	}
	if r.ObjectID != "" {
		if e.ObjectID, err = id.ParseObjectID(r.ObjectID); err != nil {
			return models.Event{}, err
		}
	}
	if !e.Type.IsValid() || !e.ActorType.IsValid() || !e.Outcome.IsValid() {
		return models.Event{}, dErrors.New(dErrors.CodeValidation, "event "+r.EventID+" has an unknown type, actor or outcome")
	}
	return e, nil
}
