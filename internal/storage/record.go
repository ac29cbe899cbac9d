package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Agenta-AI/agenta-sub004/internal/model"
)

// SpanRecord is one row of the spans table with the structured buckets
// held as encoded JSON. Both span stores read and write through it.
type SpanRecord struct {
	ProjectID     uuid.UUID
	RootID        uuid.UUID
	TreeID        uuid.UUID
	TreeType      string
	NodeID        uuid.UUID
	NodeType      string
	NodeName      string
	ParentID      *uuid.UUID
	TimeStart     time.Time
	TimeEnd       time.Time
	StatusCode    string
	StatusMessage string

	Exception []byte
	Data      []byte
	Metrics   []byte
	Meta      []byte
	Tags      []byte
	Flags     []byte
	Refs      []byte
	Links     []byte
	OTel      []byte

	CreatedAt time.Time
	UpdatedAt *time.Time
	CreatedBy uuid.UUID
	UpdatedBy *uuid.UUID
}

// spanColumnNames lists the spans table columns in SpanRecord order.
var spanColumnNames = []string{
	"project_id", "root_id", "tree_id", "tree_type", "node_id", "node_type", "node_name",
	"parent_id", "time_start", "time_end", "status_code", "status_message",
	"exception", "data", "metrics", "meta", "tags", "flags", "refs", "links", "otel",
	"created_at", "updated_at", "created_by", "updated_by",
}

// NewSpanRecord encodes s for writing. The record is stamped as created by
// actor at now; on overwrite the store turns these into the updated_* pair.
func NewSpanRecord(projectID, actor uuid.UUID, now time.Time, s model.Span) (SpanRecord, error) {
	r := SpanRecord{
		ProjectID:     projectID,
		RootID:        s.Root.ID,
		TreeID:        s.Tree.ID,
		TreeType:      s.Tree.Type,
		NodeID:        s.Node.ID,
		NodeType:      string(s.Node.Type),
		NodeName:      s.Node.Name,
		TimeStart:     s.Time.Start.UTC(),
		TimeEnd:       s.Time.End.UTC(),
		StatusCode:    string(s.Status.Code),
		StatusMessage: s.Status.Message,
		CreatedAt:     now.UTC(),
		CreatedBy:     actor,
	}
	if s.Parent != nil {
		id := s.Parent.ID
		r.ParentID = &id
	}

	var err error
	fields := []struct {
		dst   *[]byte
		value any
		empty bool
	}{
		{&r.Exception, s.Exception, s.Exception == nil},
		{&r.Data, s.Data, len(s.Data) == 0},
		{&r.Metrics, s.Metrics, len(s.Metrics) == 0},
		{&r.Meta, s.Meta, len(s.Meta) == 0},
		{&r.Tags, s.Tags, len(s.Tags) == 0},
		{&r.Flags, s.Flags, len(s.Flags) == 0},
		{&r.Refs, s.Refs, len(s.Refs) == 0},
		{&r.Links, s.Links, len(s.Links) == 0},
		{&r.OTel, s.OTel, s.OTel == nil},
	}
	for _, f := range fields {
		if f.empty {
			continue
		}
		if *f.dst, err = json.Marshal(f.value); err != nil {
			return SpanRecord{}, fmt.Errorf("storage: encode span %s: %w", s.Node.ID, err)
		}
	}
	return r, nil
}

// Span decodes the record back into its canonical form.
func (r SpanRecord) Span() (model.Span, error) {
	s := model.Span{
		Root: model.RootRef{ID: r.RootID},
		Tree: model.TreeRef{ID: r.TreeID, Type: r.TreeType},
		Node: model.NodeRef{ID: r.NodeID, Type: model.NodeType(r.NodeType), Name: r.NodeName},
		Time: model.SpanTime{
			Start:    r.TimeStart.UTC(),
			End:      r.TimeEnd.UTC(),
			Duration: float64(r.TimeEnd.Sub(r.TimeStart).Microseconds()) / 1000,
		},
		Status: model.Status{Code: model.StatusCode(r.StatusCode), Message: r.StatusMessage},
		Lifecycle: &model.Lifecycle{
			CreatedAt: r.CreatedAt.UTC(),
			UpdatedAt: r.UpdatedAt,
			CreatedBy: r.CreatedBy,
			UpdatedBy: r.UpdatedBy,
		},
	}
	if r.ParentID != nil {
		s.Parent = &model.ParentRef{ID: *r.ParentID}
	}

	fields := []struct {
		src []byte
		dst any
	}{
		{r.Exception, &s.Exception},
		{r.Data, &s.Data},
		{r.Metrics, &s.Metrics},
		{r.Meta, &s.Meta},
		{r.Tags, &s.Tags},
		{r.Flags, &s.Flags},
		{r.Refs, &s.Refs},
		{r.Links, &s.Links},
		{r.OTel, &s.OTel},
	}
	for _, f := range fields {
		if len(f.src) == 0 {
			continue
		}
		if err := json.Unmarshal(f.src, f.dst); err != nil {
			return model.Span{}, fmt.Errorf("storage: decode span %s: %w", r.NodeID, err)
		}
	}
	return s, nil
}

// Args returns the record's values in spanColumnNames order, converted for d.
func (r SpanRecord) Args(d Dialect) []any {
	return []any{
		d.UUID(r.ProjectID), d.UUID(r.RootID), d.UUID(r.TreeID), r.TreeType,
		d.UUID(r.NodeID), r.NodeType, r.NodeName, nullUUID(d, r.ParentID),
		d.Time(r.TimeStart), d.Time(r.TimeEnd), r.StatusCode, r.StatusMessage,
		jsonArg(r.Exception), jsonArg(r.Data), jsonArg(r.Metrics), jsonArg(r.Meta),
		jsonArg(r.Tags), jsonArg(r.Flags), jsonArg(r.Refs), jsonArg(r.Links), jsonArg(r.OTel),
		d.Time(r.CreatedAt), nullTime(d, r.UpdatedAt), d.UUID(r.CreatedBy), nullUUID(d, r.UpdatedBy),
	}
}

func jsonArg(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func nullUUID(d Dialect, id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return d.UUID(*id)
}

func nullTime(d Dialect, t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.Time(*t)
}

// Dest returns scan destinations in select order (every column but
// project_id) for drivers that decode times and uuids natively.
func (r *SpanRecord) Dest() []any {
	return []any{
		&r.RootID, &r.TreeID, &r.TreeType, &r.NodeID, &r.NodeType, &r.NodeName,
		&r.ParentID, &r.TimeStart, &r.TimeEnd, &r.StatusCode, &r.StatusMessage,
		&r.Exception, &r.Data, &r.Metrics, &r.Meta, &r.Tags, &r.Flags, &r.Refs, &r.Links, &r.OTel,
		&r.CreatedAt, &r.UpdatedAt, &r.CreatedBy, &r.UpdatedBy,
	}
}
