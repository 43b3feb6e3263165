package workspace

import (
	"encoding/json"
	"errors"
	"fmt"

	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/visibility"
)

// DiffItem is one of *VertexDiffItem, *EdgeDiffItem or *PropertyDiffItem.
type DiffItem interface {
	diffItem()
}

type VertexDiffItem struct {
	VertexID       string                     `json:"vertexId"`
	Title          string                     `json:"title"`
	ConceptType    string                     `json:"conceptType,omitempty"`
	VisibilityJSON *visibility.VisibilityJSON `json:"visibilityJson"`
	SandboxStatus  SandboxStatus              `json:"sandboxStatus"`
	Deleted        bool                       `json:"deleted"`
	Visible        bool                       `json:"visible"`
}

type EdgeDiffItem struct {
	EdgeID         string                     `json:"edgeId"`
	Label          string                     `json:"label"`
	OutVertexID    string                     `json:"outVertexId"`
	InVertexID     string                     `json:"inVertexId"`
	VisibilityJSON *visibility.VisibilityJSON `json:"visibilityJson"`
	SandboxStatus  SandboxStatus              `json:"sandboxStatus"`
	Deleted        bool                       `json:"deleted"`
}

type PropertyDiffItem struct {
	ElementType      string        `json:"elementType"`
	ElementID        string        `json:"elementId"`
	ElementConcept   string        `json:"elementConcept,omitempty"`
	Name             string        `json:"name"`
	Key              string        `json:"key"`
	OldData          *PropertyData `json:"old,omitempty"`
	NewData          *PropertyData `json:"new"`
	SandboxStatus    SandboxStatus `json:"sandboxStatus"`
	Deleted          bool          `json:"deleted"`
	VisibilityString string        `json:"visibilityString"`
}

func (*VertexDiffItem) diffItem()   {}
func (*EdgeDiffItem) diffItem()     {}
func (*PropertyDiffItem) diffItem() {}

func (i *VertexDiffItem) MarshalJSON() ([]byte, error) {
	type plain VertexDiffItem
	return json.Marshal(struct {
		Type string `json:"type"`
		*plain
	}{"VertexDiffItem", (*plain)(i)})
}

func (i *EdgeDiffItem) MarshalJSON() ([]byte, error) {
	type plain EdgeDiffItem
	return json.Marshal(struct {
		Type string `json:"type"`
		*plain
	}{"EdgeDiffItem", (*plain)(i)})
}

func (i *PropertyDiffItem) MarshalJSON() ([]byte, error) {
	type plain PropertyDiffItem
	return json.Marshal(struct {
		Type string `json:"type"`
		*plain
	}{"PropertyDiffItem", (*plain)(i)})
}

// PropertyData is the snapshot of one property copy shown in a diff.
type PropertyData struct {
	Key        string         `json:"key"`
	Name       string         `json:"name"`
	Value      any            `json:"value"`
	Visibility string         `json:"visibility"`
	Metadata   graph.Metadata `json:"metadata,omitempty"`
}

func propertyData(p *graph.Property) *PropertyData {
	if p == nil {
		return nil
	}
	return &PropertyData{Key: p.Key, Name: p.Name, Value: p.Value, Visibility: p.Visibility.String(), Metadata: p.Metadata.Clone()}
}

type Diff struct {
	Diffs []DiffItem `json:"diffs"`
}

// Action is what a client asks for an item in a publish request. Undo
// ignores it.
type Action string

const (
	ActionAddOrUpdate Action = "addOrUpdate"
	ActionDelete      Action = "delete"
)

// Item is a client-submitted publish or undo target: one of *VertexItem,
// *RelationshipItem or *PropertyItem.
type Item interface {
	base() *itemBase
	Validate() error
}

type itemBase struct {
	Action       Action `json:"action,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (b *itemBase) base() *itemBase { return b }

func (b *itemBase) fail(msg string) {
	if b.ErrorMessage == "" {
		b.ErrorMessage = msg
	}
}

type VertexItem struct {
	itemBase
	VertexID string `json:"vertexId"`
}

type RelationshipItem struct {
	itemBase
	EdgeID string `json:"edgeId"`
}

type PropertyItem struct {
	itemBase
	ElementID string `json:"elementId,omitempty"`
	VertexID  string `json:"vertexId,omitempty"`
	EdgeID    string `json:"edgeId,omitempty"`
	Key       string `json:"key"`
	Name      string `json:"name"`
	// VisibilityString narrows an undo to one copy when set.
	VisibilityString *string `json:"visibilityString,omitempty"`
}

var errRequired = errors.New("is required")

func required(field string) error {
	return fmt.Errorf("%s %w", field, errRequired)
}

func (i *VertexItem) Validate() error {
	if i.VertexID == "" {
		return required("vertexId")
	}
	return nil
}

func (i *RelationshipItem) Validate() error {
	if i.EdgeID == "" {
		return required("edgeId")
	}
	return nil
}

// Validate accepts an empty key, which is the default property key.
func (i *PropertyItem) Validate() error {
	if i.Name == "" {
		return required("name")
	}
	if i.ElementID == "" && i.VertexID == "" && i.EdgeID == "" {
		return required("elementId")
	}
	return nil
}

// ErrorMessage returns the failure recorded on item, if any.
func ErrorMessage(item Item) string {
	return item.base().ErrorMessage
}

func ActionOf(item Item) Action {
	return item.base().Action
}

func (i *VertexItem) MarshalJSON() ([]byte, error) {
	type plain VertexItem
	return json.Marshal(struct {
		Type string `json:"type"`
		*plain
	}{"vertex", (*plain)(i)})
}

func (i *RelationshipItem) MarshalJSON() ([]byte, error) {
	type plain RelationshipItem
	return json.Marshal(struct {
		Type string `json:"type"`
		*plain
	}{"relationship", (*plain)(i)})
}

func (i *PropertyItem) MarshalJSON() ([]byte, error) {
	type plain PropertyItem
	return json.Marshal(struct {
		Type string `json:"type"`
		*plain
	}{"property", (*plain)(i)})
}

// Items decodes a JSON array of tagged items.
type Items []Item

func (items *Items) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Items, 0, len(raws))
	for i, raw := range raws {
		item, err := decodeItem(raw)
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, item)
	}
	*items = out
	return nil
}

func decodeItem(raw json.RawMessage) (Item, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, err
	}
	var item Item
	switch tag.Type {
	case "vertex":
		item = &VertexItem{}
	case "relationship":
		item = &RelationshipItem{}
	case "property":
		item = &PropertyItem{}
	default:
		return nil, fmt.Errorf("unknown item type %q", tag.Type)
	}
	if err := json.Unmarshal(raw, item); err != nil {
		return nil, err
	}
	return item, nil
}

type PublishResponse struct {
	Success  bool   `json:"success"`
	Failures []Item `json:"failures"`
}

type UndoResponse struct {
	Success  bool   `json:"success"`
	Failures []Item `json:"failures"`
}

func failures(items []Item) []Item {
	out := []Item{}
	for _, item := range items {
		if ErrorMessage(item) != "" {
			out = append(out, item)
		}
	}
	return out
}
