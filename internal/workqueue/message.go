// Package workqueue delivers change notifications produced by the sandboxing
// engines: queued work for downstream processors, and broadcasts for
// connected clients.
package workqueue

import "context"

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

type Status string

const (
	StatusUpdate   Status = "UPDATE"
	StatusHidden   Status = "HIDDEN"
	StatusUnhidden Status = "UNHIDDEN"
	StatusDeletion Status = "DELETION"
)

type Kind string

// Queued work.
const (
	KindGraphProperty             Kind = "graphProperty"
	KindElementImage              Kind = "elementImage"
	KindTextUpdated               Kind = "textUpdated"
	KindVertexDeletion            Kind = "vertexDeletion"
	KindVertexHidden              Kind = "vertexHidden"
	KindVertexUnhidden            Kind = "vertexUnhidden"
	KindVerticesDeletion          Kind = "verticesDeletion"
	KindEdgeDeletion              Kind = "edgeDeletion"
	KindEdgeHidden                Kind = "edgeHidden"
	KindEdgeUnhidden              Kind = "edgeUnhidden"
	KindPropertyUnhide            Kind = "propertyUnhide"
	KindPropertyDeletion          Kind = "propertyDeletion"
	KindPublishedVertexDeletion   Kind = "publishedVertexDeletion"
	KindPublishedEdgeDeletion     Kind = "publishedEdgeDeletion"
	KindPublishedPropertyDeletion Kind = "publishedPropertyDeletion"
)

// Broadcasts.
const (
	KindPublishVertex       Kind = "publishVertex"
	KindPublishEdge         Kind = "publishEdge"
	KindPublishProperty     Kind = "publishProperty"
	KindUndoVertex          Kind = "undoVertex"
	KindUndoEdge            Kind = "undoEdge"
	KindUndoProperty        Kind = "undoProperty"
	KindUndoVertexDelete    Kind = "undoVertexDelete"
	KindUndoEdgeDelete      Kind = "undoEdgeDelete"
	KindUndoPropertyDelete  Kind = "undoPropertyDelete"
	KindUndoSandboxProperty Kind = "undoSandboxProperty"
)

type Message struct {
	Kind                  Kind     `json:"type"`
	ElementType           string   `json:"elementType,omitempty"`
	ElementID             string   `json:"elementId,omitempty"`
	VertexIDs             []string `json:"vertexIds,omitempty"`
	PropertyKey           string   `json:"propertyKey,omitempty"`
	PropertyName          string   `json:"propertyName,omitempty"`
	Status                Status   `json:"status,omitempty"`
	WorkspaceID           string   `json:"workspaceId,omitempty"`
	VisibilitySource      string   `json:"visibilitySource,omitempty"`
	BeforeActionTimestamp int64    `json:"beforeActionTimestamp,omitempty"`
	Priority              Priority `json:"priority,omitempty"`
}

// Queue is implemented by RedisQueue and LogQueue.
type Queue interface {
	Push(ctx context.Context, msg Message) error
	Broadcast(ctx context.Context, msg Message) error
}
