package workspace

import (
	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/ontology"
	"graphdesk/api/internal/visibility"
)

type SandboxStatus string

const (
	StatusPublic        SandboxStatus = "PUBLIC"
	StatusPublicChanged SandboxStatus = "PUBLIC_CHANGED"
	StatusPrivate       SandboxStatus = "PRIVATE"
)

// ElementVisibilityJSON reads the element's VisibilityJSON property. A
// missing or malformed value yields nil.
func ElementVisibilityJSON(el *graph.Element) *visibility.VisibilityJSON {
	p := el.Property("", ontology.VisibilityJSON)
	if p == nil {
		return nil
	}
	raw, ok := p.Value.(string)
	if !ok {
		return nil
	}
	vj, err := visibility.ParseJSON(raw)
	if err != nil {
		return nil
	}
	return vj
}

// PropertyVisibilityJSON reads the VisibilityJSON metadata of a property.
func PropertyVisibilityJSON(p *graph.Property) *visibility.VisibilityJSON {
	raw, ok := p.MetadataValue(ontology.MetadataVisibilityJSON)
	if !ok {
		return nil
	}
	vj, err := visibility.ParseJSON(raw)
	if err != nil {
		return nil
	}
	return vj
}

func statusOf(vj *visibility.VisibilityJSON, workspaceID string) SandboxStatus {
	if vj == nil || workspaceID == "" || !vj.HasWorkspace(workspaceID) {
		return StatusPublic
	}
	return StatusPrivate
}

// ElementSandboxStatus is PRIVATE while the element's VisibilityJSON names
// workspaceID, else PUBLIC.
func ElementSandboxStatus(el *graph.Element, workspaceID string) SandboxStatus {
	return statusOf(ElementVisibilityJSON(el), workspaceID)
}

// PropertySandboxStatuses classifies props together. A private copy with a
// public copy of the same key and name is PUBLIC_CHANGED.
func PropertySandboxStatuses(props []*graph.Property, workspaceID string) []SandboxStatus {
	statuses := make([]SandboxStatus, len(props))
	for i, p := range props {
		statuses[i] = statusOf(PropertyVisibilityJSON(p), workspaceID)
	}
	for i, p := range props {
		if statuses[i] != StatusPrivate {
			continue
		}
		for j, other := range props {
			if i != j && statuses[j] == StatusPublic && other.Key == p.Key && other.Name == p.Name {
				statuses[i] = StatusPublicChanged
				break
			}
		}
	}
	return statuses
}

// publicPropertyEdited reports whether another copy of p's key and name is
// an edit overlay.
func publicPropertyEdited(props []*graph.Property, statuses []SandboxStatus, p *graph.Property) bool {
	for i, other := range props {
		if other.Key == p.Key && other.Name == p.Name && statuses[i] == StatusPublicChanged {
			return true
		}
	}
	return false
}

// existingProperty returns the public copy an overlay of p replaces.
func existingProperty(props []*graph.Property, statuses []SandboxStatus, p *graph.Property) *graph.Property {
	for i, other := range props {
		if other.Key == p.Key && other.Name == p.Name && statuses[i] == StatusPublic {
			return other
		}
	}
	return nil
}

// supersededDelete returns the first copy that is hidden for auths and has
// been edited in the workspace since.
func supersededDelete(props []*graph.Property, statuses []SandboxStatus, auths visibility.Authorizations) *graph.Property {
	for _, p := range props {
		if p.IsHidden(auths) && publicPropertyEdited(props, statuses, p) {
			return p
		}
	}
	return nil
}
