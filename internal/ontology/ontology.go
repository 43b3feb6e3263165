// Package ontology holds the property and relationship definitions the
// sandboxing engines consult.
package ontology

import (
	"sort"
	"sync"
)

const (
	ConceptType         = "http://graphdesk.io#conceptType"
	Title               = "http://graphdesk.io#title"
	VisibilityJSON      = "http://graphdesk.io#visibilityJson"
	ModifiedBy          = "http://graphdesk.io#modifiedBy"
	ModifiedDate        = "http://graphdesk.io#modifiedDate"
	EntityImageVertexID = "http://graphdesk.io#entityImageVertexId"
	RowKey              = "http://graphdesk.io#rowKey"
	DetectedObject      = "http://graphdesk.io#detectedObject"
	Justification       = "http://graphdesk.io#justification"
)

const (
	IntentEntityHasImage                = "entityHasImage"
	IntentArtifactContainsImageOfEntity = "artifactContainsImageOfEntity"
)

const (
	EntityHasImageRaw             = "http://graphdesk.io#entityHasImageRaw"
	ArtifactContainsImageOfEntity = "http://graphdesk.io#artifactContainsImageOfEntity"
)

// MetadataVisibilityJSON is the property metadata key holding a
// VisibilityJSON document.
const MetadataVisibilityJSON = VisibilityJSON

type Property struct {
	IRI         string
	DisplayName string
	UserVisible bool

	// DependentPropertyIRIs are deleted along with this property.
	DependentPropertyIRIs []string
}

type Relationship struct {
	IRI         string
	DisplayName string
	Intents     []string
}

type Concept struct {
	IRI         string
	DisplayName string
}

// Registry is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	properties    map[string]Property
	relationships map[string]Relationship
	concepts      map[string]Concept
}

func NewRegistry() *Registry {
	return &Registry{
		properties:    make(map[string]Property),
		relationships: make(map[string]Relationship),
		concepts:      make(map[string]Concept),
	}
}

// NewDefaultRegistry returns a registry preloaded with the system
// properties and the well-known image relationships.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, iri := range []string{
		ConceptType, VisibilityJSON, ModifiedBy, ModifiedDate,
		EntityImageVertexID, RowKey, DetectedObject, Justification,
	} {
		r.AddProperty(Property{IRI: iri, UserVisible: false})
	}
	r.AddProperty(Property{IRI: Title, DisplayName: "Title", UserVisible: true})
	r.AddRelationship(Relationship{IRI: EntityHasImageRaw, DisplayName: "Has Image", Intents: []string{IntentEntityHasImage}})
	r.AddRelationship(Relationship{IRI: ArtifactContainsImageOfEntity, DisplayName: "Contains Image of", Intents: []string{IntentArtifactContainsImageOfEntity}})
	r.AddConcept(Concept{IRI: "http://graphdesk.io#thing", DisplayName: "Thing"})
	return r
}

func (r *Registry) AddProperty(p Property) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.properties[p.IRI] = p
}

func (r *Registry) AddRelationship(rel Relationship) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relationships[rel.IRI] = rel
}

func (r *Registry) AddConcept(c Concept) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.concepts[c.IRI] = c
}

func (r *Registry) PropertyByIRI(iri string) (Property, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.properties[iri]
	return p, ok
}

func (r *Registry) ConceptByIRI(iri string) (Concept, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.concepts[iri]
	return c, ok
}

// RelationshipIRIByIntent returns the first relationship, by IRI, that
// declares intent.
func (r *Registry) RelationshipIRIByIntent(intent string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matches []string
	for iri, rel := range r.relationships {
		for _, candidate := range rel.Intents {
			if candidate == intent {
				matches = append(matches, iri)
				break
			}
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[0], true
}

// IsUserVisible treats undefined properties as user edits.
func (r *Registry) IsUserVisible(iri string) bool {
	p, ok := r.PropertyByIRI(iri)
	if !ok {
		return true
	}
	return p.UserVisible
}
