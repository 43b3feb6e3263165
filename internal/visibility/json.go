package visibility

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// VisibilityJSON records the visibility an element was created with and the
// workspaces it is still private to. An empty workspace set means public.
type VisibilityJSON struct {
	Source     string   `json:"source"`
	Workspaces []string `json:"workspaces"`
}

func NewVisibilityJSON(source string, workspaces ...string) VisibilityJSON {
	vj := VisibilityJSON{Source: source}
	for _, ws := range workspaces {
		vj = vj.AddWorkspace(ws)
	}
	return vj
}

// ParseJSON decodes the stored string form. An empty string decodes to nil.
func ParseJSON(raw string) (*VisibilityJSON, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var vj VisibilityJSON
	if err := json.Unmarshal([]byte(raw), &vj); err != nil {
		return nil, fmt.Errorf("parse visibility json: %w", err)
	}
	vj.Workspaces = normalize(vj.Workspaces)
	return &vj, nil
}

func (vj VisibilityJSON) HasWorkspace(workspaceID string) bool {
	for _, ws := range vj.Workspaces {
		if ws == workspaceID {
			return true
		}
	}
	return false
}

func (vj VisibilityJSON) AddWorkspace(workspaceID string) VisibilityJSON {
	if workspaceID == "" || vj.HasWorkspace(workspaceID) {
		return vj.clone()
	}
	out := vj.clone()
	out.Workspaces = normalize(append(out.Workspaces, workspaceID))
	return out
}

func (vj VisibilityJSON) RemoveWorkspace(workspaceID string) VisibilityJSON {
	out := VisibilityJSON{Source: vj.Source, Workspaces: []string{}}
	for _, ws := range vj.Workspaces {
		if ws != workspaceID {
			out.Workspaces = append(out.Workspaces, ws)
		}
	}
	return out
}

func (vj VisibilityJSON) RemoveAllWorkspaces() VisibilityJSON {
	return VisibilityJSON{Source: vj.Source, Workspaces: []string{}}
}

func (vj VisibilityJSON) Equal(other VisibilityJSON) bool {
	if vj.Source != other.Source || len(vj.Workspaces) != len(other.Workspaces) {
		return false
	}
	a, b := normalize(vj.Workspaces), normalize(other.Workspaces)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String returns the JSON encoding stored in metadata and properties.
func (vj VisibilityJSON) String() string {
	out := vj.clone()
	if out.Workspaces == nil {
		out.Workspaces = []string{}
	}
	raw, _ := json.Marshal(out)
	return string(raw)
}

func (vj VisibilityJSON) clone() VisibilityJSON {
	out := VisibilityJSON{Source: vj.Source, Workspaces: make([]string, len(vj.Workspaces))}
	copy(out.Workspaces, vj.Workspaces)
	return out
}

func normalize(workspaces []string) []string {
	seen := make(map[string]struct{}, len(workspaces))
	out := make([]string, 0, len(workspaces))
	for _, ws := range workspaces {
		if ws == "" {
			continue
		}
		if _, ok := seen[ws]; ok {
			continue
		}
		seen[ws] = struct{}{}
		out = append(out, ws)
	}
	sort.Strings(out)
	return out
}
