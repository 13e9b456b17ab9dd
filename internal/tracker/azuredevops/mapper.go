package azuredevops

import (
	"github.com/steveyegge/foundry/internal/tracker"
	"github.com/steveyegge/foundry/internal/types"
)

// toRawStructure converts Azure DevOps responses into the tracker-neutral
// project structure. Disabled work item types are dropped.
func toRawStructure(key types.SnapshotKey, wits []WorkItemType, cols []BoardColumn, fields []Field) *types.RawStructure {
	raw := &types.RawStructure{
		Organization:  key.Organization,
		Project:       key.Project,
		WorkItemTypes: make([]types.WorkItemTypeDef, 0, len(wits)),
		BoardColumns:  make([]types.BoardColumnDef, 0, len(cols)),
		CustomFields:  make([]types.FieldDef, 0, len(fields)),
	}

	for _, wit := range wits {
		if wit.IsDisabled {
			continue
		}
		def := types.WorkItemTypeDef{Name: wit.Name, States: make([]string, 0, len(wit.States))}
		for _, s := range wit.States {
			def.States = append(def.States, s.Name)
		}
		raw.WorkItemTypes = append(raw.WorkItemTypes, def)
	}

	for _, col := range cols {
		def := types.BoardColumnDef{
			Name:       col.Name,
			ColumnType: col.ColumnType,
			ItemLimit:  col.ItemLimit,
		}
		if len(col.StateMappings) > 0 {
			def.StateMappings = make(map[string]string, len(col.StateMappings))
			for witName, state := range col.StateMappings {
				def.StateMappings[witName] = state
			}
		}
		raw.BoardColumns = append(raw.BoardColumns, def)
	}

	for _, f := range fields {
		raw.CustomFields = append(raw.CustomFields, types.FieldDef{
			ReferenceName: f.ReferenceName,
			Name:          f.Name,
			Type:          f.Type,
			Required:      f.IsRequired,
		})
	}

	return raw
}

// stateOps builds the patch that moves a work item to a state. The phase
// marker goes in the same patch so both land or neither does.
func stateOps(to tracker.RemoteState) []PatchOperation {
	ops := []PatchOperation{
		{Op: "add", Path: "/fields/System.State", Value: to.State},
	}
	if to.Phase != "" {
		ops = append(ops, PatchOperation{Op: "add", Path: "/fields/" + PhaseField, Value: string(to.Phase)})
	}
	return ops
}

// hyperlinkOps builds the patch that attaches an artifact as a hyperlink
// relation. The comment carries the artifact kind and title.
func hyperlinkOps(link types.ArtifactLink) []PatchOperation {
	comment := link.Kind
	if link.Title != "" {
		comment += ": " + link.Title
	}
	return []PatchOperation{{
		Op:   "add",
		Path: "/relations/-",
		Value: Relation{
			Rel:        "Hyperlink",
			URL:        link.URL,
			Attributes: map[string]interface{}{"comment": comment},
		},
	}}
}
