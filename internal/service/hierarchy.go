package service

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// LayerNode is a published layer as shown in the layer tree.
type LayerNode struct {
	Layer
	OpacityText int       `json:"opacity_text" doc:"Opacity as an integer percentage"`
	Info        LayerInfo `json:"info"`
}

// TreeNode is a resolved layer group with its layers and child groups.
type TreeNode struct {
	ID        string      `json:"id"`
	Slug      string      `json:"slug"`
	Name      string      `json:"name,omitempty"`
	Order     int         `json:"order"`
	Type      GroupType   `json:"type"`
	Active    bool        `json:"active" doc:"Whether the node is expanded"`
	IconClass string      `json:"icon_class,omitempty"`
	Layers    []LayerNode `json:"layers"`
	Children  []TreeNode  `json:"children"`
}

// Tree is the resolved forest, roots first by order.
type Tree []TreeNode

// Walk visits every node depth-first, parents before children.
func (t Tree) Walk(fn func(n TreeNode, depth int)) {
	var walk func(nodes []TreeNode, depth int)
	walk = func(nodes []TreeNode, depth int) {
		for _, n := range nodes {
			fn(n, depth)
			walk(n.Children, depth+1)
		}
	}
	walk(t, 0)
}

// Find returns the node with the given id.
func (t Tree) Find(id string) (TreeNode, bool) {
	var found TreeNode
	var ok bool
	t.Walk(func(n TreeNode, _ int) {
		if !ok && n.ID == id {
			found, ok = n, true
		}
	})
	return found, ok
}

// HierarchyInput is the flat data the resolver turns into a Tree.
type HierarchyInput struct {
	Groups        []LayerGroup
	Categories    []LayerGroup
	Subcategories []LayerGroup
	Subgroups     []LayerGroup
	// Layers is the full catalog; only published layers are attached.
	Layers []Layer
	// ActiveIDs is the current active set.
	ActiveIDs []string
}

// SplitByType partitions a flat group list into a HierarchyInput.
func SplitByType(groups []LayerGroup) HierarchyInput {
	var in HierarchyInput
	for _, g := range groups {
		switch g.Type {
		case GroupTypeGroup:
			in.Groups = append(in.Groups, g)
		case GroupTypeCategory:
			in.Categories = append(in.Categories, g)
		case GroupTypeSubcategory:
			in.Subcategories = append(in.Subcategories, g)
		case GroupTypeSubgroup:
			in.Subgroups = append(in.Subgroups, g)
		}
	}
	return in
}

// Resolver builds layer trees.
type Resolver struct {
	Logger zerolog.Logger
	// Info supplies citation info for layer nodes. Optional.
	Info func(Layer) LayerInfo
}

// Resolve builds the group → category → subcategory → subgroup forest.
func (r Resolver) Resolve(in HierarchyInput) Tree {
	if len(in.Groups) == 0 && len(in.Categories) == 0 {
		r.Logger.Info().Msg("no layer groups configured")
		return Tree{}
	}

	byID := make(map[string]LayerGroup)
	var all []LayerGroup
	for _, list := range [][]LayerGroup{in.Groups, in.Categories, in.Subcategories, in.Subgroups} {
		for _, g := range list {
			byID[g.ID] = g
			all = append(all, g)
		}
	}
	if err := ValidateHierarchy(all); err != nil {
		r.Logger.Warn().Err(err).Msg("misplaced layer groups will not be rendered")
	}

	layersByID := make(map[string]Layer, len(in.Layers))
	for _, l := range in.Layers {
		layersByID[l.ID] = l
	}
	var activeGroupIDs []string
	for _, id := range in.ActiveIDs {
		if l, ok := layersByID[id]; ok {
			activeGroupIDs = append(activeGroupIDs, l.GroupID)
		}
	}
	defaults, err := DefaultActiveGroups(byID, activeGroupIDs)
	if err != nil {
		r.Logger.Warn().Err(err).Msg("layer group hierarchy is inconsistent")
	}
	defaultSet := make(map[string]bool, len(defaults))
	for _, id := range defaults {
		defaultSet[id] = true
	}

	published := make(map[string][]Layer)
	for _, l := range in.Layers {
		if l.Published {
			published[l.GroupID] = append(published[l.GroupID], l)
		}
	}

	levels := [][]LayerGroup{in.Groups, in.Categories, in.Subcategories, in.Subgroups}
	var build func(level int, fatherID string) []TreeNode
	build = func(level int, fatherID string) []TreeNode {
		if level >= len(levels) {
			return nil
		}
		var nodes []LayerGroup
		for _, g := range levels[level] {
			if level == 0 {
				if g.FatherID != nil && *g.FatherID != "" {
					r.Logger.Warn().Str("group", g.ID).Msg("top-level group has a father, skipping")
					continue
				}
			} else if g.FatherID == nil || *g.FatherID != fatherID {
				continue
			}
			nodes = append(nodes, g)
		}
		sortByOrder(nodes)

		out := make([]TreeNode, 0, len(nodes))
		for _, g := range nodes {
			out = append(out, TreeNode{
				ID:        g.ID,
				Slug:      g.Slug,
				Name:      g.Name,
				Order:     g.Order,
				Type:      g.Type,
				Active:    effectiveActive(g, defaultSet),
				IconClass: g.IconClass,
				Layers:    r.layerNodes(published[g.ID], level >= 2),
				Children:  build(level+1, g.ID),
			})
		}
		return out
	}

	return Tree(build(0, ""))
}

func (r Resolver) layerNodes(layers []Layer, byDashboard bool) []LayerNode {
	sorted := append([]Layer(nil), layers...)
	if byDashboard {
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].DashboardOrder < sorted[j].DashboardOrder
		})
	}
	out := make([]LayerNode, 0, len(sorted))
	for _, l := range sorted {
		n := LayerNode{Layer: l, OpacityText: int(l.Opacity * 100)}
		if r.Info != nil {
			n.Info = r.Info(l)
		} else {
			n.Info = LayerInfo{Description: l.Description}
		}
		out = append(out, n)
	}
	return out
}

func effectiveActive(g LayerGroup, defaults map[string]bool) bool {
	if g.Active != nil {
		return *g.Active
	}
	return defaults[g.ID]
}

func sortByOrder(groups []LayerGroup) {
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Order < groups[j].Order })
}

// DefaultActiveGroups walks the father chain of every start group and
// returns each visited group id once, in visit order. A cycle stops that
// walk and is reported in the returned error; the ids gathered so far are
// still returned.
func DefaultActiveGroups(byID map[string]LayerGroup, start []string) ([]string, error) {
	var (
		out  []string
		seen = make(map[string]bool)
		errs []error
	)
	for _, id := range start {
		visited := make(map[string]bool)
		for cur := id; cur != ""; {
			if visited[cur] {
				errs = append(errs, fmt.Errorf("%w: at group %s", ErrHierarchyCycle, cur))
				break
			}
			visited[cur] = true
			if !seen[cur] {
				seen[cur] = true
				out = append(out, cur)
			}
			g, ok := byID[cur]
			if !ok || g.FatherID == nil {
				break
			}
			cur = *g.FatherID
		}
	}
	return out, errors.Join(errs...)
}

// ValidateHierarchy checks that every father chain is acyclic and that a
// node's type matches its depth.
func ValidateHierarchy(groups []LayerGroup) error {
	byID := make(map[string]LayerGroup, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	var errs []error
	for _, g := range groups {
		depth := 0
		visited := map[string]bool{g.ID: true}
		cur := g
		for cur.FatherID != nil && *cur.FatherID != "" {
			father, ok := byID[*cur.FatherID]
			if !ok {
				errs = append(errs, fmt.Errorf("group %s: unknown father %s", cur.ID, *cur.FatherID))
				depth = -1
				break
			}
			if visited[father.ID] {
				errs = append(errs, fmt.Errorf("%w: at group %s", ErrHierarchyCycle, g.ID))
				depth = -1
				break
			}
			visited[father.ID] = true
			depth++
			cur = father
		}
		if depth >= 0 && g.Type.depth() != depth {
			errs = append(errs, fmt.Errorf("group %s: type %q at depth %d", g.ID, g.Type, depth))
		}
	}
	return errors.Join(errs...)
}
