package catalog

import "sort"

// FolderRow is one folder as read from storage, before the tree is built.
type FolderRow struct {
	ID       int64
	Name     string
	ParentID *int64
}

type TestEntry struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	PassingScore    int    `json:"passing_score"`
	DurationMinutes int    `json:"duration_minutes"`
	QuestionCount   int    `json:"question_count"`
	FolderID        *int64 `json:"-"`
}

type FolderNode struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	ParentID   *int64       `json:"parent_id"`
	HasTests   bool         `json:"has_tests"`
	Tests      []TestEntry  `json:"tests"`
	Subfolders []FolderNode `json:"subfolders"`
}

// BuildCatalog arranges folders into a forest holding only the branches that
// lead to at least one of the given tests. Each node lists the tests it owns
// directly. Siblings are ordered by name, then id. A folder whose parent is
// not in folders is treated as a root.
func BuildCatalog(folders []FolderRow, tests []TestEntry) []FolderNode {
	known := make(map[int64]FolderRow, len(folders))
	for _, f := range folders {
		known[f.ID] = f
	}

	children := make(map[int64][]FolderRow)
	roots := make([]FolderRow, 0)
	for _, f := range folders {
		if f.ParentID != nil {
			if _, ok := known[*f.ParentID]; ok {
				children[*f.ParentID] = append(children[*f.ParentID], f)
				continue
			}
		}
		roots = append(roots, f)
	}

	owned := make(map[int64][]TestEntry)
	for _, t := range tests {
		if t.FolderID == nil {
			continue
		}
		owned[*t.FolderID] = append(owned[*t.FolderID], t)
	}

	visited := make(map[int64]bool, len(folders))
	var build func(f FolderRow) (FolderNode, bool)
	build = func(f FolderRow) (FolderNode, bool) {
		if visited[f.ID] {
			return FolderNode{}, false
		}
		visited[f.ID] = true

		node := FolderNode{
			ID:         f.ID,
			Name:       f.Name,
			ParentID:   f.ParentID,
			Tests:      owned[f.ID],
			Subfolders: make([]FolderNode, 0),
		}
		if node.Tests == nil {
			node.Tests = make([]TestEntry, 0)
		}
		sortTests(node.Tests)

		kids := children[f.ID]
		sortFolders(kids)
		for _, c := range kids {
			if child, ok := build(c); ok {
				node.Subfolders = append(node.Subfolders, child)
			}
		}
		node.HasTests = len(node.Tests) > 0 || len(node.Subfolders) > 0
		return node, node.HasTests
	}

	sortFolders(roots)
	out := make([]FolderNode, 0, len(roots))
	for _, f := range roots {
		if node, ok := build(f); ok {
			out = append(out, node)
		}
	}
	return out
}

func sortFolders(items []FolderRow) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID < items[j].ID
	})
}

func sortTests(items []TestEntry) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Title != items[j].Title {
			return items[i].Title < items[j].Title
		}
		return items[i].ID < items[j].ID
	})
}
