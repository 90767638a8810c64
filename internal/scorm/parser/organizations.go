package parser

import (
	"fmt"
	"strings"
)

const (
	defaultOrgID    = "default-org"
	defaultOrgTitle = "Course content"
)

// itemParser carries the counter used to synthesize missing item ids so
// they stay unique across the whole manifest.
type itemParser struct {
	seq int
}

func (p *itemParser) parseOrganizations(root Node) ([]Organization, string) {
	containers := descendants(root, "organizations")
	if len(containers) == 0 {
		return nil, ""
	}
	container := containers[0]
	defaultID := strings.TrimSpace(container.Attr("default"))

	orgNodes := container.Children("organization")
	if len(orgNodes) == 0 {
		// Items hung straight off <organizations>: one implicit organization.
		items := p.parseItems(container.Children("item"))
		if len(items) == 0 {
			return nil, defaultID
		}
		return []Organization{{ID: defaultOrgID, Title: defaultOrgTitle, Items: items}}, defaultID
	}

	var orgs []Organization
	for i, on := range orgNodes {
		org := Organization{
			ID:    orDefault(strings.TrimSpace(on.Attr("identifier")), fmt.Sprintf("org-%d", i)),
			Title: firstChildText(on, "title"),
		}
		if org.Title == "" {
			org.Title = orDefault(strings.TrimSpace(on.Attr("title")), fmt.Sprintf("Organization %d", i+1))
		}
		org.Items = p.parseItems(collectItems(on))
		if len(org.Items) == 0 {
			continue
		}
		orgs = append(orgs, org)
	}
	return orgs, defaultID
}

// collectItems finds the top-level items under n, looking through any
// non-item wrapper elements but never into an item.
func collectItems(n Node) []Node {
	var out []Node
	for _, c := range n.Children("") {
		if strings.EqualFold(c.Name(), "item") {
			out = append(out, c)
			continue
		}
		out = append(out, collectItems(c)...)
	}
	return out
}

func (p *itemParser) parseItems(nodes []Node) []Item {
	var items []Item
	for _, n := range nodes {
		if it, ok := p.parseItem(n); ok {
			items = append(items, it)
		}
	}
	return items
}

// parseItem returns false for items marked isvisible="false"; their whole
// subtree is pruned.
func (p *itemParser) parseItem(n Node) (Item, bool) {
	id := strings.TrimSpace(n.Attr("identifier"))
	if id == "" {
		id = fmt.Sprintf("item-%d", p.seq)
	}
	p.seq++

	if strings.EqualFold(strings.TrimSpace(n.Attr("isvisible")), "false") {
		return Item{}, false
	}

	it := Item{
		ID:           id,
		ResourceRef:  strings.TrimSpace(n.Attr("identifierref")),
		Parameters:   strings.TrimSpace(n.Attr("parameters")),
		MasteryScore: firstChildText(n, "masteryscore"),
		LaunchData:   firstChildText(n, "datafromlms"),
	}
	it.Title = firstChildText(n, "title")
	if it.Title == "" {
		it.Title = strings.TrimSpace(n.Attr("title"))
	}
	if it.Title == "" {
		it.Title = id
	}
	// nil, not empty, when there are no visible children
	it.Children = p.parseItems(n.Children("item"))
	return it, true
}
