package parser

import (
	"errors"
	"fmt"
	"strings"
)

// ErrManifest marks a manifest that cannot be parsed at all: malformed markup
// or no manifest root. Everything else degrades to defaults.
var ErrManifest = errors.New("manifest: invalid document")

const (
	DefaultVersion      = "1.2"
	DefaultIdentifier   = "unknown"
	DefaultTitle        = "Untitled course"
	DefaultResourceType = "webcontent"
)

// Public manifest types. They are never mutated after Parse returns.
type CourseManifest struct {
	ID                  string         `json:"id"`
	Version             string         `json:"version"`
	SchemaVersion       string         `json:"schema_version,omitempty"`
	Title               string         `json:"title"`
	Description         string         `json:"description,omitempty"`
	DefaultOrganization string         `json:"default_organization,omitempty"`
	Organizations       []Organization `json:"organizations"`
	Resources           []Resource     `json:"resources"`
}

type Organization struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Items []Item `json:"items"`
}

type Item struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ResourceRef string `json:"resource_ref,omitempty"`
	// Parameters is appended to the launch URL (adlcp "parameters" attribute).
	Parameters   string `json:"parameters,omitempty"`
	MasteryScore string `json:"mastery_score,omitempty"`
	LaunchData   string `json:"launch_data,omitempty"`
	Children     []Item `json:"children,omitempty"`
}

// Selectable is false for dead ends: no content and nothing below.
func (it Item) Selectable() bool {
	return it.ResourceRef != "" || len(it.Children) > 0
}

type Resource struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	ScormType    string   `json:"scorm_type,omitempty"`
	PrimaryPath  string   `json:"primary_path"`
	Files        []string `json:"files"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Resource looks up a resource by identifier.
func (m CourseManifest) Resource(id string) (Resource, bool) {
	for _, r := range m.Resources {
		if r.ID == id {
			return r, true
		}
	}
	return Resource{}, false
}

// DefaultOrg returns the organization named by the organizations "default"
// attribute, falling back to the first one.
func (m CourseManifest) DefaultOrg() (Organization, bool) {
	if len(m.Organizations) == 0 {
		return Organization{}, false
	}
	for _, o := range m.Organizations {
		if o.ID == m.DefaultOrganization {
			return o, true
		}
	}
	return m.Organizations[0], true
}

// FindItem searches every organization depth-first for the item id.
func (m CourseManifest) FindItem(id string) (Item, bool) {
	for _, o := range m.Organizations {
		if it, ok := findItem(o.Items, id); ok {
			return it, true
		}
	}
	return Item{}, false
}

func findItem(items []Item, id string) (Item, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
		if found, ok := findItem(it.Children, id); ok {
			return found, true
		}
	}
	return Item{}, false
}

// FirstContentItem returns the first item in document order below (and
// including) it that references a resource.
func FirstContentItem(it Item) (Item, bool) {
	if it.ResourceRef != "" {
		return it, true
	}
	for _, c := range it.Children {
		if found, ok := FirstContentItem(c); ok {
			return found, true
		}
	}
	return Item{}, false
}

// candidate chains for the course title, most specific first.
var titleChains = [][]string{
	{"metadata", "general", "title", "langstring"},
	{"metadata", "general", "title", "string"},
	{"metadata", "general", "title"},
	{"organizations", "organization", "title"},
	{"title"},
}

var descriptionChains = [][]string{
	{"metadata", "general", "description", "langstring"},
	{"metadata", "general", "description", "string"},
	{"metadata", "general", "description"},
	{"organizations", "organization", "description"},
}

// Parse turns manifest markup into a CourseManifest.
func Parse(data []byte) (CourseManifest, error) {
	doc, err := parseTree(data)
	if err != nil {
		return CourseManifest{}, err
	}

	var root Node = doc
	if !strings.EqualFold(doc.Name(), "manifest") {
		found := descendants(doc, "manifest")
		if len(found) == 0 {
			return CourseManifest{}, fmt.Errorf("%w: no manifest element (root is <%s>)", ErrManifest, doc.Name())
		}
		root = found[0]
	}

	m := CourseManifest{
		ID:      orDefault(strings.TrimSpace(root.Attr("identifier")), DefaultIdentifier),
		Version: orDefault(strings.TrimSpace(root.Attr("version")), DefaultVersion),
	}
	if n, ok := selectFirst(root, "metadata", "schemaversion"); ok {
		m.SchemaVersion = strings.TrimSpace(n.Text())
	}
	m.Title, m.Description = extractMetadata(root)

	p := &itemParser{}
	m.Organizations, m.DefaultOrganization = p.parseOrganizations(root)
	m.Resources = parseResources(root)
	return m, nil
}

func extractMetadata(root Node) (title, description string) {
	title = DefaultTitle
	found := false
	for _, chain := range titleChains {
		if n, ok := selectFirst(root, chain...); ok {
			title = strings.TrimSpace(n.Text())
			found = true
			break
		}
	}
	if !found {
		if t := firstTitleAttr(root); t != "" {
			title = t
		}
	}
	for _, chain := range descriptionChains {
		if n, ok := selectFirst(root, chain...); ok {
			description = strings.TrimSpace(n.Text())
			break
		}
	}
	return title, description
}

func firstTitleAttr(n Node) string {
	if t := strings.TrimSpace(n.Attr("title")); t != "" {
		return t
	}
	for _, c := range n.Children("") {
		if t := firstTitleAttr(c); t != "" {
			return t
		}
	}
	return ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
