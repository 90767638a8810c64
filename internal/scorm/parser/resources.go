package parser

import (
	"fmt"
	"strings"
)

// conventional entry file names, checked in order when a resource has no href.
var entryPoints = []string{
	"index.html", "index.htm",
	"default.html", "default.htm",
	"main.html", "main.htm",
	"start.html", "start.htm",
	"launch.html", "launch.htm",
	"content.html", "content.htm",
	"lesson.html", "lesson.htm",
}

func parseResources(root Node) []Resource {
	var out []Resource
	i := 0
	for _, container := range descendants(root, "resources") {
		containerBase := strings.TrimSpace(container.Attr("base"))
		for _, rn := range container.Children("resource") {
			out = append(out, parseResource(rn, containerBase, i))
			i++
		}
	}
	return out
}

func parseResource(n Node, containerBase string, index int) Resource {
	base := joinBase(containerBase, strings.TrimSpace(n.Attr("base")))

	r := Resource{
		ID:          orDefault(strings.TrimSpace(n.Attr("identifier")), fmt.Sprintf("res-%d", index)),
		Type:        orDefault(strings.TrimSpace(n.Attr("type")), DefaultResourceType),
		ScormType:   strings.TrimSpace(n.Attr("scormtype")),
		PrimaryPath: strings.TrimSpace(n.Attr("href")),
	}
	for _, fn := range n.Children("file") {
		href := strings.TrimSpace(fn.Attr("href"))
		if href == "" {
			continue
		}
		r.Files = append(r.Files, joinBase(base, href))
	}
	for _, dn := range n.Children("dependency") {
		if ref := strings.TrimSpace(dn.Attr("identifierref")); ref != "" {
			r.Dependencies = append(r.Dependencies, ref)
		}
	}

	if r.PrimaryPath != "" {
		r.PrimaryPath = joinBase(base, r.PrimaryPath)
	} else {
		r.PrimaryPath = InferPrimary(r.Files)
	}
	return r
}

// InferPrimary picks an entry file for a resource that declares none:
// a conventional entry name, then the first HTML document, then the first file.
func InferPrimary(files []string) string {
	for _, ep := range entryPoints {
		for _, f := range files {
			lf := strings.ToLower(f)
			if lf == ep || strings.HasSuffix(lf, ep) {
				return f
			}
		}
	}
	for _, f := range files {
		lf := strings.ToLower(f)
		if strings.HasSuffix(lf, ".html") || strings.HasSuffix(lf, ".htm") {
			return f
		}
	}
	if len(files) > 0 {
		return files[0]
	}
	return ""
}

// joinBase prefixes an xml:base value. Absolute hrefs are left alone.
func joinBase(base, href string) string {
	if base == "" || strings.Contains(href, "://") || strings.HasPrefix(href, "/") {
		return href
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + href
}
