package cli

import (
	"bytes"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/kanban"
)

// printWorkItemTable renders a WorkItemDetails as a human table, the
// fallback presentation for commands whose --json flag is off.
func printWorkItemTable(o *IO, d kanban.WorkItemDetails) {
	o.Printf("id:        %s\n", d.ID)
	o.Printf("title:     %s\n", d.Title)
	o.Printf("stage:     %s\n", d.Stage)
	if d.URL != "" {
		o.Printf("url:       %s\n", d.URL)
	}
	if len(d.Labels) > 0 {
		o.Printf("labels:    %s\n", strings.Join(d.Labels, ", "))
	}
	if len(d.Assignees) > 0 {
		names := make([]string, 0, len(d.Assignees))
		for _, a := range d.Assignees {
			names = append(names, assigneeDisplay(a))
		}
		o.Printf("assignees: %s\n", strings.Join(names, ", "))
	}
	if !d.UpdatedAt.IsZero() {
		o.Printf("updated:   %s\n", humanizeTime(d.UpdatedAt))
	}
	o.Println()
	o.Println(renderBody(d.Body))

	if len(d.Comments) > 0 {
		o.Println()
		o.Printf("comments (%d):\n", len(d.Comments))
		for _, c := range d.Comments {
			o.Printf("  [%s] %s: %s\n", humanizeTime(c.CreatedAt), assigneeDisplay(c.Author), firstLine(c.Body))
		}
	}
	if len(d.Links) > 0 {
		o.Println()
		o.Printf("links: ")
		parts := make([]string, 0, len(d.Links))
		for _, l := range d.Links {
			parts = append(parts, l.Relation+" "+l.ID)
		}
		o.Println(strings.Join(parts, ", "))
	}
}

func assigneeDisplay(a kanban.Actor) string {
	if a.Name != "" {
		return a.Name
	}
	if a.Username != "" {
		return a.Username
	}
	return a.ID
}

func humanizeTime(t time.Time) string {
	return humanize.Time(t)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}

// renderBody converts a ticket body to clean plain text for table display.
// Bodies are markdown (the platform-native source for GitHub/Linear/Planka)
// or already HTML-stripped plain text (Plane, via adapter.StripHTML at
// fetch time); rendering markdown to HTML and stripping it again yields
// readable plain text either way since plain text is valid (if inert)
// markdown.
func renderBody(body string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(body), &buf); err != nil {
		return body
	}
	return strings.TrimSpace(adapter.StripHTML(buf.String()))
}
