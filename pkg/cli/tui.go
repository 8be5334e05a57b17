package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/haivivi/neuroweave/pkg/graph"
)

// Theme defines the color scheme for terminal output.
type Theme struct {
	Primary lipgloss.Color // prompts, titles and borders
	Accent  lipgloss.Color // relation labels
	Dim     lipgloss.Color // help and secondary text
	Error   lipgloss.Color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Accent:  lipgloss.Color("#ffb86c"),
	Dim:     lipgloss.Color("#6e7681"),
	Error:   lipgloss.Color("#ff5555"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Prompt   lipgloss.Style
	Title    lipgloss.Style
	Label    lipgloss.Style
	Border   lipgloss.Style
	Relation lipgloss.Style
	Help     lipgloss.Style
	Error    lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Prompt:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Title:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Label:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border:   lipgloss.NewStyle().Foreground(t.Primary),
		Relation: lipgloss.NewStyle().Foreground(t.Accent),
		Help:     lipgloss.NewStyle().Foreground(t.Dim),
		Error:    lipgloss.NewStyle().Bold(true).Foreground(t.Error),
	}
}

// Section represents a labeled block of lines inside a Box.
type Section struct {
	Label string
	Lines []string
}

// Box renders a bordered panel with a title line and labeled sections.
type Box struct {
	Styles   Styles
	Title    string
	Status   string
	Sections []Section
}

// Render renders the box at the given width. Sections are shown in full.
func (b Box) Render(width int) string {
	if width < 10 {
		width = 10
	}
	bc := b.Styles.Border
	maxContentWidth := width - 4

	var lines []string
	lines = append(lines, bc.Render("╭"+strings.Repeat("─", width-2)+"╮"))

	// │ title [status]    │
	title := b.Styles.Title.Render(b.Title)
	status := ""
	if b.Status != "" {
		status = b.Styles.Help.Render("[" + b.Status + "]")
	}
	padding := max(0, width-5-lipgloss.Width(title)-lipgloss.Width(status))
	lines = append(lines, bc.Render("│")+" "+title+" "+status+
		strings.Repeat(" ", padding)+" "+bc.Render("│"))

	for _, sec := range b.Sections {
		// ├─Label────────┤
		labelText := b.Styles.Label.Render(sec.Label)
		padding := max(0, width-3-lipgloss.Width(labelText))
		lines = append(lines, bc.Render("├")+bc.Render("─")+labelText+
			bc.Render(strings.Repeat("─", padding))+bc.Render("┤"))

		content := sec.Lines
		if len(content) == 0 {
			content = []string{b.Styles.Help.Render("(none)")}
		}
		for _, text := range content {
			if maxContentWidth > 1 && lipgloss.Width(text) > maxContentWidth {
				text = truncateString(text, maxContentWidth-1) + "…"
			}
			lines = append(lines, bc.Render("│")+" "+text+
				strings.Repeat(" ", max(0, maxContentWidth-lipgloss.Width(text)))+" "+bc.Render("│"))
		}
	}

	lines = append(lines, bc.Render("╰"+strings.Repeat("─", width-2)+"╯"))
	return strings.Join(lines, "\n")
}

// GraphBox lays out nodes and edges as a Box. Edge endpoints are shown by
// name when the node is among nodes, and by ID otherwise.
func GraphBox(s Styles, title string, nodes []graph.Node, edges []graph.Edge) Box {
	names := make(map[string]string, len(nodes))
	nodeLines := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names[n.ID] = n.Name
		nodeLines = append(nodeLines, fmt.Sprintf("%s %s", n.Name, s.Help.Render("("+string(n.Type)+")")))
	}

	name := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id
	}
	edgeLines := make([]string, 0, len(edges))
	for _, e := range edges {
		edgeLines = append(edgeLines, fmt.Sprintf("%s ─%s→ %s %s",
			name(e.SourceID),
			s.Relation.Render(e.Relation),
			name(e.TargetID),
			s.Help.Render(FormatConfidence(e.Confidence)),
		))
	}

	return Box{
		Styles: s,
		Title:  title,
		Status: fmt.Sprintf("%d nodes · %d edges", len(nodes), len(edges)),
		Sections: []Section{
			{Label: "Nodes", Lines: nodeLines},
			{Label: "Edges", Lines: edgeLines},
		},
	}
}

// truncateString safely truncates a string to the given width,
// handling multi-byte characters correctly.
func truncateString(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	currentWidth := 0
	for i, r := range runes {
		w := lipgloss.Width(string(r))
		if currentWidth+w > width {
			return string(runes[:i])
		}
		currentWidth += w
	}
	return s
}
