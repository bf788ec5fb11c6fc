package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case "completed":
		return "[OK]"
	case "failed":
		return "[FAIL]"
	case "running":
		return "[RUN]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel level by level with box-drawing
// characters. Boxes on one row run in the same scheduler group.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s (%s) ===\n\n", model.Title, model.Strategy)
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			if node := findNode(model.Nodes, nodeID); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)
		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}
	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	label := firstLine(node.Label)
	if node.Shadow {
		label += " ~"
	}
	content := []string{label}
	if node.Status != nil {
		if tag := statusTag(node.Status.Status); tag != "" {
			content = append(content, tag)
		}
		if node.Status.DurationMs > 0 {
			content = append(content, fmt.Sprintf("%dms", node.Status.DurationMs))
		}
		if node.Status.Attempts > 1 {
			content = append(content, fmt.Sprintf("x%d", node.Status.Attempts))
		}
	}

	maxLen := 0
	for _, line := range content {
		maxLen = max(maxLen, utf8.RuneCountInString(line))
	}
	width := maxLen + 4 // 2 border + 2 padding

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, line := range content {
		pad := strings.Repeat(" ", maxLen-utf8.RuneCountInString(line))
		lines = append(lines, "│ "+line+pad+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")
	return asciiBox{lines: lines, width: width}
}

func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	maxHeight := 0
	for _, box := range boxes {
		maxHeight = max(maxHeight, len(box.lines))
	}
	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}

func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
