package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s (%s)\n", model.Title, model.Strategy)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}
	for _, edge := range model.Edges {
		arrow := "-->"
		if edge.Label == "shadow" {
			arrow = "-.->"
		}
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		fmt.Fprintf(&b, "    %s %s%s %s\n", mermaidSafeID(edge.From), arrow, label, mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef shadow stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		if node.Shadow {
			fmt.Fprintf(&b, "    class %s shadow\n", mermaidSafeID(node.ID))
		}
		if node.Status == nil {
			continue
		}
		if cls := mermaidStatusClass(node.Status.Status); cls != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), cls)
		}
	}
	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := strings.ReplaceAll(node.Label, "\n", " ")

	switch node.Kind {
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	case NodeKindSearch:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindAnalyze:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case NodeKindReport:
		return fmt.Sprintf("%s[/%q/]", id, label)
	case NodeKindIntegrate:
		return fmt.Sprintf("%s[[%q]]", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID replaces characters Mermaid does not accept in ids.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func mermaidStatusClass(status string) string {
	switch status {
	case "completed", "failed":
		return status
	default:
		return ""
	}
}
