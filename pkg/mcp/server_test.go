package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	s := NewServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.MCPServer())
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.Notifier())
}

func TestToolRegistration(t *testing.T) {
	s := NewServer(ServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 8)
	for _, name := range []string{
		"tabflow.execute",
		"tabflow.get_tabs",
		"tabflow.navigate",
		"tabflow.act",
		"tabflow.close_session",
		"tabflow.define",
		"tabflow.status",
		"tabflow.query",
	} {
		assert.NotNil(t, s.mcpServer.GetTool(name), "tool %s should be registered", name)
	}
}

func TestToolRequiredArguments(t *testing.T) {
	s := NewServer(ServerDeps{})
	cases := map[string][]string{
		"tabflow.get_tabs": {"session_id"},
		"tabflow.navigate": {"url"},
		"tabflow.act":      {"tab_id", "kind"},
		"tabflow.define":   {"workflow"},
		"tabflow.query":    {"resource"},
	}
	for name, required := range cases {
		tool := s.mcpServer.GetTool(name)
		require.NotNil(t, tool)
		assert.ElementsMatch(t, required, tool.Tool.InputSchema.Required, name)
	}
}
