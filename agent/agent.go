// Package agent defines the immutable agent descriptor: a named policy with
// a mission, an allow-list of MCP servers and their tool catalogues, and a
// default response language. Descriptors are constructed once (typically
// from a YAML manifest) and shared read-only across runs.
package agent

// Ident is the strong type for a fully-qualified agent identifier
// (e.g. "crypto.analyst"). Keeping it distinct from plain strings avoids
// accidental mixing with tool or mcp names in maps and APIs.
type Ident string

// MCPServer describes one MCP server an agent is allowed to use, together
// with the tool catalogue the Planner may select from.
type MCPServer struct {
	// Name identifies the MCP server (e.g. "dexscreener-mcp").
	Name string `yaml:"name"`
	// Tools enumerates the callable tool names exposed by this server.
	Tools []string `yaml:"tools"`
	// RequiredAuthFields lists the credential fields the Session Manager
	// must verify before the server is usable (e.g. "COINGECKO_API_KEY").
	RequiredAuthFields []string `yaml:"requiredAuthFields,omitempty"`
}

// HasTool reports whether tool is in this server's catalogue.
func (s MCPServer) HasTool(tool string) bool {
	for _, t := range s.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// Descriptor is the immutable configuration for one agent: its mission, the
// MCP servers it may call, the LLM capabilities it may invoke, a default
// response language, and optional welcome text.
//
// Descriptor values are never mutated after construction; the engine and its
// collaborators receive them as read-only references.
type Descriptor struct {
	// Name is the agent's fully qualified identifier.
	Name Ident `yaml:"name"`
	// Mission is a short natural-language statement of the agent's purpose,
	// composed into every Planner/Observer prompt.
	Mission string `yaml:"mission"`
	// MCPs is the ordered allow-list of MCP servers this agent may use.
	MCPs []MCPServer `yaml:"mcps"`
	// DefaultLanguage is the ISO-639-1 code used when no other language
	// signal is available (see the language package's resolution order).
	DefaultLanguage string `yaml:"defaultLanguage,omitempty"`
	// Welcome is optional introductory text surfaced by callers before the
	// first run; the core never generates or consumes it itself.
	Welcome string `yaml:"welcome,omitempty"`
}

// MCP looks up a server by name. The second return value is false when the
// agent has no such server in its allow-list.
func (d Descriptor) MCP(name string) (MCPServer, bool) {
	for _, m := range d.MCPs {
		if m.Name == name {
			return m, true
		}
	}
	return MCPServer{}, false
}

// MCPNames returns the allow-listed server names in manifest order.
func (d Descriptor) MCPNames() []string {
	out := make([]string, len(d.MCPs))
	for i, m := range d.MCPs {
		out[i] = m.Name
	}
	return out
}

// ToolCatalogue reduces the agent's MCPs to the compact form the Planner
// prompt composes: mcpName -> [toolName, ...].
func (d Descriptor) ToolCatalogue() map[string][]string {
	out := make(map[string][]string, len(d.MCPs))
	for _, m := range d.MCPs {
		out[m.Name] = append([]string(nil), m.Tools...)
	}
	return out
}
