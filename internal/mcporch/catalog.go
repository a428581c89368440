package mcporch

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/subterminator/mcp-orchestrator/internal/mcpclient"
	"github.com/subterminator/mcp-orchestrator/pkg/orchtypes"
)

// catalog is the tool set presented to the LLM for one run: the connected
// MCP server's tools plus the two virtual tools, with compiled JSON
// schemas cached for validating proposed arguments before dispatch.
type catalog struct {
	descriptors []orchtypes.ToolDescriptor
	byName      map[string]orchtypes.ToolDescriptor

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

func buildCatalog(mcpTools []mcpclient.MCPTool, navigationTools map[string]bool) *catalog {
	c := &catalog{
		byName:  make(map[string]orchtypes.ToolDescriptor),
		schemas: make(map[string]*jsonschema.Schema),
	}

	for _, t := range mcpTools {
		description := t.Description
		if navigationTools[t.Name] {
			description += " Calling this invalidates every element reference from a prior snapshot; only act on refs from the result of this call."
		}
		d := orchtypes.ToolDescriptor{
			Name:        t.Name,
			Description: description,
			InputSchema: t.InputSchema,
			Navigation:  navigationTools[t.Name],
		}
		c.descriptors = append(c.descriptors, d)
		c.byName[d.Name] = d
	}

	for _, d := range virtualToolDescriptors() {
		c.descriptors = append(c.descriptors, d)
		c.byName[d.Name] = d
	}

	return c
}

func (c *catalog) descriptorsSlice() []orchtypes.ToolDescriptor {
	out := make([]orchtypes.ToolDescriptor, len(c.descriptors))
	copy(out, c.descriptors)
	return out
}

func (c *catalog) lookup(name string) (orchtypes.ToolDescriptor, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// validateArgs checks call.Args against the named tool's compiled input
// schema. A tool descriptor with no usable schema is treated as accepting
// anything — the orchestrator does not invent stricter rules than the tool
// advertised.
func (c *catalog) validateArgs(call orchtypes.ToolCall) error {
	descriptor, ok := c.lookup(call.Name)
	if !ok {
		return fmt.Errorf("unknown tool %q", call.Name)
	}
	if len(descriptor.InputSchema) == 0 {
		return nil
	}

	schema, err := c.compiledSchema(call.Name, descriptor.InputSchema)
	if err != nil {
		// A tool whose schema doesn't even compile can't be validated
		// against; don't block execution over it, just skip validation.
		return nil
	}

	return schema.Validate(call.Args)
}

func (c *catalog) compiledSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if schema, ok := c.schemas[name]; ok {
		return schema, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, err
	}
	c.schemas[name] = schema
	return schema, nil
}
