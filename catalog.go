package mcp

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

// ToolCatalog caches tool descriptors by name. Refreshes merge into the
// cache: a name seen again replaces its descriptor, names absent from a
// refresh stay cached. Iteration follows first-insertion order.
type ToolCatalog struct {
	mu    sync.RWMutex
	tools map[string]protocol.ToolDescriptor
	order []string

	descriptionWeight float64
	wordRegex         *regexp.Regexp
}

func NewToolCatalog() *ToolCatalog {
	return &ToolCatalog{
		tools:             make(map[string]protocol.ToolDescriptor),
		descriptionWeight: 0.5,
		wordRegex:         regexp.MustCompile(`\w+`),
	}
}

// Save merges descriptors into the catalog.
func (c *ToolCatalog) Save(tools ...protocol.ToolDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tools {
		if t.Name == "" {
			continue
		}
		if _, ok := c.tools[t.Name]; !ok {
			c.order = append(c.order, t.Name)
		}
		c.tools[t.Name] = t
	}
}

func (c *ToolCatalog) Get(name string) (protocol.ToolDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	return t, ok
}

// All returns every cached descriptor.
func (c *ToolCatalog) All() []protocol.ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.ToolDescriptor, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.tools[n])
	}
	return out
}

// FindByCapability returns the first tool carrying tag.
func (c *ToolCatalog) FindByCapability(tag string) (protocol.ToolDescriptor, bool) {
	for _, t := range c.All() {
		if t.HasCapability(tag) {
			return t, true
		}
	}
	return protocol.ToolDescriptor{}, false
}

// Search ranks tools by capability and description overlap with query. When
// nothing matches, the first limit tools are returned.
func (c *ToolCatalog) Search(query string, limit int) []protocol.ToolDescriptor {
	if limit <= 0 {
		limit = 10
	}
	queryLower := strings.ToLower(strings.TrimSpace(query))
	queryWords := make(map[string]struct{})
	for _, w := range c.wordRegex.FindAllString(queryLower, -1) {
		queryWords[w] = struct{}{}
	}

	type scoredTool struct {
		tool  protocol.ToolDescriptor
		score float64
	}
	all := c.All()
	scored := make([]scoredTool, 0, len(all))
	for _, t := range all {
		var score float64
		for _, tag := range t.Capabilities {
			tagLower := strings.ToLower(tag)
			if queryLower != "" && strings.Contains(queryLower, tagLower) {
				score += 1.0
			}
			for _, w := range c.wordRegex.FindAllString(tagLower, -1) {
				if _, ok := queryWords[w]; ok {
					score += c.descriptionWeight
				}
			}
		}
		text := strings.ToLower(t.Title + " " + t.Description)
		for _, w := range c.wordRegex.FindAllString(text, -1) {
			if len(w) <= 2 {
				continue
			}
			if _, ok := queryWords[w]; ok {
				score += c.descriptionWeight
			}
		}
		scored = append(scored, scoredTool{tool: t, score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var result []protocol.ToolDescriptor
	for _, st := range scored {
		if st.score > 0 {
			result = append(result, st.tool)
			if len(result) >= limit {
				break
			}
		}
	}
	if len(result) == 0 {
		for i, st := range scored {
			if i >= limit {
				break
			}
			result = append(result, st.tool)
		}
	}
	return result
}
