// Package memory implements the MemoryCoordinator (§4.5): deciding whether a
// request needs long-term memory, retrieving and caching search results from
// the memory capability provider, and deciding whether a finished exchange is
// worth persisting back to it.
package memory

import (
	"context"
	"encoding/json"
	"errors"

	"goa.design/taskflow/providers"
)

// Entity is a single long-term-memory node, mirroring the memory provider's
// create_entities/search_nodes shape (§6).
type Entity struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
}

// Relation is an edge between two entities, as returned by search_nodes.
type Relation struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"relationType"`
}

// SearchResult is the decoded shape of a search_nodes call.
type SearchResult struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// searchNodesParams is the wire shape for the search_nodes tool call.
type searchNodesParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// createEntitiesParams is the wire shape for the create_entities tool call.
type createEntitiesParams struct {
	Entities []Entity `json:"entities"`
}

// ProviderName is the well-known name of the special memory capability
// provider (§6: "one provider is special: the memory provider").
const ProviderName = "memory"

// Client wraps a providers.Client bound to the memory provider, translating
// the two memory-specific tool calls into typed Go calls.
type Client struct {
	raw providers.Client
}

// NewClient wraps raw (the registered "memory" provider's Client).
func NewClient(raw providers.Client) *Client {
	return &Client{raw: raw}
}

// SearchNodes calls search_nodes with the given query and result limit.
func (c *Client) SearchNodes(ctx context.Context, query string, limit int) (SearchResult, error) {
	params, err := json.Marshal(searchNodesParams{Query: query, Limit: limit})
	if err != nil {
		return SearchResult{}, err
	}
	resp, err := c.raw.CallTool(ctx, providers.CallRequest{
		Server: ProviderName,
		Tool:   "search_nodes",
		Parameters: params,
	})
	if err != nil {
		return SearchResult{}, err
	}
	if resp.Error != "" {
		return SearchResult{}, errors.New(resp.Error)
	}
	var result SearchResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return SearchResult{}, err
	}
	return result, nil
}

// CreateEntities calls create_entities with the given entities.
func (c *Client) CreateEntities(ctx context.Context, entities []Entity) error {
	params, err := json.Marshal(createEntitiesParams{Entities: entities})
	if err != nil {
		return err
	}
	resp, err := c.raw.CallTool(ctx, providers.CallRequest{
		Server: ProviderName,
		Tool:   "create_entities",
		Parameters: params,
	})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}
