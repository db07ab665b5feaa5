package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// Datasource is a queryable database registered with the backend.
type Datasource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// DBConfig is the connection description the backend holds per datasource.
type DBConfig struct {
	Dialect  string `json:"dialect"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
}

// DatasourceClient reads datasource metadata from the backend: the source
// list for the picker, connection config for execution, and suggested
// starter questions. Schema and description storage stays on the backend.
type DatasourceClient struct {
	apiClient
}

// NewDatasourceClient creates a datasource metadata client.
func NewDatasourceClient(baseURL string, httpc *http.Client, logger *slog.Logger) *DatasourceClient {
	return &DatasourceClient{apiClient: newAPIClient(baseURL, httpc, logger)}
}

// List returns the registered datasources.
func (c *DatasourceClient) List(ctx context.Context) ([]Datasource, error) {
	var resp struct {
		Status      string       `json:"status"`
		DataSources []Datasource `json:"data_sources"`
	}
	if err := c.getJSON(ctx, "/datasources", &resp); err != nil {
		return nil, err
	}
	return resp.DataSources, nil
}

// Config fetches the connection config for a datasource.
func (c *DatasourceClient) Config(ctx context.Context, id string) (*DBConfig, error) {
	var resp struct {
		Status string   `json:"status"`
		Config DBConfig `json:"config"`
	}
	if err := c.getJSON(ctx, "/datasource/"+url.PathEscape(id)+"/config", &resp); err != nil {
		return nil, err
	}
	if resp.Status != "" && resp.Status != "success" {
		return nil, fmt.Errorf("datasource %s: config unavailable", id)
	}
	return &resp.Config, nil
}

// SuggestQueries returns starter questions for a datasource.
func (c *DatasourceClient) SuggestQueries(ctx context.Context, id string) ([]string, error) {
	var resp struct {
		Status      string   `json:"status"`
		Suggestions []string `json:"suggestions"`
	}
	path := "/suggest_queries?datasource_id=" + url.QueryEscape(id)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}
