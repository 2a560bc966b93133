package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"datamill/internal/api"
	"datamill/internal/config"
)

func newModelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "model",
		Short: "Show the most recently published model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newModelAPIClient(cfg)
			if err != nil {
				return err
			}
			if client == nil {
				return errors.New("HTTP API is not configured (set paths.api_bind); model lookup requires the daemon API")
			}

			resp, err := client.Latest(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Model: %s\n", resp.ModelPath)
			fmt.Fprintf(out, "Run: #%d (%s)\n", resp.RunID, resp.RunUUID)
			fmt.Fprintf(out, "Dataset: %s\n", resp.SourcePath)
			fmt.Fprintf(out, "Published: %s\n", formatDisplayTime(resp.CompletedAt))
			return nil
		},
	}
}

type modelAPIClient struct {
	base  *url.URL
	token string
	http  *http.Client
}

func newModelAPIClient(cfg *config.Config) (*modelAPIClient, error) {
	if cfg == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &modelAPIClient{
		base:  base,
		token: strings.TrimSpace(cfg.Paths.APIToken),
		http:  &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (c *modelAPIClient) Latest(ctx context.Context) (api.ModelResponse, error) {
	endpoint := c.base.ResolveReference(&url.URL{Path: "/api/model"})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return api.ModelResponse{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return api.ModelResponse{}, fmt.Errorf("query model API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return api.ModelResponse{}, errors.New("no published model available")
	}
	if resp.StatusCode >= 400 {
		return api.ModelResponse{}, fmt.Errorf("model API returned status %d", resp.StatusCode)
	}
	var payload api.ModelResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return api.ModelResponse{}, err
	}
	return payload, nil
}
