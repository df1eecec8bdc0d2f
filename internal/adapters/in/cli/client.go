package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"caravel/internal/app"
)

// apiClient talks to the control API of a running controller. Commands
// other than serve go through it so the CLI never touches the runtime
// directly.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// newAPIClient builds a client from the same config file the server reads.
func newAPIClient(configPath string) (*apiClient, error) {
	v, err := app.InitViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := app.LoadConfig(v)
	if err != nil {
		return nil, err
	}

	return &apiClient{
		baseURL: "http://" + cfg.Server.AdminAddr,
		token:   cfg.Server.AdminToken,
		// Deploys block through pull + health gate.
		http: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// call performs a request and decodes the JSON response into out (when out
// is non-nil). Non-2xx responses surface the server's error message.
func (c *apiClient) call(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("control API unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("control API returned %s", resp.Status)
	}

	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// deploymentView mirrors the control API's deployment representation.
type deploymentView struct {
	Service     string    `json:"service"`
	Version     int64     `json:"version"`
	Image       string    `json:"image"`
	ImageDigest string    `json:"image_digest"`
	ContainerID string    `json:"container_id"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type routeView struct {
	Host         string `json:"host"`
	Service      string `json:"service"`
	Entrypoint   string `json:"entrypoint"`
	CertResolver string `json:"cert_resolver"`
}

func printDeployment(d deploymentView) {
	fmt.Printf("service:   %s\n", d.Service)
	fmt.Printf("version:   %d\n", d.Version)
	fmt.Printf("image:     %s\n", d.Image)
	fmt.Printf("digest:    %s\n", d.ImageDigest)
	fmt.Printf("status:    %s\n", d.Status)
	if d.ContainerID != "" {
		fmt.Printf("container: %s\n", d.ContainerID)
	}
	if d.Reason != "" {
		fmt.Printf("reason:    %s\n", d.Reason)
	}
}
