// internal/clients/borrowers_client.go
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// BorrowerInfo is the directory's view of one student or staff member.
// Student records and authentication live in the school records system;
// circulation only needs identity and the active flag.
type BorrowerInfo struct {
	ID     uuid.UUID `json:"id"`
	Kind   string    `json:"kind"`
	Name   string    `json:"name"`
	Active bool      `json:"active"`
}

// DirectoryClient talks to the external borrower directory service.
type DirectoryClient struct {
	baseURL string
	client  *http.Client
}

func NewDirectoryClient(baseURL string) *DirectoryClient {
	return &DirectoryClient{baseURL: baseURL, client: http.DefaultClient}
}

func (c *DirectoryClient) GetBorrower(ctx context.Context, id uuid.UUID) (*BorrowerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/borrowers/%s", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("borrower directory returned status %d", resp.StatusCode)
	}

	var info BorrowerInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// IsActive reports whether the borrower is currently enrolled or employed.
func (c *DirectoryClient) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	info, err := c.GetBorrower(ctx, id)
	if err != nil {
		return false, err
	}
	return info.Active, nil
}
