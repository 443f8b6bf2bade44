package drivers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ordersync/internal/authn"
)

// Driver is one entry of the driver directory.
type Driver struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Directory lists drivers available for assignment. Read-only; the actual
// assignment goes through the action gateway.
type Directory struct {
	baseURL string
	session *authn.Session
	client  *http.Client
}

func NewDirectory(baseURL string, session *authn.Session, timeout time.Duration) *Directory {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Directory{
		baseURL: baseURL,
		session: session,
		client:  &http.Client{Timeout: timeout},
	}
}

// Available returns the drivers currently free for the restaurant.
func (d *Directory) Available(ctx context.Context, restaurantID string) ([]Driver, error) {
	token, err := d.session.AccessToken()
	if err != nil {
		return nil, err
	}

	out, status, err := d.get(ctx, restaurantID, token)
	if status == http.StatusUnauthorized {
		if token, err = d.session.Refresh(ctx); err != nil {
			return nil, err
		}
		out, status, err = d.get(ctx, restaurantID, token)
	}
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.New("driver directory returned status " + http.StatusText(status))
	}
	return out, nil
}

func (d *Directory) get(ctx context.Context, restaurantID, token string) ([]Driver, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.baseURL+"/restaurants/"+restaurantID+"/drivers/available", nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("driver directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}

	var out []Driver
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decoding driver list: %w", err)
	}
	return out, resp.StatusCode, nil
}
