// Package httpstore is a RemoteStore that reads tourists from the domain
// service's REST surface.
package httpstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/unkn0wn-root/touristcache"
	"github.com/unkn0wn-root/touristcache/tourist"
)

const (
	pathByID    = "/api/v1/tourist/{id}"
	pathByEmail = "/api/v1/tourist/email/{email}"
	pathByPhone = "/api/v1/tourist/phone/{phone}"
	pathByName  = "/api/v1/tourist/name/{name}/surname/{surname}"
	pathAll     = "/api/v1/tourist/all"
)

var ErrNoBaseURL = errors.New("httpstore: BaseURL is required")

type Config struct {
	BaseURL string
	// Timeout bounds a single request. The gateway applies its own
	// RemoteTimeout through the context as well.
	Timeout time.Duration
	Headers map[string]string
	// Client, if set, is used instead of a fresh resty client.
	Client *resty.Client
}

type Store struct {
	rc *resty.Client
}

var _ touristcache.RemoteStore = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	rc := cfg.Client
	if rc == nil {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	if len(cfg.Headers) > 0 {
		rc.SetHeaders(cfg.Headers)
	}
	rc.SetHeader("Accept", "application/json")
	return &Store{rc: rc}, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (tourist.Tourist, error) {
	return getOne(ctx, s.rc, pathByID, map[string]string{"id": id})
}

func (s *Store) GetByEmail(ctx context.Context, email string) (tourist.Tourist, error) {
	return getOne(ctx, s.rc, pathByEmail, map[string]string{"email": email})
}

func (s *Store) GetByPhone(ctx context.Context, phone string) (tourist.Tourist, error) {
	return getOne(ctx, s.rc, pathByPhone, map[string]string{"phone": phone})
}

func (s *Store) GetByNameAndSurname(ctx context.Context, name, surname string) ([]tourist.Tourist, error) {
	return getList(ctx, s.rc, pathByName, map[string]string{"name": name, "surname": surname})
}

func (s *Store) GetAll(ctx context.Context) ([]tourist.Tourist, error) {
	return getList(ctx, s.rc, pathAll, nil)
}

func getOne(ctx context.Context, rc *resty.Client, path string, params map[string]string) (tourist.Tourist, error) {
	var out tourist.Tourist
	if err := get(ctx, rc, path, params, &out); err != nil {
		return tourist.Tourist{}, err
	}
	return out, nil
}

func getList(ctx context.Context, rc *resty.Client, path string, params map[string]string) ([]tourist.Tourist, error) {
	var out []tourist.Tourist
	if err := get(ctx, rc, path, params, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []tourist.Tourist{}
	}
	return out, nil
}

func get(ctx context.Context, rc *resty.Client, path string, params map[string]string, result any) error {
	req := rc.R().SetContext(ctx).SetResult(result)
	if len(params) > 0 {
		req.SetPathParams(params)
	}
	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %w", touristcache.ErrRemoteUnavailable, path, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return tourist.ErrNotFound
	case resp.IsError():
		return fmt.Errorf("%w: GET %s: http %d: %s", touristcache.ErrRemoteUnavailable,
			path, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
