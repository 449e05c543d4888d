package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"photo-scout/internal/photo_scout/model"
)

const (
	defaultBaseURL  = "https://api.unsplash.com"
	defaultProvider = "unsplash"
)

type UnsplashOptions struct {
	BaseURL   string
	AccessKey string
	// Provider 写入记录的来源名，为空时为 "unsplash"
	Provider string
	Timeout  time.Duration
	// RequestsPerSecond 列表和详情请求共用的速率，<=0 表示不限速
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Log               *zap.Logger
}

// UnsplashSource 基于 Unsplash JSON API 的 PhotoSource
type UnsplashSource struct {
	provider  string
	baseURL   string
	accessKey string
	client    *http.Client
	limiter   *rate.Limiter
	log       *zap.Logger
}

func NewUnsplashSource(opts UnsplashOptions) (*UnsplashSource, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if strings.TrimSpace(opts.AccessKey) == "" {
		return nil, errors.New("unsplash access key is required")
	}
	client := opts.HTTPClient
	if client == nil {
		to := opts.Timeout
		if to <= 0 {
			to = 20 * time.Second
		}
		client = &http.Client{Timeout: to}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	provider := strings.TrimSpace(opts.Provider)
	if provider == "" {
		provider = defaultProvider
	}
	return &UnsplashSource{
		provider:  provider,
		baseURL:   strings.TrimRight(base, "/"),
		accessKey: opts.AccessKey,
		client:    client,
		limiter:   rate.NewLimiter(limit, 1),
		log:       log,
	}, nil
}

// FetchPage 实现 PhotoSource
func (s *UnsplashSource) FetchPage(ctx context.Context, page, pageSize int, sortOrder string) iter.Seq2[model.PhotoRecord, error] {
	return func(yield func(model.PhotoRecord, error) bool) {
		summaries, err := s.listPhotos(ctx, page, pageSize, sortOrder)
		if err != nil {
			yield(model.PhotoRecord{}, err)
			return
		}
		s.log.Info("Fetched photo page",
			zap.Int("page", page),
			zap.Int("items", len(summaries)),
		)

		for _, sum := range summaries {
			if err := ctx.Err(); err != nil {
				yield(model.PhotoRecord{}, err)
				return
			}
			detail, err := s.getPhoto(ctx, sum.ID)
			if err != nil {
				yield(model.PhotoRecord{}, err)
				return
			}
			if !detail.Location.Position.complete() {
				s.log.Debug("Photo has no position, skip", zap.String("rawId", detail.ID))
				continue
			}
			rec, err := detail.toRecord(s.provider)
			if err != nil {
				yield(model.PhotoRecord{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (s *UnsplashSource) listPhotos(ctx context.Context, page, pageSize int, sortOrder string) ([]photoSummary, error) {
	u, err := url.Parse(s.baseURL + "/photos")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	if pageSize > 0 {
		q.Set("per_page", strconv.Itoa(pageSize))
	}
	if sortOrder != "" {
		q.Set("order_by", sortOrder)
	}
	u.RawQuery = q.Encode()

	body, err := s.doGET(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("list page %d: %w", page, err)
	}
	var out []photoSummary
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: list page %d: parse: %v", ErrUnavailable, page, err)
	}
	return out, nil
}

func (s *UnsplashSource) getPhoto(ctx context.Context, id string) (*photoDetail, error) {
	body, err := s.doGET(ctx, s.baseURL+"/photos/"+url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("get photo %s: %w", id, err)
	}
	var d photoDetail
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("%w: get photo %s: parse: %v", ErrUnavailable, id, err)
	}
	if d.ID == "" {
		d.ID = id
	}
	return &d, nil
}

func (s *UnsplashSource) doGET(ctx context.Context, u string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// 等待时间超过 ctx 截止时间
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Version", "v1")
	req.Header.Set("Authorization", "Client-ID "+s.accessKey)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			s.log.Warn("Failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if isRateLimited(resp, body) {
			return nil, fmt.Errorf("%w: http status %d", ErrRateLimited, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: http status %d", ErrUnavailable, resp.StatusCode)
	}
	return body, nil
}

// isRateLimited Unsplash 超额时返回 403 + "Rate Limit Exceeded"，也可能是 429
func isRateLimited(resp *http.Response, body []byte) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if resp.Header.Get("X-Ratelimit-Remaining") == "0" {
		return true
	}
	return resp.StatusCode == http.StatusForbidden &&
		strings.Contains(strings.ToLower(string(body)), "rate limit")
}

// -------- 来源原始结构 --------

type photoSummary struct {
	ID string `json:"id"`
}

type rawPosition struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (p rawPosition) complete() bool {
	return p.Latitude != nil && p.Longitude != nil
}

type photoDetail struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Likes     int    `json:"likes"`
	Location  struct {
		City     *string     `json:"city"`
		Country  *string     `json:"country"`
		Position rawPosition `json:"position"`
	} `json:"location"`
	Exif struct {
		Make         *string `json:"make"`
		Model        *string `json:"model"`
		ExposureTime *string `json:"exposure_time"`
		Aperture     *string `json:"aperture"`
		FocalLength  *string `json:"focal_length"`
		ISO          *int    `json:"iso"`
	} `json:"exif"`
	Tags []struct {
		Title string `json:"title"`
	} `json:"tags"`
	URLs model.PhotoURLs `json:"urls"`
	User struct {
		Name string `json:"name"`
	} `json:"user"`
}

func (d *photoDetail) toRecord(provider string) (model.PhotoRecord, error) {
	created, err := time.Parse(time.RFC3339, strings.TrimSpace(d.CreatedAt))
	if err != nil {
		return model.PhotoRecord{}, fmt.Errorf("%w: photo %s: created_at %q", model.ErrInvalidRecord, d.ID, d.CreatedAt)
	}
	tags := make(map[string]struct{}, len(d.Tags))
	for _, t := range d.Tags {
		title := strings.TrimSpace(t.Title)
		if title == "" {
			continue
		}
		tags[title] = struct{}{}
	}
	rec := model.PhotoRecord{
		ID:       ContentHash(d.ID),
		RawID:    d.ID,
		Provider: provider,
		Likes:    d.Likes,
		Created:  created.UTC(),
		Location: model.Location{
			City:    d.Location.City,
			Country: d.Location.Country,
			Position: model.GeoPoint{
				Latitude:  *d.Location.Position.Latitude,
				Longitude: *d.Location.Position.Longitude,
			},
		},
		Exif: model.Exif{
			Aperture:     d.Exif.Aperture,
			ExposureTime: d.Exif.ExposureTime,
			FocalLength:  d.Exif.FocalLength,
			ISO:          d.Exif.ISO,
			Make:         d.Exif.Make,
			Model:        d.Exif.Model,
		},
		Tags: tags,
		URLs: d.URLs,
		User: model.User{Name: d.User.Name},
	}
	if err := rec.Validate(); err != nil {
		return model.PhotoRecord{}, fmt.Errorf("photo %s: %w", d.ID, err)
	}
	return rec, nil
}
