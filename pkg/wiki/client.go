// Package wiki is a client for the wiki's GraphQL API.
package wiki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sidkik/wikisync/pkg/errors"
)

// ErrPageNotFound is returned when a requested page doesn't exist.
var ErrPageNotFound = errors.New("page not found")

const (
	// DefaultLocale is used for pages that don't specify one.
	DefaultLocale = "en"

	defaultEditor      = "markdown"
	defaultConcurrency = 4
	defaultTimeout     = 30 * time.Second

	// maxErrorBody bounds how much of an unexpected response is included in
	// error messages.
	maxErrorBody = 512
)

// Client is the interface for reading and writing wiki pages.
type Client interface {
	ListPages(ctx context.Context) ([]Page, error)
	GetPage(ctx context.Context, id int) (Page, error)
	GetPageByPath(ctx context.Context, path, locale string) (Page, error)
	CreatePage(ctx context.Context, page Page) (Page, error)
	UpdatePage(ctx context.Context, page Page) (Page, error)
	DeletePage(ctx context.Context, id int) error
	ServerVersion(ctx context.Context) (string, error)
}

// Options configures the client.
type Options struct {
	// URL is the base URL of the wiki, e.g. https://wiki.example.com.
	URL   string
	Token string

	// Locale is used for created pages and path lookups.
	Locale string

	// Concurrency bounds the number of page fetches made while listing.
	Concurrency int

	HTTPClient *http.Client
}

type client struct {
	endpoint    string
	token       string
	locale      string
	concurrency int
	http        *http.Client
}

// New returns a new wiki Client.
func New(opts Options) Client {
	if opts.Locale == "" {
		opts.Locale = DefaultLocale
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}

	return &client{
		endpoint:    strings.TrimSuffix(opts.URL, "/") + "/graphql",
		token:       opts.Token,
		locale:      opts.Locale,
		concurrency: opts.Concurrency,
		http:        opts.HTTPClient,
	}
}

// ListPages returns every page, including its content. The listing query
// doesn't return content, so each page is fetched individually.
func (c *client) ListPages(ctx context.Context) ([]Page, error) {
	var resp struct {
		Pages struct {
			List []struct {
				ID int `json:"id"`
			} `json:"list"`
		} `json:"pages"`
	}
	if err := c.do(ctx, listPagesQuery, nil, &resp); err != nil {
		return nil, errors.WithContext(err, "list")
	}

	listing := resp.Pages.List
	pages := make([]Page, len(listing))
	found := make([]bool, len(listing))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)
	for i, entry := range listing {
		i, id := i, entry.ID
		group.Go(func() error {
			page, err := c.GetPage(groupCtx, id)
			if errors.Is(err, ErrPageNotFound) {
				// Deleted between the listing and the fetch.
				log.WithField("id", id).Debug("Page disappeared while listing")
				return nil
			}
			if err != nil {
				return err
			}
			pages[i] = page
			found[i] = true
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, errors.WithContext(err, "get pages")
	}

	result := make([]Page, 0, len(pages))
	for i, page := range pages {
		if found[i] {
			result = append(result, page)
		}
	}
	return result, nil
}

func (c *client) GetPage(ctx context.Context, id int) (Page, error) {
	var resp struct {
		Pages struct {
			Single *wirePage `json:"single"`
		} `json:"pages"`
	}
	err := c.do(ctx, singlePageQuery, map[string]interface{}{"id": id}, &resp)
	if err != nil {
		return Page{}, errors.WithContext(err, fmt.Sprintf("get page %d", id))
	}
	if resp.Pages.Single == nil {
		return Page{}, ErrPageNotFound
	}
	return resp.Pages.Single.toPage(), nil
}

func (c *client) GetPageByPath(ctx context.Context, path, locale string) (Page, error) {
	if locale == "" {
		locale = c.locale
	}

	var resp struct {
		Pages struct {
			SingleByPath *wirePage `json:"singleByPath"`
		} `json:"pages"`
	}
	err := c.do(ctx, pageByPathQuery, map[string]interface{}{
		"path":   path,
		"locale": locale,
	}, &resp)
	if err != nil {
		return Page{}, errors.WithContext(err, fmt.Sprintf("get page %q", path))
	}
	if resp.Pages.SingleByPath == nil {
		return Page{}, ErrPageNotFound
	}
	return resp.Pages.SingleByPath.toPage(), nil
}

// CreatePage creates the page, and returns it as stored by the wiki.
func (c *client) CreatePage(ctx context.Context, page Page) (Page, error) {
	if page.Locale == "" {
		page.Locale = c.locale
	}
	if page.Tags == nil {
		page.Tags = []string{}
	}

	var resp struct {
		Pages struct {
			Create struct {
				ResponseResult responseResult `json:"responseResult"`
				Page           *struct {
					ID int `json:"id"`
				} `json:"page"`
			} `json:"create"`
		} `json:"pages"`
	}
	err := c.do(ctx, createPageMutation, map[string]interface{}{
		"content":     page.Content,
		"description": page.Description,
		"editor":      defaultEditor,
		"isPublished": page.IsPublished,
		"isPrivate":   page.IsPrivate,
		"locale":      page.Locale,
		"path":        page.Path,
		"tags":        page.Tags,
		"title":       page.Title,
	}, &resp)
	if err != nil {
		return Page{}, errors.WithContext(err, "create page")
	}

	create := resp.Pages.Create
	if err := create.ResponseResult.err(); err != nil {
		return Page{}, errors.WithContext(err, "create page")
	}
	if create.Page == nil {
		return Page{}, errors.New("create page: no page in response")
	}
	return c.GetPage(ctx, create.Page.ID)
}

// UpdatePage overwrites the page with the given ID, and returns it as stored
// by the wiki.
func (c *client) UpdatePage(ctx context.Context, page Page) (Page, error) {
	if page.Locale == "" {
		page.Locale = c.locale
	}
	if page.Tags == nil {
		page.Tags = []string{}
	}

	var resp struct {
		Pages struct {
			Update struct {
				ResponseResult responseResult `json:"responseResult"`
			} `json:"update"`
		} `json:"pages"`
	}
	err := c.do(ctx, updatePageMutation, map[string]interface{}{
		"id":          page.ID,
		"content":     page.Content,
		"description": page.Description,
		"editor":      defaultEditor,
		"isPublished": page.IsPublished,
		"isPrivate":   page.IsPrivate,
		"locale":      page.Locale,
		"path":        page.Path,
		"tags":        page.Tags,
		"title":       page.Title,
	}, &resp)
	if err != nil {
		return Page{}, errors.WithContext(err, fmt.Sprintf("update page %d", page.ID))
	}
	if err := resp.Pages.Update.ResponseResult.err(); err != nil {
		return Page{}, errors.WithContext(err, fmt.Sprintf("update page %d", page.ID))
	}
	return c.GetPage(ctx, page.ID)
}

func (c *client) DeletePage(ctx context.Context, id int) error {
	var resp struct {
		Pages struct {
			Delete struct {
				ResponseResult responseResult `json:"responseResult"`
			} `json:"delete"`
		} `json:"pages"`
	}
	err := c.do(ctx, deletePageMutation, map[string]interface{}{"id": id}, &resp)
	if err != nil {
		return errors.WithContext(err, fmt.Sprintf("delete page %d", id))
	}
	return errors.WithContext(resp.Pages.Delete.ResponseResult.err(),
		fmt.Sprintf("delete page %d", id))
}

func (c *client) ServerVersion(ctx context.Context) (string, error) {
	var resp struct {
		System struct {
			Info struct {
				CurrentVersion string `json:"currentVersion"`
			} `json:"info"`
		} `json:"system"`
	}
	if err := c.do(ctx, serverVersionQuery, nil, &resp); err != nil {
		return "", errors.WithContext(err, "get server version")
	}
	return resp.System.Info.CurrentVersion, nil
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code      string `json:"code"`
		Exception struct {
			Code int `json:"code"`
		} `json:"exception"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// do runs a GraphQL operation, and decodes its data into `out`.
func (c *client) do(ctx context.Context, query string, variables map[string]interface{},
	out interface{}) error {

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return errors.WithContext(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.WithContext(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WithContext(err, "request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WithContext(err, "read response")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.ErrAuthentication
	case resp.StatusCode != http.StatusOK:
		return errors.RemoteError{StatusCode: resp.StatusCode, Message: truncate(respBody)}
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(respBody, &gqlResp); err != nil {
		return errors.WithContext(err, "parse response")
	}

	if err := checkErrors(gqlResp.Errors); err != nil {
		return err
	}

	if len(gqlResp.Data) == 0 || string(gqlResp.Data) == "null" {
		return errors.RemoteError{Message: "empty response"}
	}
	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return errors.WithContext(err, "parse data")
	}
	return nil
}

// pageNotFoundCode is the wiki's error code for missing pages.
const pageNotFoundCode = 6003

func checkErrors(gqlErrors []graphQLError) error {
	if len(gqlErrors) == 0 {
		return nil
	}

	var msgs []string
	for _, e := range gqlErrors {
		switch {
		case e.Extensions.Code == "FORBIDDEN", e.Extensions.Code == "UNAUTHENTICATED",
			strings.EqualFold(e.Message, "forbidden"):
			return errors.ErrAuthentication
		case e.Extensions.Exception.Code == pageNotFoundCode,
			strings.Contains(strings.ToLower(e.Message), "does not exist"):
			return ErrPageNotFound
		}
		msgs = append(msgs, e.Message)
	}
	return errors.RemoteError{Message: strings.Join(msgs, "; ")}
}

type responseResult struct {
	Succeeded bool   `json:"succeeded"`
	ErrorCode int    `json:"errorCode"`
	Slug      string `json:"slug"`
	Message   string `json:"message"`
}

func (r responseResult) err() error {
	if r.Succeeded {
		return nil
	}
	if r.ErrorCode == pageNotFoundCode {
		return ErrPageNotFound
	}
	return errors.RemoteError{Message: fmt.Sprintf("%s (%s)", r.Message, r.Slug)}
}

type wirePage struct {
	ID          int       `json:"id"`
	Path        string    `json:"path"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	IsPublished bool      `json:"isPublished"`
	IsPrivate   bool      `json:"isPrivate"`
	Locale      string    `json:"locale"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Tags        []struct {
		Tag string `json:"tag"`
	} `json:"tags"`
}

func (p wirePage) toPage() Page {
	tags := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		tags = append(tags, t.Tag)
	}
	return Page{
		ID:          p.ID,
		Path:        p.Path,
		Title:       p.Title,
		Description: p.Description,
		Content:     p.Content,
		Tags:        tags,
		IsPublished: p.IsPublished,
		IsPrivate:   p.IsPrivate,
		Locale:      p.Locale,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
