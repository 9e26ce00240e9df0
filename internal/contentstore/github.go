package contentstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/sethvargo/go-retry"
)

// GitHubConfig names the repository that holds the ticket documents.
type GitHubConfig struct {
	Token  string
	Owner  string
	Repo   string
	Branch string
	// APIURL overrides https://api.github.com/ (GitHub Enterprise, tests).
	APIURL  string
	Timeout time.Duration
	// ReadRetries bounds retries of Get/List on transport and 5xx errors.
	ReadRetries uint64
	RetryBase   time.Duration
}

// GitHub implements Backend over the repository contents API.
type GitHub struct {
	cfg    GitHubConfig
	client *github.Client
	log    *slog.Logger
}

func NewGitHub(cfg GitHubConfig, log *slog.Logger) (*GitHub, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("contentstore: github owner and repo are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	client := github.NewClient(&http.Client{Timeout: cfg.Timeout})
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.APIURL != "" {
		base := cfg.APIURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("contentstore: github api url: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHub{cfg: cfg, client: client, log: log}, nil
}

func (g *GitHub) getOptions() *github.RepositoryContentGetOptions {
	if g.cfg.Branch == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: g.cfg.Branch}
}

func (g *GitHub) Get(ctx context.Context, p string) (*Object, error) {
	p = clean(p)
	var obj *Object
	err := g.withReadRetry(ctx, "get "+p, func(ctx context.Context) error {
		file, _, resp, err := g.client.Repositories.GetContents(ctx, g.cfg.Owner, g.cfg.Repo, p, g.getOptions())
		if err != nil {
			return classify(ctx, resp, err)
		}
		if file == nil {
			return fmt.Errorf("contentstore: %s is a directory", p)
		}
		content, err := file.GetContent()
		if err != nil {
			return fmt.Errorf("contentstore: decode %s: %w", p, err)
		}
		obj = &Object{Path: p, Data: []byte(content), SHA: file.GetSHA()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (g *GitHub) Put(ctx context.Context, p string, data []byte, sha, message string) (string, error) {
	p = clean(p)
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: data,
	}
	if g.cfg.Branch != "" {
		opts.Branch = github.String(g.cfg.Branch)
	}
	var (
		res  *github.RepositoryContentResponse
		resp *github.Response
		err  error
	)
	if sha == "" {
		res, resp, err = g.client.Repositories.CreateFile(ctx, g.cfg.Owner, g.cfg.Repo, p, opts)
	} else {
		opts.SHA = github.String(sha)
		res, resp, err = g.client.Repositories.UpdateFile(ctx, g.cfg.Owner, g.cfg.Repo, p, opts)
	}
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusConflict, http.StatusUnprocessableEntity:
				return "", &errs.ConflictError{Path: p, Expected: sha}
			case http.StatusNotFound:
				if sha != "" {
					return "", &errs.ConflictError{Path: p, Expected: sha}
				}
			}
		}
		return "", fmt.Errorf("contentstore: put %s: %w", p, err)
	}
	if res == nil || res.Content == nil {
		return BlobSHA(data), nil
	}
	return res.Content.GetSHA(), nil
}

func (g *GitHub) List(ctx context.Context, dir string) ([]Entry, error) {
	dir = clean(dir)
	var out []Entry
	err := g.withReadRetry(ctx, "list "+dir, func(ctx context.Context) error {
		_, items, resp, err := g.client.Repositories.GetContents(ctx, g.cfg.Owner, g.cfg.Repo, dir, g.getOptions())
		if err != nil {
			return classify(ctx, resp, err)
		}
		out = make([]Entry, 0, len(items))
		for _, it := range items {
			typ := EntryFile
			if it.GetType() == "dir" {
				typ = EntryDir
			}
			out = append(out, Entry{Name: it.GetName(), Path: it.GetPath(), Type: typ})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return nil
	})
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// withReadRetry retries idempotent reads on transport errors and 5xx.
func (g *GitHub) withReadRetry(ctx context.Context, op string, fn retry.RetryFunc) error {
	backoff := retry.WithMaxRetries(g.cfg.ReadRetries, retry.NewExponential(g.cfg.RetryBase))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		var re *retryable
		if errors.As(err, &re) {
			g.log.Warn("contentstore: github read failed", "op", op, "attempt", attempt, "error", re.err)
			return retry.RetryableError(re.err)
		}
		return err
	})
}

type retryable struct{ err error }

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

// classify separates a caller that gave up (ctx done, not retried) from a
// transport failure; an http.Client timeout also wraps DeadlineExceeded, so
// the error chain alone cannot tell them apart.
func classify(ctx context.Context, resp *github.Response, err error) error {
	if resp == nil {
		if ctx.Err() != nil {
			return err
		}
		return &retryable{err: fmt.Errorf("contentstore: github: %w", err)}
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errs.ErrNotFound
	case resp.StatusCode >= 500:
		return &retryable{err: fmt.Errorf("contentstore: github status %d: %w", resp.StatusCode, err)}
	default:
		return fmt.Errorf("contentstore: github status %d: %w", resp.StatusCode, err)
	}
}
