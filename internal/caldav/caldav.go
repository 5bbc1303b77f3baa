// Package caldav implements the calendar-collection client used by the
// reconciler: PROPFIND enumeration, PUT upsert, GET fetch and DELETE, with
// basic authentication and a single-retry policy for transient failures.
package caldav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/workcal/outsyncd/internal/dav"
)

var (
	// ErrAuth marks 401/403 responses. Auth failures are never retried;
	// the supervisor surfaces them to the user.
	ErrAuth = errors.New("caldav: authentication failed")
	// ErrParse names a malformed server response. Enumerate reports decode
	// failures as plain errors and does not wrap them in ErrParse.
	ErrParse = errors.New("caldav: malformed server response")
)

const (
	userAgent  = "outsyncd/1.0"
	retryDelay = 5 * time.Second

	// propfindBody asks for getetag and getctag on the collection members.
	propfindBody = `<?xml version="1.0" encoding="UTF-8"?>
<d:propfind xmlns:d="DAV:" xmlns:cs="http://calendarserver.org/ns/">
  <d:prop><d:getetag/><cs:getctag/></d:prop>
</d:propfind>`
)

// Config describes the destination collection.
type Config struct {
	BaseURL      string
	Username     string
	Password     string
	PrincipalID  string
	CalendarID   string
	HTTPClient   dav.HTTPClient
	// Managed classifies destination UIDs as belonging to this instance.
	Managed func(string) bool
	Logger  *slog.Logger
	// RetryDelay overrides the transient-failure retry delay; tests use it.
	RetryDelay time.Duration
}

// Client accesses one CalDAV calendar collection.
type Client struct {
	dc         *dav.Client
	managed    func(string) bool
	logger     *slog.Logger
	retryDelay time.Duration
}

// CalendarURL builds the collection URL from its parts, with a trailing
// slash so member paths append cleanly.
func CalendarURL(base, principalID, calendarID string) string {
	return strings.TrimSuffix(base, "/") + "/" + principalID + "/calendars/" + calendarID + "/"
}

func New(cfg Config) (*Client, error) {
	calendarURL := CalendarURL(cfg.BaseURL, cfg.PrincipalID, cfg.CalendarID)
	if _, err := url.Parse(calendarURL); err != nil {
		return nil, fmt.Errorf("caldav: invalid calendar URL %q: %w", calendarURL, err)
	}

	hc := dav.HTTPClientWithBasicAuth(cfg.HTTPClient, cfg.Username, cfg.Password)
	dc, err := dav.NewClient(hc, calendarURL, userAgent)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	managed := cfg.Managed
	if managed == nil {
		managed = func(string) bool { return true }
	}
	delay := cfg.RetryDelay
	if delay == 0 {
		delay = retryDelay
	}

	return &Client{dc: dc, managed: managed, logger: logger, retryDelay: delay}, nil
}

// EventPath returns the collection-relative resource path of a UID.
func (c *Client) EventPath(uid string) string {
	return uid + ".ics"
}

// Enumerate lists the collection with a Depth: 1 PROPFIND and returns a
// UID → etag snapshot. Etags are carried for a future conditional-upsert
// path; they are not used for writes today. With filterManaged set,
// entries not owned by this instance are skipped.
func (c *Client) Enumerate(ctx context.Context, filterManaged bool) (map[string]string, error) {
	var ms *dav.MultiStatus
	err := c.retry(ctx, "PROPFIND", func() error {
		var err error
		ms, err = c.dc.PropFind(ctx, "", dav.DepthOne, propfindBody)
		return err
	})
	if err != nil {
		return nil, err
	}

	entries := make(map[string]string)
	for i := range ms.Responses {
		resp := &ms.Responses[i]
		p, err := resp.Path()
		if err != nil {
			c.logger.Warn("skipping unreadable enumeration entry", "error", err)
			continue
		}
		if !strings.HasSuffix(p, ".ics") {
			continue
		}

		segments := strings.Split(strings.TrimSuffix(p, "/"), "/")
		uid := strings.TrimSuffix(segments[len(segments)-1], ".ics")
		if uid == "" {
			continue
		}
		if filterManaged && !c.managed(uid) {
			continue
		}

		var etag dav.GetETag
		if err := resp.DecodeProp(dav.GetETagName, &etag); err != nil && !dav.IsNotFound(err) {
			c.logger.Warn("entry has no readable etag", "uid", uid, "error", err)
		}
		entries[uid] = string(etag.ETag)
	}

	return entries, nil
}

// Upsert writes the iCalendar document for a UID.
func (c *Client) Upsert(ctx context.Context, uid, icsBody string) error {
	return c.retry(ctx, "PUT", func() error {
		req, err := c.dc.NewRequest(ctx, http.MethodPut, c.EventPath(uid), strings.NewReader(icsBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "text/calendar; charset=utf-8")

		resp, err := c.dc.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	})
}

// Fetch retrieves the iCalendar document for a UID.
func (c *Client) Fetch(ctx context.Context, uid string) (string, error) {
	var body string
	err := c.retry(ctx, "GET", func() error {
		req, err := c.dc.NewRequest(ctx, http.MethodGet, c.EventPath(uid), nil)
		if err != nil {
			return err
		}

		resp, err := c.dc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		body = string(b)
		return nil
	})
	return body, err
}

// Delete removes the resource for a UID. A missing resource is not an
// error: the desired state is already in place.
func (c *Client) Delete(ctx context.Context, uid string) error {
	err := c.retry(ctx, "DELETE", func() error {
		req, err := c.dc.NewRequest(ctx, http.MethodDelete, c.EventPath(uid), nil)
		if err != nil {
			return err
		}

		resp, err := c.dc.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	})
	if dav.IsNotFound(err) {
		return nil
	}
	return err
}

// retry runs op with the client's single-retry policy: one delayed retry
// on any failure except authentication, which is raised immediately.
func (c *Client) retry(ctx context.Context, method string, op func() error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if dav.IsAuth(err) {
			return backoff.Permanent(fmt.Errorf("%w: %s: %v", ErrAuth, method, err))
		}
		if attempt == 1 {
			c.logger.Warn("request failed, retrying once", "method", method, "error", err)
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), 1), ctx)
	return backoff.Retry(wrapped, b)
}

// Sleep waits for d or until ctx is cancelled. Pacing sleeps must be
// cancellable waits, not unconditional timers.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
