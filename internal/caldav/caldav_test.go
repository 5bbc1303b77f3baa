package caldav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/workcal/outsyncd/internal/uid"
)

const multiStatusBody = `<?xml version="1.0" encoding="UTF-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:cs="http://calendarserver.org/ns/">
  <d:response>
    <d:href>/p1/calendars/work/</d:href>
    <d:propstat>
      <d:prop><cs:getctag>ctag-1</cs:getctag></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/p1/calendars/work/ACME-outlook-abc-20250101T080000Z.ics</d:href>
    <d:propstat>
      <d:prop><d:getetag>"etag-1"</d:getetag></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/p1/calendars/work/FOREIGN-outlook-def-20250101T080000Z.ics</d:href>
    <d:propstat>
      <d:prop><d:getetag>"etag-2"</d:getetag></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	b := uid.Builder{SourceID: "ACME"}
	c, err := New(Config{
		BaseURL:     srv.URL,
		Username:    "user",
		Password:    "pass",
		PrincipalID: "p1",
		CalendarID:  "work",
		Managed:     b.Managed,
		RetryDelay:  10 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestCalendarURL(t *testing.T) {
	got := CalendarURL("https://caldav.icloud.com/", "p1", "work")
	require.Equal(t, "https://caldav.icloud.com/p1/calendars/work/", got)

	got = CalendarURL("https://caldav.icloud.com", "p1", "work")
	require.Equal(t, "https://caldav.icloud.com/p1/calendars/work/", got)
}

func TestEnumerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PROPFIND", r.Method)
		require.Equal(t, "/p1/calendars/work/", r.URL.Path)
		require.Equal(t, "1", r.Header.Get("Depth"))

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "user", user)
		require.Equal(t, "pass", pass)

		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, multiStatusBody)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	got, err := c.Enumerate(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"ACME-outlook-abc-20250101T080000Z": "etag-1",
	}, got)
}

func TestEnumerate_unfiltered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, multiStatusBody)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	got, err := c.Enumerate(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Contains(t, got, "FOREIGN-outlook-def-20250101T080000Z")
}

func TestEnumerate_authFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	_, err := c.Enumerate(context.Background(), true)
	require.ErrorIs(t, err, ErrAuth)
}

func TestUpsert(t *testing.T) {
	var gotBody, gotContentType, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	err := c.Upsert(context.Background(), "uid-1", "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")
	require.NoError(t, err)
	require.Equal(t, "/p1/calendars/work/uid-1.ics", gotPath)
	require.Equal(t, "text/calendar; charset=utf-8", gotContentType)
	require.Contains(t, gotBody, "BEGIN:VCALENDAR")
}

func TestUpsert_retriesOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	err := c.Upsert(context.Background(), "uid-1", "body")
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestUpsert_persistentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	err := c.Upsert(context.Background(), "uid-1", "body")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAuth)
	require.Equal(t, int32(2), calls.Load())
}

func TestUpsert_authNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	err := c.Upsert(context.Background(), "uid-1", "body")
	require.ErrorIs(t, err, ErrAuth)
	require.Equal(t, int32(1), calls.Load())
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		fmt.Fprint(w, "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	body, err := c.Fetch(context.Background(), "uid-1")
	require.NoError(t, err)
	require.Contains(t, body, "BEGIN:VCALENDAR")
}

func TestDelete_missingIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.Delete(context.Background(), "uid-1"))
}

func TestSleep_cancellable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Sleep(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}

func TestSleep_elapses(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestRetry_contextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := uid.Builder{}
	c, err := New(Config{
		BaseURL:     srv.URL,
		PrincipalID: "p1",
		CalendarID:  "work",
		Managed:     b.Managed,
		RetryDelay:  time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = c.Upsert(ctx, "uid-1", "body")
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		// backoff may surface the last operation error instead; either way
		// the call must have returned promptly.
		t.Logf("returned error: %v", err)
	}
}
