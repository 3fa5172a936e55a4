package interceptor

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// GraphQLPath is the path fragment shared by every feed query.
const GraphQLPath = "/graphql/query"

// maxMarkerBody bounds how much of a request body is read to find markers.
const maxMarkerBody = 1 << 20

// Markers are the query identifiers the web client attaches to GraphQL
// requests, either as headers or as urlencoded body fields.
type Markers struct {
	FriendlyName string
	RootField    string
}

// IsGraphQL reports whether req targets the GraphQL query endpoint.
func IsGraphQL(req *http.Request) bool {
	return req != nil && req.URL != nil && strings.Contains(req.URL.Path, GraphQLPath)
}

// ReadMarkers extracts the friendly name and root field of req. Headers win
// over body fields. The body is restored so the request can still be sent.
func ReadMarkers(req *http.Request) Markers {
	m := Markers{
		FriendlyName: req.Header.Get("X-FB-Friendly-Name"),
		RootField:    req.Header.Get("X-Root-Field-Name"),
	}
	if m.FriendlyName != "" && m.RootField != "" {
		return m
	}
	form, err := peekForm(req)
	if err != nil {
		return m
	}
	if m.FriendlyName == "" {
		m.FriendlyName = lo.CoalesceOrEmpty(form.Get("x-fb-friendly-name"), form.Get("fb_api_req_friendly_name"))
	}
	if m.RootField == "" {
		m.RootField = form.Get("x-root-field-name")
	}
	return m
}

// peekForm parses a urlencoded body without consuming it.
func peekForm(req *http.Request) (url.Values, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return url.Values{}, nil
	}
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxMarkerBody+1))
	if err == nil && len(raw) > maxMarkerBody {
		// leave the unread remainder in place
		req.Body = prefixedBody{io.MultiReader(bytes.NewReader(raw), req.Body), req.Body}
		return nil, fmt.Errorf("body exceeds %d bytes", maxMarkerBody)
	}
	_ = req.Body.Close()
	restoreBody(req, raw)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return url.ParseQuery(string(raw))
}

type prefixedBody struct {
	io.Reader
	io.Closer
}

func restoreBody(req *http.Request, raw []byte) {
	req.Body = io.NopCloser(bytes.NewReader(raw))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	req.ContentLength = int64(len(raw))
}

// StubJSON builds a synthetic JSON response for req without touching the
// network.
func StubJSON(req *http.Request, status int, body string) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
