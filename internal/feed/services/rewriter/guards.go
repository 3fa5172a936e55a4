package rewriter

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/log"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/gateways/interceptor"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/services/classifier"
)

var (
	feedQueryRe      = regexp.MustCompile(`(?i)(PolarisFeedRootQuery|PolarisFeedRootPaginationQuery)`)
	subscribeQueryRe = regexp.MustCompile(`(?i)PolarisFeedRootPaginationCachedQuery_subscribe`)
)

// emptyData is the stub answered for blocked subscribe queries.
const emptyData = `{"data":{}}`

// IsFeedRequest reports whether req is a home-feed query.
func IsFeedRequest(req *http.Request) bool {
	return interceptor.IsGraphQL(req) && feedQueryRe.MatchString(interceptor.ReadMarkers(req).FriendlyName)
}

// IsSubscribeRequest reports whether req is the cached pagination
// subscription the suggestion block targets.
func IsSubscribeRequest(req *http.Request) bool {
	return interceptor.IsGraphQL(req) && subscribeQueryRe.MatchString(interceptor.ReadMarkers(req).FriendlyName)
}

// FeedGuard rewrites feed query responses. Anything it cannot handle is
// passed through untouched.
func (r *Rewriter) FeedGuard() interceptor.Guard {
	return interceptor.GuardFunc{Label: "feed-rewriter", Fn: r.interceptFeed}
}

// SuggestionBlockGuard answers the subscribe query with an empty result
// while the suggestion block is enabled.
func (r *Rewriter) SuggestionBlockGuard() interceptor.Guard {
	return interceptor.GuardFunc{Label: "suggestion-block", Fn: r.interceptSubscribe}
}

func (r *Rewriter) interceptSubscribe(req *http.Request, next interceptor.Next) (*http.Response, error) {
	if !r.suggestBlock.Load() || !IsSubscribeRequest(req) {
		return next(req)
	}
	r.stubbed.Add(1)
	log.Debug(map[string]any{"path": req.URL.Path}, "subscribe query stubbed")
	return interceptor.StubJSON(req, http.StatusOK, emptyData), nil
}

func (r *Rewriter) interceptFeed(req *http.Request, next interceptor.Next) (*http.Response, error) {
	if !IsFeedRequest(req) || referredFromDirectPost(req) {
		return next(req)
	}
	// let the transport negotiate and decode compression itself; the
	// caller's request must stay untouched
	req = req.Clone(req.Context())
	req.Header.Del("Accept-Encoding")

	resp, err := next(req)
	if err != nil || resp == nil {
		return resp, err
	}
	return r.rewriteResponse(resp), nil
}

func (r *Rewriter) rewriteResponse(resp *http.Response) *http.Response {
	if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "application/json") {
		r.passThrough.Add(1)
		return resp
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		r.passThrough.Add(1)
		return resp
	}

	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		r.passThrough.Add(1)
		log.Debug(map[string]any{"error": err.Error()}, "feed body unreadable")
		return resp
	}

	out, res, err := r.FilterFeed(raw)
	if err != nil || !res.Changed {
		r.passThrough.Add(1)
		if err != nil {
			log.Debug(map[string]any{"error": err.Error()}, "feed left unmodified")
		}
		return resp
	}

	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("ETag")
	r.rewritten.Add(1)
	log.Debug(map[string]any{"before": res.Before, "after": res.After}, "feed rewritten")
	return resp
}

// referredFromDirectPost reports whether the query was issued from a single
// post, reel or tv view, where nothing is filtered.
func referredFromDirectPost(req *http.Request) bool {
	ref := req.Header.Get("Referer")
	if ref == "" {
		return false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return classifier.OnDirectPostPath(u.Path)
}
