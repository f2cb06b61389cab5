package router

import (
	"strings"

	"github.com/valyala/fasthttp"
)

// Router dispatches fasthttp requests by method and path pattern.
// Patterns are slash-separated; a segment written as {name} captures the
// request segment into ctx.UserValue(name).
type Router struct {
	prefix string
	routes map[string][]route
}

type route struct {
	parts   []string
	handler fasthttp.RequestHandler
}

// New returns a router whose patterns are all mounted under prefix
// (e.g. "/api"); prefix may be empty.
func New(prefix string) *Router {
	return &Router{prefix: strings.TrimRight(prefix, "/"), routes: make(map[string][]route)}
}

func (r *Router) GET(pattern string, h fasthttp.RequestHandler)    { r.add(fasthttp.MethodGet, pattern, h) }
func (r *Router) POST(pattern string, h fasthttp.RequestHandler)   { r.add(fasthttp.MethodPost, pattern, h) }
func (r *Router) DELETE(pattern string, h fasthttp.RequestHandler) { r.add(fasthttp.MethodDelete, pattern, h) }

func (r *Router) add(method, pattern string, h fasthttp.RequestHandler) {
	r.routes[method] = append(r.routes[method], route{parts: split(r.prefix + pattern), handler: h})
}

// Handler is the fasthttp entry point. Unknown paths get 404; a known
// path with the wrong method gets 405.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	parts := split(string(ctx.Path()))
	for _, rt := range r.routes[string(ctx.Method())] {
		if params, ok := match(rt.parts, parts); ok {
			for k, v := range params {
				ctx.SetUserValue(k, v)
			}
			rt.handler(ctx)
			return
		}
	}
	for method, list := range r.routes {
		if method == string(ctx.Method()) {
			continue
		}
		for _, rt := range list {
			if _, ok := match(rt.parts, parts); ok {
				WriteError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
				return
			}
		}
	}
	WriteError(ctx, fasthttp.StatusNotFound, "not found")
}

// Param returns a captured path segment.
func Param(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func match(pattern, parts []string) (map[string]string, bool) {
	if len(pattern) != len(parts) {
		return nil, false
	}
	var params map[string]string
	for i, p := range pattern {
		if len(p) > 2 && p[0] == '{' && p[len(p)-1] == '}' {
			if parts[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[p[1:len(p)-1]] = parts[i]
			continue
		}
		if p != parts[i] {
			return nil, false
		}
	}
	return params, true
}
