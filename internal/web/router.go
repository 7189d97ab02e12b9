// ABOUTME: Minimal ordered HTTP router with :name path placeholders.
// ABOUTME: Routes are tried strictly in registration order; first match wins.

package web

import (
	"net/http"
	"regexp"
	"strings"
)

// HandlerFunc handles a matched request. params holds the values captured by
// the route's :name placeholders, keyed by placeholder name.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, params map[string]string)

var placeholderPattern = regexp.MustCompile(`:(\w+)`)

// Route pairs a method and compiled path template with its handler.
type Route struct {
	method  string
	pattern *regexp.Regexp
	names   []string
	handler HandlerFunc
}

// NewRoute compiles a path template into a route. Literal text is matched
// verbatim and each :name placeholder captures one path segment (it will not
// match across a slash, so a value containing a slash simply fails to match).
// Placeholder names must be unique within one template; duplicates are not
// defended against and the captured value for a repeated name is undefined.
func NewRoute(method, template string, handler HandlerFunc) Route {
	var (
		expr  strings.Builder
		names []string
		last  int
	)
	expr.WriteString("^")
	for _, loc := range placeholderPattern.FindAllStringSubmatchIndex(template, -1) {
		expr.WriteString(regexp.QuoteMeta(template[last:loc[0]]))
		expr.WriteString(`([^/]*)`)
		names = append(names, template[loc[2]:loc[3]])
		last = loc[1]
	}
	expr.WriteString(regexp.QuoteMeta(template[last:]))
	expr.WriteString("$")

	return Route{
		method:  method,
		pattern: regexp.MustCompile(expr.String()),
		names:   names,
		handler: handler,
	}
}

// Match reports whether the request's method and path satisfy the route,
// returning the captured placeholder values when they do. The method
// comparison is case-insensitive.
func (rt Route) Match(r *http.Request) (map[string]string, bool) {
	if !strings.EqualFold(rt.method, r.Method) {
		return nil, false
	}
	m := rt.pattern.FindStringSubmatch(r.URL.Path)
	if m == nil {
		return nil, false
	}
	params := make(map[string]string, len(rt.names))
	for i, name := range rt.names {
		params[name] = m[i+1]
	}
	return params, true
}

// Router dispatches each request to the first route that matches it, in the
// order the routes were registered. Requests nothing matches go to the
// not-found handler.
type Router struct {
	routes   []Route
	notFound http.HandlerFunc
}

// NewRouter returns a router with no routes and the default not-found
// behavior: a 404 response with a fixed body.
func NewRouter() *Router {
	return &Router{
		notFound: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "404 not found", http.StatusNotFound)
		},
	}
}

// Handle appends a route for method and template. Registration order is
// dispatch order.
func (ro *Router) Handle(method, template string, handler HandlerFunc) {
	ro.routes = append(ro.routes, NewRoute(method, template, handler))
}

// NotFound replaces the fallback handler invoked when no route matches.
func (ro *Router) NotFound(h http.HandlerFunc) {
	ro.notFound = h
}

func (ro *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, rt := range ro.routes {
		if params, ok := rt.Match(r); ok {
			rt.handler(w, r, params)
			return
		}
	}
	ro.notFound(w, r)
}
