package http

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/munim110/vector-tile-server/internal/apierror"
	"github.com/munim110/vector-tile-server/internal/tileindex"
	"github.com/munim110/vector-tile-server/internal/tileservice"
)

type routeKind int

const (
	routeOther routeKind = iota
	routeTile
	routeList
	routeDashboard
	routeMetrics
	routeHealthz
)

func (k routeKind) String() string {
	switch k {
	case routeTile:
		return "tile"
	case routeList:
		return "list"
	case routeDashboard:
		return "dashboard"
	case routeMetrics:
		return "metrics"
	case routeHealthz:
		return "healthz"
	}
	return "other"
}

// route is the classification of one request. For tile routes either tile
// is filled in or err explains why the path is malformed.
type route struct {
	kind routeKind
	tile tileservice.Request
	err  error
}

// classify decides once which handler serves r. Unknown paths and methods
// fall through to routeOther.
func classify(r *http.Request) route {
	p := r.URL.Path
	get := r.Method == http.MethodGet || r.Method == http.MethodHead

	switch {
	case !get:
		return route{kind: routeOther}
	case p == "/tile" || strings.HasPrefix(p, "/tile/"):
		req, err := parseTilePath(strings.TrimPrefix(p, "/tile"), r.URL.Query().Get("file"))
		return route{kind: routeTile, tile: req, err: err}
	case p == "/list":
		return route{kind: routeList}
	case p == "/dashboard":
		return route{kind: routeDashboard}
	case p == "/metrics":
		return route{kind: routeMetrics}
	case p == "/healthz":
		return route{kind: routeHealthz}
	}
	return route{kind: routeOther}
}

// parseTilePath accepts "/{z}/{x}/{y}" with the key taken from the file
// query parameter, or "/{key...}/{z}/{x}/{y}" with an optional format
// extension on y.
func parseTilePath(p, fileParam string) (tileservice.Request, error) {
	var req tileservice.Request

	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 {
		return req, apierror.Invalid("expected /tile/{z}/{x}/{y}?file={key} or /tile/{key}/{z}/{x}/{y}")
	}

	n := len(parts)
	if n == 3 {
		if fileParam == "" {
			return req, apierror.Invalid("missing file parameter")
		}
		req.Key = fileParam
	} else {
		req.Key = strings.Join(parts[:n-3], "/")
	}

	last := parts[n-1]
	if ext := path.Ext(last); ext != "" {
		if _, err := tileindex.ParseFormat(ext); err != nil {
			return req, apierror.Invalid("unsupported tile extension %q", ext)
		}
		last = strings.TrimSuffix(last, ext)
	}

	var err error
	if req.Z, err = strconv.Atoi(parts[n-3]); err != nil {
		return req, apierror.Invalid("invalid zoom level %q", parts[n-3])
	}
	if req.X, err = strconv.Atoi(parts[n-2]); err != nil {
		return req, apierror.Invalid("invalid x coordinate %q", parts[n-2])
	}
	if req.Y, err = strconv.Atoi(last); err != nil {
		return req, apierror.Invalid("invalid y coordinate %q", last)
	}
	return req, nil
}

type routeKey struct{}

func withRoute(ctx context.Context, rt route) context.Context {
	return context.WithValue(ctx, routeKey{}, rt)
}

func routeFrom(ctx context.Context) route {
	rt, _ := ctx.Value(routeKey{}).(route)
	return rt
}
