// Package transport defines how tilesets and tile content are retrieved and
// keeps a registry of named drivers.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/mohammed-shakir/tilestream/internal/tiles"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrUnknownDriver = errors.New("unknown transport driver")
)

type Filters struct {
	Classes     []int
	SourceFiles []string
	MaxDensity  float64
}

// Query selects which tileset to stream and how its points are filtered.
type Query struct {
	Table     string
	OutputCRS string
	Filters   Filters
	MaxPoints int64
	// Boundary limits the query to points inside the ring. Nil means the
	// whole table.
	Boundary Polygon
}

func (q Query) Validate() error {
	if strings.TrimSpace(q.Table) == "" {
		return errors.New("table is required")
	}
	if strings.TrimSpace(q.OutputCRS) == "" {
		return errors.New("output crs is required")
	}
	if q.MaxPoints < 0 || q.Filters.MaxDensity < 0 {
		return errors.New("max points and max density must not be negative")
	}
	if q.Boundary != nil {
		if err := q.Boundary.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Values encodes the query as URL parameters. Empty filters are omitted.
func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set("crs", q.OutputCRS)
	if len(q.Filters.Classes) > 0 {
		cls := make([]string, 0, len(q.Filters.Classes))
		for _, c := range q.Filters.Classes {
			cls = append(cls, strconv.Itoa(c))
		}
		v.Set("classes", strings.Join(cls, ","))
	}
	if len(q.Filters.SourceFiles) > 0 {
		v.Set("sources", strings.Join(q.Filters.SourceFiles, ","))
	}
	if q.MaxPoints > 0 {
		v.Set("max_points", strconv.FormatInt(q.MaxPoints, 10))
	}
	if q.Filters.MaxDensity > 0 {
		v.Set("max_density", strconv.FormatFloat(q.Filters.MaxDensity, 'f', -1, 64))
	}
	if len(q.Boundary) > 0 {
		v.Set("boundary", q.Boundary.GeoJSON())
	}
	return v
}

// RawContent is a tile's geometry buffer and the offset its positions are
// relative to, in tileset CRS units.
type RawContent struct {
	Geometry []byte
	Offset   r3.Vector
}

type ContentFetcher interface {
	FetchTileContent(ctx context.Context, ref string) (RawContent, error)
}

type Transport interface {
	ContentFetcher
	FetchTileset(ctx context.Context, q Query) (*tiles.Tileset, error)
}

type Options struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Dir        string
	MaxNodes   int
}

type Factory func(opts Options) (Transport, error)

var (
	regMu sync.RWMutex
	reg   = map[string]Factory{}
)

func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	reg[strings.ToLower(name)] = f
}

func New(name string, opts Options) (Transport, error) {
	regMu.RLock()
	f, ok := reg[strings.ToLower(strings.TrimSpace(name))]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownDriver, name, strings.Join(Drivers(), ","))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return f(opts)
}

func Drivers() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(reg))
	for k := range reg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
