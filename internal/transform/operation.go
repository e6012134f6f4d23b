package transform

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidOperation is returned by Operation.Validate for malformed requests.
var ErrInvalidOperation = errors.New("invalid operation")

// Operation families.
const (
	FamilyConstructive = "constructive"
	FamilyFilter       = "filter"
	FamilyJoin         = "join"
)

// Operation is a transform request. The set of implementations is closed:
// Constructive, Filter and Join.
type Operation interface {
	// Family returns the operation family, e.g. "filter".
	Family() string
	// RequestType returns the ticket request type, e.g. "filter.within".
	RequestType() string
	// Validate reports whether the operation carries usable arguments.
	Validate() error

	operation()
}

// ReadOptions describe how the engine should read a source dataset.
type ReadOptions struct {
	Encoding  string `json:"encoding,omitempty"`
	Delimiter string `json:"delimiter,omitempty"`
	Geom      string `json:"geom,omitempty"`
	Lat       string `json:"lat,omitempty"`
	Lon       string `json:"lon,omitempty"`
}

// Source is one input dataset of an operation.
type Source struct {
	Path        string      `json:"path"`
	CRS         string      `json:"crs,omitempty"`
	ReadOptions ReadOptions `json:"read_options"`
}

func (s Source) validate(name string) error {
	if s.Path == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidOperation, name)
	}
	return nil
}

// ConstructiveKind enumerates constructive operations.
type ConstructiveKind string

const (
	Centroid   ConstructiveKind = "centroid"
	ConvexHull ConstructiveKind = "convex_hull"
	Simplify   ConstructiveKind = "simplify"
)

// Constructive builds new geometries from the source geometries.
type Constructive struct {
	Kind             ConstructiveKind `json:"kind"`
	Source           Source           `json:"source"`
	Tolerance        float64          `json:"tolerance,omitempty"`
	PreserveTopology bool             `json:"preserve_topology,omitempty"`
}

func (Constructive) operation()     {}
func (Constructive) Family() string { return FamilyConstructive }
func (c Constructive) RequestType() string {
	return FamilyConstructive + "." + string(c.Kind)
}

func (c Constructive) Validate() error {
	switch c.Kind {
	case Centroid, ConvexHull:
	case Simplify:
		if !positive(c.Tolerance) {
			return fmt.Errorf("%w: tolerance must be a positive number", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown constructive operation %q", ErrInvalidOperation, c.Kind)
	}
	return c.Source.validate("resource")
}

// FilterKind enumerates filter operations.
type FilterKind string

const (
	Nearest      FilterKind = "nearest"
	Within       FilterKind = "within"
	WithinBuffer FilterKind = "within_buffer"
)

// Filter selects a subset of the source features relative to a geometry.
type Filter struct {
	Kind   FilterKind `json:"kind"`
	Source Source     `json:"source"`
	WKT    string     `json:"wkt"`
	Radius float64    `json:"radius,omitempty"`
}

func (Filter) operation()     {}
func (Filter) Family() string { return FamilyFilter }
func (f Filter) RequestType() string {
	return FamilyFilter + "." + string(f.Kind)
}

func (f Filter) Validate() error {
	switch f.Kind {
	case Nearest, Within:
	case WithinBuffer:
		if !positive(f.Radius) {
			return fmt.Errorf("%w: radius must be a positive number", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown filter operation %q", ErrInvalidOperation, f.Kind)
	}
	if f.WKT == "" {
		return fmt.Errorf("%w: wkt is required", ErrInvalidOperation)
	}
	return f.Source.validate("resource")
}

// JoinKind enumerates spatial join predicates.
type JoinKind string

const (
	Contains   JoinKind = "contains"
	JoinWithin JoinKind = "within"
	Intersects JoinKind = "intersects"
	DWithin    JoinKind = "dwithin"
)

// Join strategies.
const (
	JoinInner = "inner"
	JoinLeft  = "left"
	JoinRight = "right"
)

// Join performs a spatial join of two datasets.
type Join struct {
	Kind     JoinKind `json:"kind"`
	Left     Source   `json:"left"`
	Right    Source   `json:"right"`
	How      string   `json:"how"`
	LPrefix  string   `json:"lprefix,omitempty"`
	RPrefix  string   `json:"rprefix,omitempty"`
	LSuffix  string   `json:"lsuffix,omitempty"`
	RSuffix  string   `json:"rsuffix,omitempty"`
	Distance float64  `json:"distance,omitempty"`
}

func (Join) operation()     {}
func (Join) Family() string { return FamilyJoin }
func (j Join) RequestType() string {
	return FamilyJoin + "." + string(j.Kind)
}

func (j Join) Validate() error {
	switch j.Kind {
	case Contains, JoinWithin, Intersects:
	case DWithin:
		if !positive(j.Distance) {
			return fmt.Errorf("%w: distance must be a positive number", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown join predicate %q", ErrInvalidOperation, j.Kind)
	}
	switch j.How {
	case JoinInner, JoinLeft, JoinRight:
	default:
		return fmt.Errorf("%w: how must be one of inner, left, right", ErrInvalidOperation)
	}
	if err := j.Left.validate("resource"); err != nil {
		return err
	}
	return j.Right.validate("other")
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// OperationInfo describes one supported operation.
type OperationInfo struct {
	RequestType string   `json:"request_type"`
	Family      string   `json:"family"`
	Parameters  []string `json:"parameters,omitempty"`
}

// Catalog lists every supported operation, in a stable order.
func Catalog() []OperationInfo {
	return []OperationInfo{
		{RequestType: Constructive{Kind: Centroid}.RequestType(), Family: FamilyConstructive},
		{RequestType: Constructive{Kind: ConvexHull}.RequestType(), Family: FamilyConstructive},
		{RequestType: Constructive{Kind: Simplify}.RequestType(), Family: FamilyConstructive, Parameters: []string{"tolerance", "preserve_topology"}},
		{RequestType: Filter{Kind: Nearest}.RequestType(), Family: FamilyFilter, Parameters: []string{"wkt"}},
		{RequestType: Filter{Kind: Within}.RequestType(), Family: FamilyFilter, Parameters: []string{"wkt"}},
		{RequestType: Filter{Kind: WithinBuffer}.RequestType(), Family: FamilyFilter, Parameters: []string{"wkt", "radius"}},
		{RequestType: Join{Kind: Contains}.RequestType(), Family: FamilyJoin, Parameters: []string{"how"}},
		{RequestType: Join{Kind: JoinWithin}.RequestType(), Family: FamilyJoin, Parameters: []string{"how"}},
		{RequestType: Join{Kind: Intersects}.RequestType(), Family: FamilyJoin, Parameters: []string{"how"}},
		{RequestType: Join{Kind: DWithin}.RequestType(), Family: FamilyJoin, Parameters: []string{"how", "distance"}},
	}
}
