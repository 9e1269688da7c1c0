// Package openapi provides reflective OpenAPI 3.0 specification generation
// for the management API. Endpoints register their request and response
// models; schemas are extracted from the struct json tags.
package openapi

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// =============================================================================
// Generator
// =============================================================================

// Endpoint describes one management route for documentation purposes.
type Endpoint struct {
	Method      string      // HTTP method
	Path        string      // full route path, path params in {braces}
	OperationID string
	Summary     string
	Tag         string
	Request     interface{} // request body model, nil for none
	Response    interface{} // success response model, nil for none
	Status      int         // success status code, 0 means 200
	Paginated   bool        // adds limit/offset query parameters
}

// Generator produces OpenAPI 3.0 specifications by reflecting on registered
// endpoints.
type Generator struct {
	title       string
	version     string
	description string
	servers     []string
	endpoints   []Endpoint
	mu          sync.RWMutex
	cachedSpec  *openapi3.T
}

// Option configures the generator.
type Option func(*Generator)

// WithTitle sets the API title.
func WithTitle(title string) Option {
	return func(g *Generator) {
		g.title = title
	}
}

// WithVersion sets the API version.
func WithVersion(version string) Option {
	return func(g *Generator) {
		g.version = version
	}
}

// WithDescription sets the API description.
func WithDescription(description string) Option {
	return func(g *Generator) {
		g.description = description
	}
}

// WithServer adds a server URL.
func WithServer(url string) Option {
	return func(g *Generator) {
		g.servers = append(g.servers, url)
	}
}

// NewGenerator creates a new OpenAPI generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		title:       "Shipwright API",
		version:     "1.0.0",
		description: "Compose deployment pipeline API",
		endpoints:   make([]Endpoint, 0),
	}

	for _, opt := range opts {
		opt(g)
	}

	if len(g.servers) == 0 {
		g.servers = []string{"/"}
	}

	return g
}

// Register adds an endpoint to the generator for spec generation.
func (g *Generator) Register(e Endpoint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endpoints = append(g.endpoints, e)
	g.cachedSpec = nil // Invalidate cache
}

// Generate produces the complete OpenAPI 3.0 specification.
func (g *Generator) Generate() *openapi3.T {
	g.mu.RLock()
	if g.cachedSpec != nil {
		spec := g.cachedSpec
		g.mu.RUnlock()
		return spec
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check after acquiring write lock
	if g.cachedSpec != nil {
		return g.cachedSpec
	}

	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.title,
			Version:     g.version,
			Description: g.description,
		},
		Servers: make(openapi3.Servers, 0, len(g.servers)),
		Paths:   &openapi3.Paths{},
		Components: &openapi3.Components{
			Schemas: make(openapi3.Schemas),
		},
	}

	for _, url := range g.servers {
		spec.Servers = append(spec.Servers, &openapi3.Server{URL: url})
	}

	g.addErrorSchema(spec)

	// Endpoints sharing a path share one path item. Registration order is
	// preserved in the document.
	items := make(map[string]*openapi3.PathItem)
	order := make([]string, 0, len(g.endpoints))
	for _, e := range g.endpoints {
		item, ok := items[e.Path]
		if !ok {
			item = &openapi3.PathItem{Parameters: pathParameters(e.Path)}
			items[e.Path] = item
			order = append(order, e.Path)
		}

		op := g.buildOperation(spec, e)
		switch e.Method {
		case http.MethodGet:
			item.Get = op
		case http.MethodPost:
			item.Post = op
		case http.MethodPut:
			item.Put = op
		case http.MethodPatch:
			item.Patch = op
		case http.MethodDelete:
			item.Delete = op
		}
	}
	for _, path := range order {
		spec.Paths.Set(path, items[path])
	}

	g.cachedSpec = spec
	return spec
}

// Handler returns an HTTP handler that serves the OpenAPI specification.
func (g *Generator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spec := g.Generate()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		if err := json.NewEncoder(w).Encode(spec); err != nil {
			http.Error(w, "Failed to encode OpenAPI spec", http.StatusInternalServerError)
		}
	}
}

// =============================================================================
// Operation Generation
// =============================================================================

func (g *Generator) buildOperation(spec *openapi3.T, e Endpoint) *openapi3.Operation {
	op := &openapi3.Operation{
		OperationID: e.OperationID,
		Summary:     e.Summary,
		Responses:   &openapi3.Responses{},
	}
	if e.Tag != "" {
		op.Tags = []string{e.Tag}
	}

	if e.Paginated {
		op.Parameters = append(op.Parameters,
			&openapi3.ParameterRef{
				Value: &openapi3.Parameter{
					Name: "limit",
					In:   "query",
					Schema: &openapi3.SchemaRef{
						Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Default: 100},
					},
				},
			},
			&openapi3.ParameterRef{
				Value: &openapi3.Parameter{
					Name: "offset",
					In:   "query",
					Schema: &openapi3.SchemaRef{
						Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Default: 0},
					},
				},
			},
		)
	}

	if e.Request != nil {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: &openapi3.RequestBody{
				Required: true,
				Content: openapi3.Content{
					"application/json": &openapi3.MediaType{
						Schema: g.schemaRef(spec, e.Request),
					},
				},
			},
		}
	}

	if e.Response != nil {
		status := e.Status
		if status == 0 {
			status = http.StatusOK
		}
		desc := http.StatusText(status)
		op.Responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content: openapi3.Content{
					"application/json": &openapi3.MediaType{
						Schema: g.schemaRef(spec, e.Response),
					},
				},
			},
		})
	}

	return op
}

// pathParameters extracts {param} segments as required path parameters.
func pathParameters(path string) openapi3.Parameters {
	var params openapi3.Parameters
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			params = append(params, &openapi3.ParameterRef{
				Value: &openapi3.Parameter{
					Name:     strings.Trim(seg, "{}"),
					In:       "path",
					Required: true,
					Schema: &openapi3.SchemaRef{
						Value: &openapi3.Schema{Type: &openapi3.Types{"string"}},
					},
				},
			})
		}
	}
	return params
}

// =============================================================================
// Schema Generation
// =============================================================================

// addErrorSchema documents the standard error envelope.
func (g *Generator) addErrorSchema(spec *openapi3.T) {
	spec.Components.Schemas["Error"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"string"}},
				},
				"code": &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"string"}},
				},
			},
			Required: []string{"error", "code"},
		},
	}
}

var timeType = reflect.TypeOf(time.Time{})

// schemaRef returns a schema for the model. Named struct types are registered
// under components and returned by reference.
func (g *Generator) schemaRef(spec *openapi3.T, model interface{}) *openapi3.SchemaRef {
	return g.typeToSchema(spec, reflect.TypeOf(model))
}

// typeToSchema converts a Go type to an OpenAPI schema.
func (g *Generator) typeToSchema(spec *openapi3.T, t reflect.Type) *openapi3.SchemaRef {
	switch t.Kind() {
	case reflect.String:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}}

	case reflect.Int64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}

	case reflect.Float32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "float"}}

	case reflect.Float64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "double"}}

	case reflect.Bool:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}

	case reflect.Slice, reflect.Array:
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: g.typeToSchema(spec, t.Elem()),
			},
		}

	case reflect.Map:
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:                 &openapi3.Types{"object"},
				AdditionalProperties: openapi3.AdditionalProperties{Schema: g.typeToSchema(spec, t.Elem())},
			},
		}

	case reflect.Ptr:
		schema := g.typeToSchema(spec, t.Elem())
		if schema.Value != nil {
			schema.Value.Nullable = true
		}
		return schema

	case reflect.Struct:
		if t == timeType {
			return &openapi3.SchemaRef{
				Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"},
			}
		}
		if name := t.Name(); name != "" {
			g.registerStruct(spec, t)
			return &openapi3.SchemaRef{Ref: "#/components/schemas/" + name}
		}
		return g.structSchema(spec, t)

	default:
		// Unknown type, return generic object
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	}
}

// registerStruct adds a named struct schema to components once. The
// placeholder guards against self-referential types.
func (g *Generator) registerStruct(spec *openapi3.T, t reflect.Type) {
	name := t.Name()
	if _, ok := spec.Components.Schemas[name]; ok {
		return
	}
	spec.Components.Schemas[name] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{Type: &openapi3.Types{"object"}},
	}
	spec.Components.Schemas[name] = g.structSchema(spec, t)
}

// structSchema extracts an object schema from struct json tags.
func (g *Generator) structSchema(spec *openapi3.T, t reflect.Type) *openapi3.SchemaRef {
	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: make(openapi3.Schemas),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name := field.Name
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
		}

		if prop := g.typeToSchema(spec, field.Type); prop != nil {
			schema.Properties[name] = prop
		}
	}

	return &openapi3.SchemaRef{Value: schema}
}
