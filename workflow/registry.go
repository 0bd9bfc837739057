package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Control-flow node types. The engine orchestrates these itself; they never
// reach a registry implementation's Execute.
const (
	TypeCondition   = "condition"
	TypeTryCatch    = "try_catch"
	TypeLoop        = "loop"
	TypeSubWorkflow = "sub_workflow"
)

// Port names of the control-flow kinds.
const (
	PortTrue    = "true"
	PortFalse   = "false"
	PortTry     = "try"
	PortCatch   = "catch"
	PortLoop    = "loop"
	PortDone    = "done"
	PortSuccess = "success"
	PortError   = "error"
)

// Result is what a node implementation returns on success. Data is merged
// into the node's success entry. A non-empty SelectedPort routes along that
// output instead of the implementation's primary one.
type Result struct {
	Data         map[string]any
	SelectedPort string
}

// ExecContext gives an implementation access to the run it belongs to.
type ExecContext struct {
	RunID      string
	WorkflowID string
	Node       Node
	Globals    *Variables
	FormInputs map[string]any
	State      *StateStore
	Logger     *zap.Logger
}

// Implementation is the contract every node kind satisfies.
type Implementation interface {
	// Type is the registry key matched against Node.Type.
	Type() string
	// Outputs lists port names in order; the first is the primary output.
	Outputs() []string
	// DefaultData is the configuration a fresh node of this type starts with.
	DefaultData() map[string]any
	// Execute runs the node with its resolved data.
	Execute(ctx context.Context, data map[string]any, obs Observer, ec *ExecContext) (Result, error)
}

// ExecuteFunc is the function form of Implementation.Execute.
type ExecuteFunc func(ctx context.Context, data map[string]any, obs Observer, ec *ExecContext) (Result, error)

// FuncImplementation builds an Implementation from a function.
type FuncImplementation struct {
	NodeType string
	Ports    []string
	Defaults map[string]any
	Fn       ExecuteFunc
}

// NewFunc creates a FuncImplementation with the given outputs.
func NewFunc(nodeType string, outputs []string, fn ExecuteFunc) *FuncImplementation {
	return &FuncImplementation{NodeType: nodeType, Ports: outputs, Fn: fn}
}

// WithDefaults sets the default data.
func (f *FuncImplementation) WithDefaults(data map[string]any) *FuncImplementation {
	f.Defaults = data
	return f
}

func (f *FuncImplementation) Type() string      { return f.NodeType }
func (f *FuncImplementation) Outputs() []string { return f.Ports }

func (f *FuncImplementation) DefaultData() map[string]any {
	return cloneMap(f.Defaults)
}

func (f *FuncImplementation) Execute(ctx context.Context, data map[string]any, obs Observer, ec *ExecContext) (Result, error) {
	if f.Fn == nil {
		return Result{}, nil
	}
	return f.Fn(ctx, data, obs, ec)
}

// NodeError is the error an implementation returns to attach structured
// context to its error entry.
type NodeError struct {
	Message string
	Context map[string]any
	Cause   error
}

// NewNodeError creates a NodeError.
func NewNodeError(message string, context map[string]any) *NodeError {
	return &NodeError{Message: message, Context: context}
}

func (e *NodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *NodeError) Unwrap() error { return e.Cause }

// Category groups implementations for editor palettes.
type Category struct {
	Name            string           `json:"name"`
	Implementations []Implementation `json:"-"`
}

// Registry maps node types to implementations.
type Registry struct {
	mu         sync.RWMutex
	categories []Category
	byType     map[string]Implementation
}

// NewRegistry creates a registry from a catalog of categories. Later
// categories do not override earlier ones; duplicates are ignored.
func NewRegistry(categories ...Category) *Registry {
	r := &Registry{byType: make(map[string]Implementation)}
	for _, c := range categories {
		_ = r.Register(c.Name, c.Implementations...)
	}
	return r
}

// Register adds implementations under a category. A type that is already
// registered returns an error and leaves the registry unchanged for it.
func (r *Registry) Register(category string, impls ...Implementation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i := range r.categories {
		if r.categories[i].Name == category {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.categories = append(r.categories, Category{Name: category})
		idx = len(r.categories) - 1
	}

	var dup []string
	for _, impl := range impls {
		if _, exists := r.byType[impl.Type()]; exists {
			dup = append(dup, impl.Type())
			continue
		}
		r.byType[impl.Type()] = impl
		r.categories[idx].Implementations = append(r.categories[idx].Implementations, impl)
	}
	if len(dup) > 0 {
		return fmt.Errorf("node types already registered: %v", dup)
	}
	return nil
}

// FindImplementation looks up an implementation by node type.
func (r *Registry) FindImplementation(nodeType string) (Implementation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.byType[nodeType]
	return impl, ok
}

// Categories returns a copy of the catalog.
func (r *Registry) Categories() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Category, len(r.categories))
	for i, c := range r.categories {
		out[i] = Category{
			Name:            c.Name,
			Implementations: append([]Implementation(nil), c.Implementations...),
		}
	}
	return out
}

// Types returns every registered type, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate reports nodes whose type is neither a control kind nor registered,
// then edges without a port leaving a node that has several outputs.
func (r *Registry) Validate(g *Graph) error {
	var unknown []string
	for _, n := range g.Nodes {
		if IsControlType(n.Type) {
			continue
		}
		if _, ok := r.FindImplementation(n.Type); !ok {
			unknown = append(unknown, fmt.Sprintf("%s (%s)", n.ID, n.Type))
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown node types: %v", unknown)
	}

	var unported []string
	for _, e := range g.Edges {
		if e.FromPort != "" {
			continue
		}
		src, ok := g.Node(e.From)
		if !ok {
			continue
		}
		outputs, ok := r.outputsFor(src.Type)
		if ok && len(outputs) > 0 && defaultPort(outputs) == "" {
			unported = append(unported, fmt.Sprintf("%s (%s outputs %v)", e.EdgeID(), src.Type, outputs))
		}
	}
	if len(unported) > 0 {
		return fmt.Errorf("edges need a source port: %v", unported)
	}
	return nil
}

// IsControlType reports whether the engine orchestrates this node type itself.
func IsControlType(nodeType string) bool {
	switch nodeType {
	case TypeCondition, TypeTryCatch, TypeLoop, TypeSubWorkflow:
		return true
	}
	return false
}

// controlDescriptor describes a control kind for palettes and port defaults.
type controlDescriptor struct {
	nodeType string
	outputs  []string
	defaults map[string]any
}

func (c controlDescriptor) Type() string                { return c.nodeType }
func (c controlDescriptor) Outputs() []string           { return c.outputs }
func (c controlDescriptor) DefaultData() map[string]any { return cloneMap(c.defaults) }

func (c controlDescriptor) Execute(context.Context, map[string]any, Observer, *ExecContext) (Result, error) {
	return Result{}, fmt.Errorf("%s nodes are executed by the engine", c.nodeType)
}

var controlDescriptors = map[string]controlDescriptor{
	TypeCondition: {
		nodeType: TypeCondition,
		outputs:  []string{PortTrue, PortFalse},
		defaults: map[string]any{
			"groups": []any{[]any{map[string]any{"left": "", "operator": "==", "right": ""}}},
		},
	},
	TypeTryCatch: {
		nodeType: TypeTryCatch,
		outputs:  []string{PortTry, PortCatch},
		defaults: map[string]any{},
	},
	TypeLoop: {
		nodeType: TypeLoop,
		outputs:  []string{PortLoop, PortDone},
		defaults: map[string]any{"items": []any{}},
	},
	TypeSubWorkflow: {
		nodeType: TypeSubWorkflow,
		outputs:  []string{PortSuccess, PortError},
		defaults: map[string]any{"workflowId": "", "inputs": map[string]any{}},
	},
}

// ControlCategory exposes the control kinds so editors can list them
// next to plugin implementations.
func ControlCategory() Category {
	order := []string{TypeCondition, TypeTryCatch, TypeLoop, TypeSubWorkflow}
	impls := make([]Implementation, 0, len(order))
	for _, t := range order {
		impls = append(impls, controlDescriptors[t])
	}
	return Category{Name: "control", Implementations: impls}
}

// outputsFor returns the declared outputs of a node type. Control kinds
// always use their built-in ports.
func (r *Registry) outputsFor(nodeType string) ([]string, bool) {
	if d, ok := controlDescriptors[nodeType]; ok {
		return d.outputs, true
	}
	impl, ok := r.FindImplementation(nodeType)
	if !ok {
		return nil, false
	}
	return impl.Outputs(), true
}

func primaryPort(outputs []string) string {
	if len(outputs) == 0 {
		return ""
	}
	return outputs[0]
}

// defaultPort is the port an edge without FromPort leaves from: the only
// output besides error, or "" when the implementation offers a choice.
func defaultPort(outputs []string) string {
	port := ""
	for _, o := range outputs {
		if o == PortError {
			continue
		}
		if port != "" {
			return ""
		}
		port = o
	}
	return port
}

func declaresPort(outputs []string, port string) bool {
	for _, o := range outputs {
		if o == port {
			return true
		}
	}
	return false
}
