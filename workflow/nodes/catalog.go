package nodes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/internal/tlsutil"
	"github.com/BaSui01/nodeflow/workflow"
)

// Node types provided by this package.
const (
	TypeStart          = "start"
	TypeSetVariable    = "set_variable"
	TypeAppendVariable = "append_variable"
	TypeLog            = "log"
	TypeDelay          = "delay"
	TypeFail           = "fail"
	TypeTransform      = "transform"
	TypeHTTPRequest    = "http_request"
)

// PortOut is the primary output of the generic nodes.
const PortOut = "out"

// Options configures the catalog.
type Options struct {
	// HTTPClient is used by http_request nodes. Defaults to a TLS-hardened
	// client with HTTPTimeout.
	HTTPClient *http.Client
	// HTTPTimeout bounds a request when the node sets no timeout of its own.
	HTTPTimeout time.Duration
	// MaxDelay caps delay nodes. Zero means no cap.
	MaxDelay time.Duration
	Logger   *zap.Logger
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		HTTPTimeout: 30 * time.Second,
		MaxDelay:    10 * time.Minute,
	}
}

// Catalog returns every built-in category, control kinds first.
func Catalog(opts Options) []workflow.Category {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = tlsutil.SecureHTTPClient(opts.HTTPTimeout)
	}

	return []workflow.Category{
		workflow.ControlCategory(),
		{Name: "basic", Implementations: []workflow.Implementation{
			Start(),
			Log(),
			Delay(opts.MaxDelay),
			Fail(),
		}},
		{Name: "variables", Implementations: []workflow.Implementation{
			SetVariable(),
			AppendVariable(),
			Transform(),
		}},
		{Name: "integration", Implementations: []workflow.Implementation{
			HTTPRequest(opts.HTTPClient, opts.HTTPTimeout, opts.Logger),
		}},
	}
}

// NewRegistry creates a registry holding the whole catalog.
func NewRegistry(opts Options) *workflow.Registry {
	return workflow.NewRegistry(Catalog(opts)...)
}

// decode maps resolved node data onto a typed config. Scalars are weakly
// typed so "250" decodes into an int field.
func decode(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(data); err != nil {
		return workflow.NewNodeError(fmt.Sprintf("invalid node data: %v", err), nil)
	}
	return nil
}
