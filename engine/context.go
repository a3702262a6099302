package engine

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// View names understood by the dispatcher. The csp `view` query key is
// mandatory on first use of a path.
const (
	ViewMap          = "map"
	ViewKeySet       = "keySet"
	ViewEntrySet     = "entrySet"
	ViewValues       = "values"
	ViewSubscription = "subscription"
	ViewTopic        = "topic"
	ViewTopology     = "topology"
	ViewReplication  = "replication"
)

// RequestContext is the parsed form of a content-service-path:
//
//	/<path>?view=<name>&keyType=<t>&valueType=<t>&putReturnsNull=<bool>
//	    &removeReturnsNull=<bool>&bootstrap=<bool>&basePath=<text>
//
// Unknown query keys are ignored. The context is immutable once parsed;
// derive variants with WithView.
type RequestContext struct {
	PathName string
	Name     string
	View     string

	KeyType   string
	ValueType string

	PutReturnsNull    bool
	RemoveReturnsNull bool
	Bootstrap         bool
	BasePath          string
}

// cspCache holds parsed contexts keyed by the raw csp text. CSPs repeat
// heavily on a connection (every meta document names one), so parse once.
var cspCache, _ = lru.New(512)

func ParseRequestContext(csp string) (*RequestContext, error) {
	if cached, ok := cspCache.Get(csp); ok {
		return cached.(*RequestContext), nil
	}

	fullName := csp
	query := ""
	if i := strings.IndexByte(csp, '?'); 0 <= i {
		fullName = csp[:i]
		query = csp[i+1:]
	}
	if !strings.HasPrefix(fullName, "/") {
		return nil, fmt.Errorf("%w: csp must be absolute: %q", ErrProtocol, csp)
	}

	rc := &RequestContext{
		Bootstrap: true,
	}
	if i := strings.LastIndexByte(fullName, '/'); 0 <= i {
		rc.PathName = fullName[:i]
		rc.Name = fullName[i+1:]
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("%w: bad csp query %q: %v", ErrProtocol, csp, err)
	}
	for key, vs := range values {
		v := vs[0]
		switch key {
		case "view":
			rc.View = v
		case "keyType":
			rc.KeyType = v
		case "valueType":
			rc.ValueType = v
		case "basePath":
			rc.BasePath = v
		case "putReturnsNull":
			rc.PutReturnsNull = parseBoolDefault(v, false)
		case "removeReturnsNull":
			rc.RemoveReturnsNull = parseBoolDefault(v, false)
		case "bootstrap":
			rc.Bootstrap = parseBoolDefault(v, true)
		default:
			// unknown query keys are ignored for forward compatibility
		}
	}

	cspCache.Add(csp, rc)
	return rc, nil
}

func parseBoolDefault(v string, def bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (self *RequestContext) FullName() string {
	if self.PathName == "" {
		return "/" + self.Name
	}
	return self.PathName + "/" + self.Name
}

// CSP renders the canonical content-service-path for this context.
func (self *RequestContext) CSP() string {
	var b strings.Builder
	b.WriteString(self.FullName())
	b.WriteString("?view=")
	b.WriteString(self.View)
	if self.KeyType != "" {
		b.WriteString("&keyType=")
		b.WriteString(self.KeyType)
	}
	if self.ValueType != "" {
		b.WriteString("&valueType=")
		b.WriteString(self.ValueType)
	}
	if self.PutReturnsNull {
		b.WriteString("&putReturnsNull=true")
	}
	if self.RemoveReturnsNull {
		b.WriteString("&removeReturnsNull=true")
	}
	if !self.Bootstrap {
		b.WriteString("&bootstrap=false")
	}
	if self.BasePath != "" {
		b.WriteString("&basePath=")
		b.WriteString(url.QueryEscape(self.BasePath))
	}
	return b.String()
}

// WithView derives the context for another view of the same asset, used to
// mint set-proxy csps.
func (self *RequestContext) WithView(view string) *RequestContext {
	derived := *self
	derived.View = view
	return &derived
}
