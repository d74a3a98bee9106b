package sources

import (
	"fmt"

	"github.com/curio-sh/curio/internal/cache"
	"github.com/curio-sh/curio/internal/httpclient"
)

// defaultHandlerFactory is the default implementation of HandlerFactory.
// Handlers are constructed once and shared, so remote fetch deduplication
// spans every resolution that goes through one factory.
type defaultHandlerFactory struct {
	local   Handler
	remote  Handler
	builtin Handler
}

var _ HandlerFactory = (*defaultHandlerFactory)(nil)

// NewHandlerFactory creates a handler factory. Remote sources fetch through
// the given cache store; client may be nil to use the default retrying
// HTTP client.
func NewHandlerFactory(store *cache.Store, client httpclient.Client) HandlerFactory {
	var remoteOpts []RemoteOption
	if client != nil {
		remoteOpts = append(remoteOpts, WithHTTPClient(client))
	}
	return &defaultHandlerFactory{
		local:   NewLocalHandler(),
		remote:  NewRemoteHandler(store, remoteOpts...),
		builtin: NewBuiltinHandler(),
	}
}

// HandlerFor implements HandlerFactory
func (f *defaultHandlerFactory) HandlerFor(kind string) (Handler, error) {
	switch kind {
	case KindLocal:
		return f.local, nil
	case KindRemote:
		return f.remote, nil
	case KindBuiltin:
		return f.builtin, nil
	default:
		return nil, fmt.Errorf("unsupported source kind: %s", kind)
	}
}
