package internal

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"github.com/shopmonkeyus/go-common/logger"
)

// BackendConfig is the configuration for a backend.
type BackendConfig struct {
	// Context for the backend.
	Context context.Context
	// URL for the backend.
	URL string
	// Logger to use for logging.
	Logger logger.Logger
}

// Txn is a single backend transaction. A Txn is not safe for concurrent use.
type Txn interface {
	// Commit the transaction.
	Commit() error
	// Rollback the transaction. Calling Rollback after Commit is a no-op.
	Rollback() error
	// InsertRow inserts a single row and returns its primary key.
	InsertRow(ctx context.Context, entity *EntityType, values map[string]any) (any, error)
	// UpdateForeignKey sets the foreign key field of the row with the primary key. It returns a DanglingReferenceError if no row was updated.
	UpdateForeignKey(ctx context.Context, entity *EntityType, pk any, field string, value any) error
	// LookupByPrimaryKey returns the row with the primary key or nil if not found.
	LookupByPrimaryKey(ctx context.Context, entity *EntityType, pk any) (*Row, error)
	// InsertBatch inserts the rows in order and returns the primary keys of the inserted rows. Rows skipped because of the conflict policy are omitted.
	InsertBatch(ctx context.Context, entity *EntityType, rows []map[string]any, onConflict OnConflict) ([]any, error)
}

// Backend is the interface that must be implemented by all storage backends.
type Backend interface {
	// Start the backend. This is called once at the beginning of the backend's lifecycle.
	Start(config BackendConfig) error
	// Stop the backend. This is called once at the end of the backend's lifecycle.
	Stop() error
	// Begin starts a new transaction.
	Begin(ctx context.Context) (Txn, error)
	// Test is called to test the backend connectivity with the url. It should return an error if the test fails or nil if the test passes.
	Test(ctx context.Context, logger logger.Logger, url string) error
}

// BackendAlias is an interface that backends implement for specifying additional protocol schemes for URLs that the backend can handle.
type BackendAlias interface {
	// Aliases returns a list of additional protocol schemes that the backend can handle (from the main protocol that was registered).
	Aliases() []string
}

// BackendHelp is an interface that backends implement for controlling the help system.
type BackendHelp interface {
	// Name is a unique name for the backend.
	Name() string
	// Description is the description of the backend.
	Description() string
	// ExampleURL should return an example URL for configuring the backend.
	ExampleURL() string
	// Help should return a detailed help documentation for the backend.
	Help() string
}

// BackendMetadata describes a registered backend.
type BackendMetadata struct {
	Scheme      string   `json:"scheme" msgpack:"scheme"`
	Aliases     []string `json:"aliases,omitempty" msgpack:"aliases,omitempty"`
	Name        string   `json:"name" msgpack:"name"`
	Description string   `json:"description" msgpack:"description"`
	ExampleURL  string   `json:"exampleURL" msgpack:"exampleURL"`
	Help        string   `json:"help" msgpack:"help"`
}

// BackendFactory returns a new, unstarted backend.
type BackendFactory func() Backend

var (
	backendLock          sync.RWMutex
	backendRegistry      = map[string]BackendFactory{}
	backendAliasRegistry = map[string]string{}
)

// RegisterBackend registers a backend factory for a given protocol.
func RegisterBackend(protocol string, factory BackendFactory) {
	backendLock.Lock()
	defer backendLock.Unlock()
	backendRegistry[protocol] = factory
	if p, ok := factory().(BackendAlias); ok {
		for _, alias := range p.Aliases() {
			backendAliasRegistry[alias] = protocol
		}
	}
}

func lookupBackend(scheme string) (string, BackendFactory) {
	backendLock.RLock()
	defer backendLock.RUnlock()
	if factory := backendRegistry[scheme]; factory != nil {
		return scheme, factory
	}
	if protocol := backendAliasRegistry[scheme]; protocol != "" {
		return protocol, backendRegistry[protocol]
	}
	return "", nil
}

func aliasesFor(protocol string) []string {
	var res []string
	for alias, p := range backendAliasRegistry {
		if p == protocol {
			res = append(res, alias)
		}
	}
	sort.Strings(res)
	return res
}

// GetBackendMetadata returns the metadata for all the registered backends sorted by scheme.
func GetBackendMetadata() []BackendMetadata {
	backendLock.RLock()
	defer backendLock.RUnlock()
	res := make([]BackendMetadata, 0, len(backendRegistry))
	for scheme, factory := range backendRegistry {
		metadata := BackendMetadata{
			Scheme:  scheme,
			Name:    scheme,
			Aliases: aliasesFor(scheme),
		}
		if help, ok := factory().(BackendHelp); ok {
			metadata.Name = help.Name()
			metadata.Description = help.Description()
			metadata.ExampleURL = help.ExampleURL()
			metadata.Help = ansi.Strip(help.Help())
		}
		res = append(res, metadata)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Scheme < res[j].Scheme
	})
	return res
}

func parseBackendURL(urlString string) (string, BackendFactory, error) {
	u, err := url.Parse(urlString)
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	protocol, factory := lookupBackend(u.Scheme)
	if factory == nil {
		return "", nil, fmt.Errorf("no backend registered for protocol %s", u.Scheme)
	}
	return protocol, factory, nil
}

// NewBackend creates and starts a new backend for the given URL.
func NewBackend(ctx context.Context, logger logger.Logger, urlString string) (Backend, error) {
	protocol, factory, err := parseBackendURL(urlString)
	if err != nil {
		return nil, err
	}
	backend := factory()
	if err := backend.Start(BackendConfig{
		Context: ctx,
		URL:     urlString,
		Logger:  logger.WithPrefix(fmt.Sprintf("[%s]", protocol)),
	}); err != nil {
		return nil, err
	}
	return &instrumentedBackend{Backend: backend, name: protocol}, nil
}

// TestBackend tests the connectivity of the backend for the given URL.
func TestBackend(ctx context.Context, logger logger.Logger, urlString string) error {
	_, factory, err := parseBackendURL(urlString)
	if err != nil {
		return err
	}
	return factory().Test(ctx, logger, urlString)
}
