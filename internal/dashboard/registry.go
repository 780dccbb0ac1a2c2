package dashboard

import (
	"sync"

	"portfolio_link/internal/diagnostics"
	"portfolio_link/internal/link"
	"portfolio_link/internal/logging"
	"portfolio_link/internal/models"
)

// Backend is both the link backend and the holdings syncer.
type Backend interface {
	link.Backend
	Syncer
}

// Registry keeps one Controller per user and builds them with shared
// dependencies.
type Registry struct {
	backend  Backend
	consent  link.ConsentUI
	recorder link.InstitutionRecorder
	store    HoldingsReader
	sink     diagnostics.Sink
	logger   *logging.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithInstitutionRecorder records institutions linked by any user.
func WithInstitutionRecorder(rec link.InstitutionRecorder) RegistryOption {
	return func(r *Registry) { r.recorder = rec }
}

// WithHoldingsReader lets controllers fall back to stored holdings.
func WithHoldingsReader(store HoldingsReader) RegistryOption {
	return func(r *Registry) { r.store = store }
}

// WithDiagnosticSink persists every user's diagnostic entries.
func WithDiagnosticSink(sink diagnostics.Sink) RegistryOption {
	return func(r *Registry) { r.sink = sink }
}

// WithRegistryLogger sets the logger handed to controllers and orchestrators.
func WithRegistryLogger(logger *logging.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty Registry.
func NewRegistry(backend Backend, consent link.ConsentUI, opts ...RegistryOption) *Registry {
	r := &Registry{
		backend:     backend,
		consent:     consent,
		logger:      logging.NewSilent(),
		controllers: make(map[string]*Controller),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the controller for creds.UserID, creating it on first use.
// created reports whether the caller should run Init. The stored
// credential is replaced by creds on every call.
func (r *Registry) Get(creds models.Credentials) (ctrl *Controller, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctrl, ok := r.controllers[creds.UserID]; ok {
		ctrl.SetCredentials(creds)
		return ctrl, false
	}

	ctrl = r.build(creds)
	r.controllers[creds.UserID] = ctrl
	return ctrl, true
}

// Lookup returns an existing controller.
func (r *Registry) Lookup(userID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctrl, ok := r.controllers[userID]
	return ctrl, ok
}

// Len returns the number of controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

func (r *Registry) build(creds models.Credentials) *Controller {
	diagOpts := []diagnostics.Option{diagnostics.WithLogger(r.logger)}
	if r.sink != nil {
		diagOpts = append(diagOpts, diagnostics.WithSink(r.sink))
	}
	diag := diagnostics.New(creds.UserID, diagOpts...)

	linkOpts := []link.Option{link.WithLogger(r.logger)}
	if r.recorder != nil {
		linkOpts = append(linkOpts, link.WithInstitutionRecorder(r.recorder))
	}
	orchestrator := link.NewOrchestrator(r.backend, r.consent, diag, linkOpts...)

	return NewController(creds, r.backend, orchestrator, r.store, diag, r.logger)
}
