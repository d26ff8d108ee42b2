package sealed

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efsf/efsf-go/attestation"
	"github.com/efsf/efsf-go/cryptoutils"
	"github.com/efsf/efsf-go/interfaces"
)

// ResourceTypeExecution is the resource type carried in sealed-execution
// certificates.
const ResourceTypeExecution = "sealed_execution"

// State is a context's position in its lifecycle.
type State int

const (
	// Created: allocated but not yet entered.
	Created State = iota
	// Entered: live, accepting tracked buffers and cleanup callbacks.
	Entered
	// Exited: terminal; all tracked state has been cleared.
	Exited
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Entered:
		return "ENTERED"
	case Exited:
		return "EXITED"
	}
	return "UNKNOWN"
}

// SealedExecution creates sealed contexts. The zero value is unusable;
// construct with NewSealedExecution. Attestation is enabled by providing
// an authority; without one, contexts still clean up but issue no
// certificates.
type SealedExecution struct {
	authority *attestation.AttestationAuthority
	actor     string
	clock     interfaces.Clock
	log       *slog.Logger
}

// Option configures a SealedExecution.
type Option func(*SealedExecution)

// WithAuthority enables certificate issuance through the given authority.
func WithAuthority(a *attestation.AttestationAuthority) Option {
	return func(e *SealedExecution) { e.authority = a }
}

// WithActor names the executor in custody events. Defaults to
// "sealed-execution".
func WithActor(actor string) Option {
	return func(e *SealedExecution) { e.actor = actor }
}

// WithClock overrides the time source.
func WithClock(c interfaces.Clock) Option {
	return func(e *SealedExecution) { e.clock = c }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *SealedExecution) { e.log = l }
}

// NewSealedExecution creates an execution environment.
func NewSealedExecution(opts ...Option) *SealedExecution {
	e := &SealedExecution{
		actor: "sealed-execution",
		clock: interfaces.SystemClock,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SealedContext is one bounded execution scope. It is owned by a single
// call scope and must not be shared across runs; methods are still
// mutex-guarded so cleanup callbacks may register further state.
type SealedContext struct {
	ExecutionID string
	StartedAt   time.Time

	exec *SealedExecution

	mu       sync.Mutex
	state    State
	tracked  [][]byte
	cleanups []func()
	custody  *attestation.ChainOfCustody
	cert     *attestation.DestructionCertificate
}

// Enter opens a fresh context. With attestation enabled, a chain of
// custody is started with a context_enter event.
func (e *SealedExecution) Enter() *SealedContext {
	ctx := &SealedContext{
		ExecutionID: uuid.NewString(),
		StartedAt:   e.clock.Now().UTC(),
		exec:        e,
		state:       Entered,
	}

	if e.authority != nil {
		ctx.custody = attestation.NewChainOfCustody(e.actor, e.clock)
		ctx.custody.AddAccess(e.actor, "context_enter")
	}

	e.log.Debug("Entered sealed context", slog.String("execution_id", ctx.ExecutionID))
	return ctx
}

// Run executes fn inside a fresh context and guarantees exit afterwards,
// whether fn returns, fails, or panics. The certificate, if attestation
// is enabled, is returned alongside fn's error.
func (e *SealedExecution) Run(fn func(*SealedContext) error) (cert *attestation.DestructionCertificate, err error) {
	ctx := e.Enter()

	defer func() {
		if r := recover(); r != nil {
			cert = ctx.Exit(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	err = fn(ctx)
	cert = ctx.Exit(err)
	return cert, err
}

// State returns the context's current lifecycle state.
func (c *SealedContext) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TrackBytes registers a buffer the context owns; it is overwritten with
// zeros at exit. Returns the buffer for call-site convenience.
func (c *SealedContext) TrackBytes(buf []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Entered {
		return buf
	}
	c.tracked = append(c.tracked, buf)
	return buf
}

// OnCleanup registers a callback to run at exit. Callbacks run in
// reverse registration order; a panicking callback does not prevent the
// rest from running.
func (c *SealedContext) OnCleanup(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Entered {
		return
	}
	c.cleanups = append(c.cleanups, fn)
}

// Certificate returns the MEMORY_ZERO certificate issued at exit, or nil
// before exit or when attestation is disabled.
func (c *SealedContext) Certificate() *attestation.DestructionCertificate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cert
}

// Exit closes the context: cleanup callbacks run in reverse order,
// tracked buffers are zeroed, and with attestation enabled a MEMORY_ZERO
// certificate is issued carrying the elapsed duration and execErr's
// description. Exit on an already-exited context is a no-op returning
// the original certificate.
func (c *SealedContext) Exit(execErr error) *attestation.DestructionCertificate {
	c.mu.Lock()
	if c.state == Exited {
		cert := c.cert
		c.mu.Unlock()
		return cert
	}
	c.state = Exited
	cleanups := c.cleanups
	tracked := c.tracked
	c.cleanups = nil
	c.tracked = nil
	c.mu.Unlock()

	if c.custody != nil {
		if execErr != nil {
			c.custody.AddAccess(c.exec.actor, "context_exit_error")
		} else {
			c.custody.AddAccess(c.exec.actor, "context_exit_normal")
		}
	}

	for i := len(cleanups) - 1; i >= 0; i-- {
		c.runCleanup(cleanups[i])
	}

	for _, buf := range tracked {
		cryptoutils.Wipe(buf)
	}

	elapsed := c.exec.clock.Now().UTC().Sub(c.StartedAt)

	var cert *attestation.DestructionCertificate
	if c.exec.authority != nil {
		metadata := map[string]string{
			"duration_ms":   fmt.Sprintf("%d", elapsed.Milliseconds()),
			"tracked_count": fmt.Sprintf("%d", len(tracked)),
		}
		if execErr != nil {
			metadata["error"] = execErr.Error()
		}

		var snapshot *attestation.CustodySnapshot
		if c.custody != nil {
			snapshot = c.custody.Snapshot(attestation.MaxEmbeddedHashes)
		}

		issued, err := c.exec.authority.IssueCertificate(ResourceTypeExecution, c.ExecutionID, "", attestation.MethodMemoryZero, snapshot, metadata)
		if err != nil {
			c.exec.log.Error("Failed to issue sealed-execution certificate", slog.String("execution_id", c.ExecutionID), "err", err)
		} else {
			cert = issued
		}
	}

	c.mu.Lock()
	c.cert = cert
	c.mu.Unlock()

	c.exec.log.Debug("Exited sealed context",
		slog.String("execution_id", c.ExecutionID),
		slog.Duration("elapsed", elapsed),
		slog.Bool("failed", execErr != nil))
	return cert
}

// runCleanup isolates one callback so its panic cannot stop the rest.
func (c *SealedContext) runCleanup(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.exec.log.Warn("Sealed cleanup callback panicked",
				slog.String("execution_id", c.ExecutionID),
				slog.Any("panic", r))
		}
	}()
	fn()
}
