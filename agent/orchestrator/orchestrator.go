package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/llm"
	llmcontext "github.com/BaSui01/convoflow/llm/context"
	"github.com/BaSui01/convoflow/llm/retry"
	"github.com/BaSui01/convoflow/types"
)

const (
	tracerName   = "github.com/BaSui01/convoflow/agent/orchestrator"
	streamBuffer = 32

	// terminalGrace bounds how long a Failed event waits for a reader once
	// the turn's context is done.
	terminalGrace = 100 * time.Millisecond
)

// Turn is one user message together with the stored history it continues.
type Turn struct {
	SessionID string
	Principal string
	History   []types.Message
	UserText  string

	// Locked means the caller took the session lock with Acquire and will
	// release it after storing the outcome. Otherwise Respond and Stream
	// take and release the lock themselves.
	Locked bool
}

// Result is the outcome of Respond. Turns holds the assistant and tool turns
// to append to the session, in order.
type Result struct {
	Response llm.Response
	Turns    []types.Message
	Rounds   int
}

// Orchestrator runs turns against one adapter and one tool provider. It is
// safe for concurrent use across sessions.
type Orchestrator struct {
	adapter  llm.Adapter
	tools    ToolProvider
	cfg      Config
	builder  *llmcontext.Builder
	policy   retry.Policy
	recorder Recorder
	tracer   trace.Tracer
	hook     StateHook
	format   func(types.ToolResult) string
	logger   *zap.Logger

	active sync.Map // session id -> struct{}
}

// New creates an orchestrator. tools may be nil, in which case the model is
// never offered tools. Zero Config fields take DefaultConfig values.
func New(adapter llm.Adapter, tools ToolProvider, cfg Config, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if adapter == nil {
		return nil, types.NewConfigError("", "orchestrator: adapter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = withDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		adapter:  adapter,
		tools:    tools,
		cfg:      cfg,
		builder:  llmcontext.NewBuilder(logger),
		policy:   *retry.DefaultPolicy(),
		recorder: nopRecorder{},
		tracer:   otel.Tracer(tracerName),
		format:   func(r types.ToolResult) string { return r.ToMessage().Content },
		logger:   logger.With(zap.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxToolRounds == 0 {
		cfg.MaxToolRounds = def.MaxToolRounds
	}
	if cfg.ModelTimeout == 0 {
		cfg.ModelTimeout = def.ModelTimeout
	}
	if cfg.ToolTimeout == 0 {
		cfg.ToolTimeout = def.ToolTimeout
	}
	return cfg
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Busy reports whether sessionID has a turn in flight.
func (o *Orchestrator) Busy(sessionID string) bool {
	_, ok := o.active.Load(sessionID)
	return ok
}

// Acquire takes the turn lock for sessionID. It fails with SESSION_BUSY
// while another turn holds it. The returned release is idempotent.
func (o *Orchestrator) Acquire(sessionID string) (func(), error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "session id is required").WithHTTPStatus(400)
	}
	if _, loaded := o.active.LoadOrStore(sessionID, struct{}{}); loaded {
		return nil, types.NewError(types.ErrSessionBusy, "a turn is already in progress for this session").
			WithHTTPStatus(409).
			WithAction(types.ActionRetry)
	}
	var once sync.Once
	return func() { once.Do(func() { o.active.Delete(sessionID) }) }, nil
}

// Respond runs a turn to completion without incremental output. When the
// tool loop limit is hit the partial Result is returned along with the
// error.
func (o *Orchestrator) Respond(ctx context.Context, turn Turn) (*Result, error) {
	release, err := o.begin(turn)
	if err != nil {
		return nil, err
	}
	defer release()

	res, terr := o.newRun(turn, nil, nil).run(ctx)
	if terr != nil {
		return res, terr
	}
	return res, nil
}

// Stream runs a turn and reports its progress on the returned channel. The
// channel closes after exactly one Done or Failed event. Validation and
// SESSION_BUSY failures are returned directly and no channel is created.
func (o *Orchestrator) Stream(ctx context.Context, turn Turn) (<-chan types.StreamEvent, error) {
	release, err := o.begin(turn)
	if err != nil {
		return nil, err
	}

	ch := make(chan types.StreamEvent, streamBuffer)
	emit := func(ev types.StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	terminal := func(ev types.StreamEvent) {
		if ctx.Err() == nil {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
			return
		}
		timer := time.NewTimer(terminalGrace)
		defer timer.Stop()
		select {
		case ch <- ev:
		case <-timer.C:
			o.logger.Debug("terminal event dropped", zap.String("session_id", turn.SessionID))
		}
	}

	go func() {
		defer close(ch)
		defer release()
		_, _ = o.newRun(turn, emit, terminal).run(ctx)
	}()
	return ch, nil
}

func (o *Orchestrator) begin(turn Turn) (func(), error) {
	if strings.TrimSpace(turn.SessionID) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "session id is required").WithHTTPStatus(400)
	}
	if strings.TrimSpace(turn.UserText) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "message content is required").WithHTTPStatus(400)
	}
	if turn.Locked {
		if !o.Busy(turn.SessionID) {
			return nil, types.NewError(types.ErrInvalidRequest, "session lock is not held").WithHTTPStatus(400)
		}
		return func() {}, nil
	}
	return o.Acquire(turn.SessionID)
}
