package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/metrics"
)

const tracerName = "github.com/Divas-Gupta30/medical-triage/triage-agent/internal/graph"

// imageFindingsLimit caps how much of the image description is folded into
// the knowledge search query.
const imageFindingsLimit = 200

// Config bounds a run.
type Config struct {
	MaxRevisions  int
	RetrievalK    int
	SearchTimeout time.Duration
}

// Engine runs the triage state machine. It holds no per-request state and
// is safe for concurrent use.
type Engine struct {
	stages    Stages
	knowledge Knowledge
	analyzer  ImageAnalyzer
	cfg       Config
	log       zerolog.Logger
	tracer    trace.Tracer
}

// NewEngine wires the stages. Classifier and Reasoner are required; the
// evaluator, reporter and clarifier fall back to the rule-based versions.
// A nil knowledge store makes every retrieval degraded.
func NewEngine(stages Stages, kn Knowledge, analyzer ImageAnalyzer, cfg Config, log zerolog.Logger) (*Engine, error) {
	if stages.Classifier == nil || stages.Reasoner == nil {
		return nil, errors.New("workflow needs a classifier and a reasoner")
	}
	if stages.Evaluator == nil {
		stages.Evaluator = DraftEvaluator{}
	}
	if stages.Reporter == nil {
		stages.Reporter = TemplateReporter{}
	}
	if stages.Clarifier == nil {
		stages.Clarifier = TemplateClarifier{}
	}
	if cfg.MaxRevisions < 0 {
		cfg.MaxRevisions = 0
	}
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = 4
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 10 * time.Second
	}
	return &Engine{
		stages:    stages,
		knowledge: kn,
		analyzer:  analyzer,
		cfg:       cfg,
		log:       log.With().Str("component", "workflow").Logger(),
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// maxSteps bounds the loop: every revision replays at most ROUTE through
// EVALUATE, then REPORT may hand over to CLARIFY.
func (e *Engine) maxSteps() int {
	return (e.cfg.MaxRevisions+1)*4 + 2
}

// Run executes one request from ROUTE to a terminal stage.
func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" && len(in.Image) == 0 {
		return nil, fmt.Errorf("%w: message is required", ErrInputInvalid)
	}

	ctx, span := e.tracer.Start(ctx, "triage.run")
	defer span.End()

	st := &State{
		Query:   query,
		History: in.History.Turns(),
		Image:   in.Image,
		Stage:   StageRoute,
	}
	log := e.log.With().Str("request_id", RequestID(ctx)).Logger()

	for step := 0; !st.Stage.Terminal(); step++ {
		if step >= e.maxSteps() {
			err := fmt.Errorf("%w: stage budget exhausted at %s", ErrReasoningFailed, st.Stage)
			span.RecordError(err)
			return nil, err
		}
		if err := e.step(ctx, st); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pipeline failed")
			metrics.PipelineRunsTotal.WithLabelValues("error").Inc()
			log.Error().Err(err).Str("stage", string(st.Stage)).Msg("pipeline failed")
			return nil, err
		}
	}

	res := &Result{
		Response:        st.Response,
		Terminal:        st.Stage,
		Risk:            st.Risk,
		Revisions:       st.Revisions,
		Degraded:        st.Degraded,
		DegradedReasons: append([]string(nil), st.DegradedReasons...),
		Path:            append([]Stage(nil), st.Path...),
	}
	if band, ok := st.Band(); ok {
		res.Band = band
	}

	metrics.PipelineRunsTotal.WithLabelValues(string(res.Terminal)).Inc()
	metrics.RevisionsHistogram.Observe(float64(res.Revisions))
	if res.Terminal == StageDone && res.Band != "" {
		metrics.RiskBandsTotal.WithLabelValues(string(res.Band)).Inc()
	}
	span.SetAttributes(
		attribute.String("triage.terminal", string(res.Terminal)),
		attribute.String("triage.band", string(res.Band)),
		attribute.Int("triage.revisions", res.Revisions),
		attribute.Bool("triage.degraded", res.Degraded),
	)
	log.Info().
		Str("terminal", string(res.Terminal)).
		Str("band", string(res.Band)).
		Int("revisions", res.Revisions).
		Bool("degraded", res.Degraded).
		Strs("degraded_reasons", res.DegradedReasons).
		Msg("pipeline finished")
	return res, nil
}

// step runs the current stage and moves st to the next one.
func (e *Engine) step(ctx context.Context, st *State) error {
	stage := st.Stage
	st.Path = append(st.Path, stage)

	ctx, span := e.tracer.Start(ctx, "triage."+strings.ToLower(string(stage)))
	defer span.End()
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}()

	var err error
	switch stage {
	case StageRoute:
		err = e.route(ctx, st)
	case StageRetrieve:
		e.retrieve(ctx, st)
	case StageReason:
		err = e.reason(ctx, st)
	case StageEvaluate:
		e.evaluate(ctx, st)
	case StageReport:
		e.report(ctx, st)
	default:
		err = fmt.Errorf("no handler for stage %s", stage)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("triage.next", string(st.Stage)))
	return err
}

func (e *Engine) route(ctx context.Context, st *State) error {
	route, err := e.stages.Classifier.Classify(ctx, ClassifyInput{
		Query:            st.Query,
		ImageDescription: st.ImageDescription,
		HasImage:         st.HasImage(),
		History:          st.History,
	})
	if err != nil {
		return fmt.Errorf("%w: classify: %v", ErrReasoningFailed, err)
	}
	st.Route = route

	switch route {
	case RouteClarify:
		st.ClarifyReason = ClarifyOutOfScope
		e.clarify(ctx, st)
	case RouteRetrieve:
		st.Stage = StageRetrieve
	case RouteReason:
		// an image is only analysed in RETRIEVE
		if st.HasImage() && !st.imageAttempted {
			st.Stage = StageRetrieve
		} else {
			st.Stage = StageReason
		}
	default:
		return fmt.Errorf("%w: unknown route %q", ErrReasoningFailed, route)
	}
	return nil
}

func (e *Engine) retrieve(ctx context.Context, st *State) {
	if st.HasImage() && !st.imageAttempted {
		st.imageAttempted = true
		if e.analyzer == nil {
			e.degrade(ctx, st, ReasonVisionUnavailable, errors.New("no image analyzer configured"))
		} else if desc, err := e.analyzer.Analyze(ctx, st.Image); err != nil {
			e.degrade(ctx, st, ReasonVisionUnavailable, err)
		} else {
			st.ImageDescription = strings.TrimSpace(desc)
		}
	}

	searchQuery := st.Query
	if st.ImageDescription != "" {
		searchQuery += "\n\nImage findings: " + truncate(st.ImageDescription, imageFindingsLimit)
	}

	st.Snippets, st.Relations = nil, nil
	if e.knowledge == nil {
		e.degrade(ctx, st, ReasonKnowledgeUnavailable, errors.New("no knowledge store configured"))
	} else {
		sctx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
		snippets, err := e.knowledge.Search(sctx, searchQuery, e.cfg.RetrievalK)
		if err != nil {
			e.degrade(ctx, st, ReasonKnowledgeUnavailable, err)
		} else {
			st.Snippets = snippets
		}
		relations, err := e.knowledge.GraphQuery(sctx, searchQuery)
		if err != nil {
			e.degrade(ctx, st, ReasonKnowledgeUnavailable, err)
		} else {
			st.Relations = relations
		}
		cancel()
	}
	st.Stage = StageReason
}

func (e *Engine) reason(ctx context.Context, st *State) error {
	draft, err := e.stages.Reasoner.Reason(ctx, *st)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReasoningFailed, err)
	}
	answer := strings.TrimSpace(draft.Answer)
	if answer == "" {
		return fmt.Errorf("%w: empty draft", ErrReasoningFailed)
	}
	st.Draft = answer
	st.Risk = nil
	if draft.Risk != nil {
		if score := *draft.Risk; ValidRisk(score) {
			st.Risk = &score
			st.scoredDraft, st.scoredRisk = answer, &score
		} else {
			e.log.Warn().Int("risk_score", score).Msg("risk score out of range, treating as unknown")
		}
	}
	st.Stage = StageEvaluate
	return nil
}

func (e *Engine) evaluate(ctx context.Context, st *State) {
	ok, err := e.stages.Evaluator.Evaluate(ctx, *st)
	if err != nil {
		e.degrade(ctx, st, ReasonEvaluationSkipped, err)
		ok = true
	}
	switch {
	case ok:
		st.Stage = StageReport
	case st.Revisions >= e.cfg.MaxRevisions:
		e.degrade(ctx, st, ReasonRevisionLimit, nil)
		if st.Risk == nil && st.scoredRisk != nil {
			st.Draft, st.Risk = st.scoredDraft, st.scoredRisk
		}
		st.Stage = StageReport
	default:
		st.Revisions++
		st.Stage = StageRoute
	}
}

func (e *Engine) report(ctx context.Context, st *State) {
	band, ok := st.Band()
	if !ok {
		st.ClarifyReason = ClarifyUnknownRisk
		e.clarify(ctx, st)
		return
	}

	text, err := e.stages.Reporter.Report(ctx, *st, band)
	if err != nil || strings.TrimSpace(text) == "" {
		if err == nil {
			err = errors.New("empty report")
		}
		e.degrade(ctx, st, ReasonTemplateFallback, err)
		text, _ = TemplateReporter{}.Report(ctx, *st, band)
	}
	st.Response = strings.TrimSpace(text)
	st.Stage = StageDone
}

// clarify ends the run in CLARIFY. It never fails: a broken clarifier is
// replaced by the template text.
func (e *Engine) clarify(ctx context.Context, st *State) {
	text, err := e.stages.Clarifier.Clarify(ctx, *st)
	if err != nil || strings.TrimSpace(text) == "" {
		if err == nil {
			err = errors.New("empty clarification")
		}
		e.degrade(ctx, st, ReasonTemplateFallback, err)
		text, _ = TemplateClarifier{}.Clarify(ctx, *st)
	}
	st.Response = strings.TrimSpace(text)
	st.Stage = StageClarify
}

func (e *Engine) degrade(ctx context.Context, st *State, reason string, cause error) {
	if !st.degrade(reason) {
		return
	}
	metrics.DegradedTotal.WithLabelValues(reason).Inc()

	attrs := []attribute.KeyValue{attribute.String("reason", reason)}
	if cause != nil {
		attrs = append(attrs, attribute.String("error", cause.Error()))
	}
	trace.SpanFromContext(ctx).AddEvent("degraded", trace.WithAttributes(attrs...))

	ev := e.log.Warn().Str("request_id", RequestID(ctx)).Str("reason", reason).Str("stage", string(st.Stage))
	if cause != nil {
		ev = ev.Err(cause)
	}
	ev.Msg("continuing degraded")
}

type requestIDKey struct{}

// WithRequestID tags ctx so stage logs can be correlated.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
