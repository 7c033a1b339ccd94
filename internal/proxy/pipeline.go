// Package proxy implements the request/response interception pipeline:
// the single entry point that authenticates, classifies, mutates via the
// strategy engine, forwards or replays, and records every intercepted
// flow, per spec §4.3. Grounded on the reverse-proxy interception shape of
// the agent-warden reference proxy (classify -> policy -> forward ->
// finalize), adapted to chaos strategies and tape record/replay in place
// of policy engines and cost tracking.
package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agentchaos/chaosproxy/internal/audit"
	"github.com/agentchaos/chaosproxy/internal/classifier"
	"github.com/agentchaos/chaosproxy/internal/events"
	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/agentchaos/chaosproxy/internal/observability"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"github.com/agentchaos/chaosproxy/internal/reqcontext"
	"github.com/agentchaos/chaosproxy/internal/security"
	"github.com/agentchaos/chaosproxy/internal/strategy"
	"github.com/agentchaos/chaosproxy/internal/strategy/catalog"
	"github.com/agentchaos/chaosproxy/internal/tape"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Mode is the fixed-at-startup proxy process mode, per spec §4.8.
type Mode string

const (
	ModeLive     Mode = "LIVE"
	ModeRecord   Mode = "RECORD"
	ModePlayback Mode = "PLAYBACK"
)

// maxResponseBody bounds how much of an upstream response the pipeline
// buffers in memory so strategies can inspect/mutate it.
const maxResponseBody = 25 * 1024 * 1024

// Config bundles every collaborator the pipeline needs to construct.
type Config struct {
	Mode        Mode
	Store       *plan.Store
	Auth        *security.Auth
	Redactor    *security.Redactor
	Registry    *strategy.Registry
	StrictFlags plan.StrictFlags
	Recorder    *tape.Recorder
	Player      *tape.Player
	LogWriter   *LogWriter
	Audit       *audit.Logger
	Broadcaster events.Broadcaster
	Logger      *zap.SugaredLogger
	Obs         *observability.Manager
}

// planState is the set of plan-derived collaborators rebuilt atomically
// whenever the plan hot-reloads, so a flow either sees entirely the old
// set or entirely the new one (spec §3 "Ownership & lifecycle").
type planState struct {
	plan        *plan.Plan
	classifier  *classifier.Classifier
	fingerprint *tape.Fingerprinter
	strategies  []strategy.Strategy
}

// Pipeline is the single HTTP entry point for every intercepted flow.
type Pipeline struct {
	mode        Mode
	store       *plan.Store
	auth        *security.Auth
	redactor    *security.Redactor
	registry    *strategy.Registry
	strict      plan.StrictFlags
	recorder    *tape.Recorder
	player      *tape.Player
	logWriter   *LogWriter
	audit       *audit.Logger
	broadcaster events.Broadcaster
	logger      *zap.SugaredLogger
	obs         *observability.Manager

	httpClient *http.Client
	ttft       *TTFTCache

	state atomic.Pointer[planState]
}

// New constructs a Pipeline and builds its initial plan-derived state from
// the store's currently loaded plan.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		mode:        cfg.Mode,
		store:       cfg.Store,
		auth:        cfg.Auth,
		redactor:    cfg.Redactor,
		registry:    cfg.Registry,
		strict:      cfg.StrictFlags,
		recorder:    cfg.Recorder,
		player:      cfg.Player,
		logWriter:   cfg.LogWriter,
		audit:       cfg.Audit,
		broadcaster: cfg.Broadcaster,
		logger:      cfg.Logger,
		obs:         cfg.Obs,
		httpClient:  &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }},
		ttft:        NewTTFTCache(),
	}
	p.rebuild(cfg.Store.Get())
	return p
}

func (p *Pipeline) rebuild(pl *plan.Plan) *planState {
	strict := p.strict.ClassifierStrict
	cls := classifier.New(p.logger, pl, p.auth, strict)
	fp := tape.NewFingerprinter(pl.ReplayConfig.IgnoreParams, pl.ReplayConfig.IgnorePaths)
	strategies := p.registry.Build(p.logger, p.obs, plan.ToLegacy(pl))

	ps := &planState{plan: pl, classifier: cls, fingerprint: fp, strategies: strategies}
	p.state.Store(ps)
	return ps
}

// Close flushes and releases the pipeline's owned resources. The tape
// recorder (if any) must already have been saved by the caller before
// calling Close, per spec §4.8's RECORD shutdown contract.
func (p *Pipeline) Close() error {
	if p.logWriter != nil {
		return p.logWriter.Close()
	}
	return nil
}

// ServeHTTP is the proxy's single entry point. CONNECT requests are
// tunneled raw (no TLS MITM, see tunnel.go); every other method runs the
// full request/response pipeline under a global fail-open guard.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Errorw("panic in proxy pipeline, failing open", "error", rec, "url", r.URL.String())
			p.passthrough(w, r)
		}
	}()

	p.handle(w, r)
}

// handle implements request(flow) followed by response(flow), per spec
// §4.3.
func (p *Pipeline) handle(w http.ResponseWriter, r *http.Request) {
	f := flow.NewState(reqcontext.GenerateRequestID())
	f.Method = r.Method
	f.URL = r.URL.String()
	f.RequestHeaders = map[string][]string(r.Header.Clone())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBody))
	r.Body.Close()
	if err != nil {
		p.logger.Errorw("failed to read request body, failing open", "error", err)
	}
	f.RequestBody = body
	r.Body = io.NopCloser(bytes.NewReader(body))
	r = r.WithContext(flow.WithState(r.Context(), f))

	if p.mode == ModePlayback {
		p.servePlayback(w, r, f)
		return
	}

	authCtx := p.auth.Authenticate(r, security.ScopeRead)
	if p.audit != nil {
		outcome := "ALLOWED"
		if !authCtx.Allowed {
			outcome = "DENIED"
		}
		p.audit.Log(authCtx.UserID, audit.ActionAuth, r.URL.Path, outcome, nil)
	}
	if !authCtx.Allowed {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	f.UserID = authCtx.UserID
	f.Scopes = authCtx.Scopes

	ps := p.state.Load()
	if newPlan, err := p.store.ReloadIfChanged(); err != nil {
		p.logger.Errorw("plan reload failed, keeping previous plan active", "error", err)
	} else if newPlan != nil {
		ps = p.rebuild(newPlan)
	}

	allowOverride := ps.classifier.IsOverrideAllowed(r, ps.plan)
	f.TrafficType, f.TrafficSubtype = ps.classifier.Classify(r, f.RequestBody, allowOverride)
	f.AgentRole = extractAgentRole(r)

	spanCtx, span := p.obs.Tracing().StartProxySpan(r.Context(), r.Header)
	f.Span = span
	r = r.WithContext(spanCtx)
	defer span.End()

	u, _ := url.Parse(f.URL)
	span.SetAttributes(
		attribute.String("http.method", f.Method),
		attribute.String("http.url", p.redactor.RedactURL(f.URL)),
		attribute.String("traffic.type", string(f.TrafficType)),
		attribute.String("traffic.subtype", f.TrafficSubtype),
		attribute.String("agent.role", f.AgentRole),
	)
	if u != nil {
		span.SetAttributes(
			attribute.String("http.host", u.Host),
			attribute.String("http.scheme", u.Scheme),
		)
	}

	model := resolveModel(f)

	p.broadcast(events.RequestStarted, f, nil)

	p.applyStrategies(ps.strategies, strategy.PhaseRequest, f, r, model)

	if f.ResponseStatus == 0 {
		p.forward(r, f)
	}

	p.recordAIMetrics(f, model)

	p.applyStrategies(ps.strategies, strategy.PhaseResponse, f, r, model)

	if f.ResponseStatus >= 400 {
		span.SetStatus(codes.Error, f.ResponseReason)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Int("http.status_code", f.ResponseStatus),
		attribute.StringSlice("chaos.strategies_applied", f.AppliedStrategies),
		attribute.Bool("chaos.injected", len(f.AppliedStrategies) > 0),
	)

	p.writeResponse(w, f)

	latencyMS := time.Since(f.StartTime).Milliseconds()
	p.broadcast(events.ResponseReceived, f, map[string]any{
		"status_code": f.ResponseStatus,
		"success":     f.ResponseStatus < 400,
		"size":        len(f.ResponseBody),
		"latency_ms":  latencyMS,
	})
	if f.TrafficType == flow.TrafficAgentToAgent {
		p.broadcast(events.SwarmMessage, f, map[string]any{
			"traffic_subtype": f.TrafficSubtype,
			"agent_role":      f.AgentRole,
		})
	}

	if p.mode == ModeRecord && p.recorder != nil {
		if err := p.recorder.Record(f); err != nil {
			p.logger.Errorw("failed to record tape entry", "error", err)
		}
	}

	if p.logWriter != nil {
		if line, err := p.buildLogLine(f); err == nil {
			p.logWriter.Write(line)
		}
	}
}

// servePlayback implements the spec §4.3 step 2 PLAYBACK short-circuit:
// no strategies, no network, fingerprint lookup only.
func (p *Pipeline) servePlayback(w http.ResponseWriter, r *http.Request, f *flow.State) {
	p.broadcast(events.RequestStarted, f, nil)

	entry, err := p.player.FindMatch(f.Method, f.URL, f.RequestBody, f.RequestHeaders)
	if err != nil || entry == nil {
		body, _ := json.Marshal(map[string]string{"error": "no matching tape entry"})
		f.ResponseStatus = http.StatusNotFound
		f.ResponseReason = "Not Found"
		f.ResponseHeaders = map[string][]string{"Content-Type": {"application/json"}}
		f.ResponseBody = body
	} else {
		snap := entry.Response
		headers := make(map[string][]string, len(snap.Headers)+1)
		for k, v := range snap.Headers {
			headers[k] = []string{v}
		}
		if snap.ContentEncoding != "" {
			headers["Content-Encoding"] = []string{snap.ContentEncoding}
		}
		f.ResponseStatus = snap.StatusCode
		f.ResponseReason = snap.Reason
		f.ResponseHeaders = headers
		f.ResponseBody = snap.Content

		cc := p.player.ChaosContext(entry)
		f.TrafficType = cc.TrafficType
		f.TrafficSubtype = cc.TrafficSubtype
		f.AgentRole = cc.AgentRole
		f.AppliedStrategies = append([]string{}, cc.AppliedStrategies...)
	}

	p.writeResponse(w, f)
	p.broadcast(events.ResponseReceived, f, map[string]any{
		"status_code": f.ResponseStatus,
		"success":     f.ResponseStatus < 400,
		"size":        len(f.ResponseBody),
	})
	if p.logWriter != nil {
		if line, err := p.buildLogLine(f); err == nil {
			p.logWriter.Write(line)
		}
	}
}

// forward performs the real upstream round-trip, recording TTFT via an
// httptrace hook and populating the flow's response fields. Errors are
// turned into a synthetic 502 rather than propagated, keeping the pipeline
// fail-open towards the client.
func (p *Pipeline) forward(r *http.Request, f *flow.State) {
	traced := httptrace.WithClientTrace(r.Context(), &httptrace.ClientTrace{
		GotFirstResponseByte: func() { p.ttft.Mark(f.RequestID, time.Now()) },
	})

	req, err := http.NewRequestWithContext(traced, f.Method, f.URL, bytes.NewReader(f.RequestBody))
	if err != nil {
		p.setSyntheticError(f, http.StatusBadGateway, "invalid upstream request: "+err.Error())
		return
	}
	req.Header = headersFromMap(f.RequestHeaders)
	req.Header.Del("Proxy-Connection")
	req.Header.Del("Connection")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.setSyntheticError(f, http.StatusBadGateway, "upstream request failed: "+err.Error())
		return
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		p.setSyntheticError(f, http.StatusBadGateway, "reading upstream response failed: "+err.Error())
		return
	}

	f.ResponseStatus = resp.StatusCode
	f.ResponseReason = strings.TrimPrefix(resp.Status, fmt.Sprintf("%d ", resp.StatusCode))
	f.ResponseHeaders = map[string][]string(resp.Header.Clone())
	f.ResponseBody = bodyBytes
}

func (p *Pipeline) setSyntheticError(f *flow.State, status int, message string) {
	body, _ := json.Marshal(map[string]string{"error": message})
	f.ResponseStatus = status
	f.ResponseReason = http.StatusText(status)
	f.ResponseHeaders = map[string][]string{"Content-Type": {"application/json"}}
	f.ResponseBody = body
}

// resolveModel extracts the "model" label used for AI metrics and chaos
// telemetry. Request bodies for LLM-style APIs carry "model" up front;
// the response body is consulted only as a fallback.
func resolveModel(f *flow.State) string {
	if model := modelFromBody(f.RequestBody); model != "" {
		return model
	}
	if model := modelFromBody(f.ResponseBody); model != "" {
		return model
	}
	return "unknown"
}

// recordAIMetrics implements spec §4.3 response step 3: for LLM-like
// flows, record request/token/TTFT metrics under the given model label.
func (p *Pipeline) recordAIMetrics(f *flow.State, model string) {
	if f.TrafficType != flow.TrafficLLMAPI || p.obs.Metrics() == nil {
		return
	}

	p.obs.Metrics().RecordAIRequest(model)
	p.obs.Metrics().RecordTokenUsage(model, "prompt", EstimateTokens(len(f.RequestBody)))
	p.obs.Metrics().RecordTokenUsage(model, "completion", EstimateTokens(len(f.ResponseBody)))

	if elapsed, ok := p.ttft.TakeElapsed(f.RequestID, f.StartTime, time.Now()); ok {
		p.obs.Metrics().RecordTTFT(model, elapsed.Seconds())
		if f.Span != nil {
			f.Span.SetAttributes(attribute.Float64("ai.ttft", elapsed.Seconds()))
		}
	}
}

// applyStrategies runs every strategy registered for phase, in plan order,
// through its should_trigger gate, per spec §4.3 steps 9-10.
func (p *Pipeline) applyStrategies(strategies []strategy.Strategy, phase strategy.Phase, f *flow.State, r *http.Request, model string) {
	for _, s := range strategies {
		if !s.Enabled() || !hasPhase(s, phase) {
			continue
		}
		if !s.ShouldTrigger(f, r) {
			continue
		}

		var fuzzSpan oteltrace.Span
		if phase == strategy.PhaseRequest {
			if fuzzer, ok := s.(*catalog.MCPFuzzingStrategy); ok {
				_, fuzzSpan = p.obs.Tracing().StartFuzzSpan(r.Context(), fuzzer.TargetEndpoint(), fuzzer.FuzzType())
			}
		}

		applied, err := s.Apply(f, r)
		if fuzzSpan != nil {
			fuzzSpan.End()
		}

		if err != nil {
			p.logger.Errorw("strategy apply failed, failing open", "strategy", s.Name(), "error", err)
			if f.Span != nil {
				f.Span.RecordError(err)
			}
			continue
		}
		if !applied {
			continue
		}

		if f.Span != nil {
			f.Span.SetAttributes(attribute.String("chaos.strategy", s.Name()))
		}
		if p.obs.Metrics() != nil {
			p.obs.Metrics().RecordChaosInjection(s.Name(), model)
		}
		p.broadcast(events.ChaosInjected, f, map[string]any{
			"phase":    string(phase),
			"strategy": s.Name(),
		})
	}
}

func hasPhase(s strategy.Strategy, phase strategy.Phase) bool {
	for _, p := range s.Phases() {
		if p == phase {
			return true
		}
	}
	return false
}

// writeResponse flushes the flow's (possibly chaos-mutated) response to the
// client, recomputing Content-Length to match the actual body bytes.
func (p *Pipeline) writeResponse(w http.ResponseWriter, f *flow.State) {
	header := w.Header()
	for k, vals := range f.ResponseHeaders {
		for _, v := range vals {
			header.Add(k, v)
		}
	}
	header.Del("Transfer-Encoding")
	header.Set("Content-Length", fmt.Sprintf("%d", len(f.ResponseBody)))

	status := f.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(f.ResponseBody)
}

func (p *Pipeline) broadcast(kind events.Kind, f *flow.State, data map[string]any) {
	if p.broadcaster == nil {
		return
	}
	p.broadcaster.Broadcast(events.Event{
		Type:      kind,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: f.RequestID,
		Data:      data,
	})
}

// passthrough is the degraded fail-open path taken when a panic escapes
// the main pipeline: forward the request unmodified, with no strategies,
// no recording, and no telemetry beyond the error already logged.
func (p *Pipeline) passthrough(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequest(r.Method, r.URL.String(), r.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	req.Header = r.Header.Clone()

	resp, err := p.httpClient.Do(req)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func headersFromMap(m map[string][]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h[k] = append([]string{}, v...)
	}
	return h
}

func extractAgentRole(r *http.Request) string {
	if v := r.Header.Get("X-Agent-Role"); v != "" {
		return v
	}
	if v := r.Header.Get("Agent-Role"); v != "" {
		return v
	}
	ua := r.Header.Get("User-Agent")
	const marker = "role="
	if idx := strings.Index(ua, marker); idx >= 0 {
		rest := ua[idx+len(marker):]
		if end := strings.IndexAny(rest, " ;,"); end >= 0 {
			return rest[:end]
		}
		return rest
	}
	return ""
}

func modelFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var doc struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	return doc.Model
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
