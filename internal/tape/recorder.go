package tape

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/agentchaos/chaosproxy/internal/security"
	"github.com/fernet/fernet-go"
	"go.uber.org/zap"
)

// textLikeContentTypes are the content types whose bodies get a redacted,
// human-readable copy stored for mismatch diagnostics.
var textLikeContentTypes = []string{"application/json", "text/", "application/x-ndjson"}

// Recorder builds a Tape document from observed flows and persists it
// encrypted, per spec §4.6.
type Recorder struct {
	logger      *zap.SugaredLogger
	fingerprint *Fingerprinter
	redactor    *security.Redactor
	key         *fernet.Key

	mu   sync.Mutex
	tape *Tape
}

// NewRecorder creates a Recorder. key is required; callers must have
// already enforced TAPE_KEY_REQUIRED before constructing one for a
// RECORD-mode process.
func NewRecorder(logger *zap.SugaredLogger, fp *Fingerprinter, redactor *security.Redactor, key *fernet.Key, experimentID string) *Recorder {
	return &Recorder{
		logger:      logger,
		fingerprint: fp,
		redactor:    redactor,
		key:         key,
		tape:        newTape(experimentID),
	}
}

// Record computes the flow's fingerprint, redacts its request/response
// bodies and headers, and appends an Entry to the in-memory tape.
func (r *Recorder) Record(f *flow.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fp, err := r.fingerprint.Fingerprint(f.Method, f.URL, f.RequestBody, f.RequestHeaders)
	if err != nil {
		return fmt.Errorf("fingerprint flow: %w", err)
	}

	redactedHeaders := redactHeaderSet(r.redactor, f.ResponseHeaders)
	redactedBody := r.redactBody(f.ResponseBody, f.ResponseHeaders)

	response := flow.ResponseSnapshot{
		StatusCode:      f.ResponseStatus,
		Reason:          f.ResponseReason,
		Headers:         redactedHeaders,
		Content:         redactedBody,
		ContentEncoding: firstHeaderValue(f.ResponseHeaders, "Content-Encoding"),
	}

	chaosCtx := flow.ChaosContext{
		AppliedStrategies: append([]string{}, f.AppliedStrategies...),
		ChaosApplied:      len(f.AppliedStrategies) > 0,
		TrafficType:       f.TrafficType,
		TrafficSubtype:    f.TrafficSubtype,
		AgentRole:         f.AgentRole,
	}

	entry := Entry{
		Fingerprint:  fp,
		Response:     response,
		ChaosContext: chaosCtx,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Sequence:     r.tape.nextSequence(),
		Redacted:     true,
	}

	if isTextLikeContentType(firstHeaderValue(f.RequestHeaders, "Content-Type")) {
		entry.RequestBodyRedacted = r.redactor.Redact(string(f.RequestBody))
	}

	r.tape.Entries = append(r.tape.Entries, entry)
	return nil
}

func (r *Recorder) redactBody(body []byte, headers map[string][]string) []byte {
	contentType := firstHeaderValue(headers, "Content-Type")
	if !isTextLikeContentType(contentType) {
		return body
	}
	if strings.Contains(contentType, "json") {
		var doc any
		if err := json.Unmarshal(body, &doc); err == nil {
			redacted := r.redactor.RedactDict(doc)
			if out, err := json.Marshal(redacted); err == nil {
				return out
			}
		}
	}
	return []byte(r.redactor.Redact(string(body)))
}

// Save serializes the tape to canonical JSON, encrypts it under the
// configured key, and writes it atomically to path.
func (r *Recorder) Save(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload, err := json.MarshalIndent(r.tape, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tape: %w", err)
	}

	token, err := fernet.EncryptAndSign(payload, r.key)
	if err != nil {
		return fmt.Errorf("encrypt tape: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tape dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tape-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp tape file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(token); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp tape file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp tape file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp tape file: %w", err)
	}

	r.logger.Infow("tape saved", "path", path, "entries", len(r.tape.Entries))
	return nil
}

func redactHeaderSet(redactor *security.Redactor, headers map[string][]string) map[string]string {
	flat := make(map[string]string, len(headers))
	for k, v := range headers {
		if len(v) > 0 {
			flat[k] = v[0]
		}
	}
	return redactor.RedactHeaders(flat)
}

func isTextLikeContentType(contentType string) bool {
	for _, t := range textLikeContentTypes {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func firstHeaderValue(headers map[string][]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
