package tape

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/fernet/fernet-go"
	"go.uber.org/zap"
)

// Player loads and decrypts a tape and answers fingerprint lookups during
// PLAYBACK mode, per spec §4.7.
type Player struct {
	logger      *zap.SugaredLogger
	fingerprint *Fingerprinter
	tape        *Tape
	index       map[flow.Fingerprint]*Entry
	byMethodURL map[string][]*Entry
}

// LoadPlayer reads, decrypts and indexes a tape file.
func LoadPlayer(logger *zap.SugaredLogger, fp *Fingerprinter, path string, key *fernet.Key) (*Player, error) {
	token, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tape file: %w", err)
	}

	payload := fernet.VerifyAndDecrypt(token, 0, []*fernet.Key{key})
	if payload == nil {
		return nil, fmt.Errorf("decrypt tape file: invalid key or corrupted tape")
	}

	var t Tape
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("parse tape document: %w", err)
	}

	p := &Player{
		logger:      logger,
		fingerprint: fp,
		tape:        &t,
		index:       make(map[flow.Fingerprint]*Entry, len(t.Entries)),
		byMethodURL: make(map[string][]*Entry),
	}
	for i := range t.Entries {
		entry := &t.Entries[i]
		p.index[entry.Fingerprint] = entry
		key := methodURLKey(entry.Fingerprint.Method, entry.Fingerprint.URL)
		p.byMethodURL[key] = append(p.byMethodURL[key], entry)
	}
	return p, nil
}

func methodURLKey(method, url string) string {
	return method + " " + url
}

// FindMatch computes the live request's fingerprint and looks it up.
// Exact fingerprint match wins; on miss it falls back to any entry sharing
// (method, url), logging a diagnostic diff at DEBUG. Returns nil only when
// no method+URL pair exists at all.
func (p *Player) FindMatch(method, url string, body []byte, headers map[string][]string) (*Entry, error) {
	fp, err := p.fingerprint.Fingerprint(method, url, body, headers)
	if err != nil {
		return nil, fmt.Errorf("fingerprint live request: %w", err)
	}

	if entry, ok := p.index[fp]; ok {
		return entry, nil
	}

	candidates := p.byMethodURL[methodURLKey(fp.Method, fp.URL)]
	if len(candidates) == 0 {
		return nil, nil
	}

	recorded := candidates[0]
	p.logger.Debugw("tape partial match on method+url only",
		"method", fp.Method,
		"url", fp.URL,
		"recorded_body_hash", recorded.Fingerprint.BodyHash,
		"live_body_hash", fp.BodyHash,
		"diff", diffRedactedBodies(recorded.RequestBodyRedacted, body),
	)
	return recorded, nil
}

// diffRedactedBodies performs a key-by-key traversal of two JSON documents
// producing "path: <recorded> != <live>" lines, annotated with
// missing_in_recorded/missing_in_live/length for dicts and lists.
func diffRedactedBodies(recordedText string, liveBody []byte) []string {
	var recorded, live any
	_ = json.Unmarshal([]byte(recordedText), &recorded)
	_ = json.Unmarshal(liveBody, &live)

	var diffs []string
	walkDiff("$", recorded, live, &diffs)
	return diffs
}

func walkDiff(path string, recorded, live any, diffs *[]string) {
	rMap, rIsMap := recorded.(map[string]any)
	lMap, lIsMap := live.(map[string]any)
	if rIsMap && lIsMap {
		for k, rv := range rMap {
			lv, ok := lMap[k]
			if !ok {
				*diffs = append(*diffs, fmt.Sprintf("%s.%s: missing_in_live", path, k))
				continue
			}
			walkDiff(path+"."+k, rv, lv, diffs)
		}
		for k := range lMap {
			if _, ok := rMap[k]; !ok {
				*diffs = append(*diffs, fmt.Sprintf("%s.%s: missing_in_recorded", path, k))
			}
		}
		return
	}

	rSlice, rIsSlice := recorded.([]any)
	lSlice, lIsSlice := live.([]any)
	if rIsSlice && lIsSlice {
		if len(rSlice) != len(lSlice) {
			*diffs = append(*diffs, fmt.Sprintf("%s: length %d != %d", path, len(rSlice), len(lSlice)))
		}
		n := len(rSlice)
		if len(lSlice) < n {
			n = len(lSlice)
		}
		for i := 0; i < n; i++ {
			walkDiff(fmt.Sprintf("%s[%d]", path, i), rSlice[i], lSlice[i], diffs)
		}
		return
	}

	if fmt.Sprint(recorded) != fmt.Sprint(live) {
		*diffs = append(*diffs, fmt.Sprintf("%s: %v != %v", path, recorded, live))
	}
}

// ChaosContext returns the chaos context recorded against an entry, for
// replaying dashboard events during playback.
func (p *Player) ChaosContext(entry *Entry) flow.ChaosContext {
	return entry.ChaosContext
}

