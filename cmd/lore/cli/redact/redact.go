// Package redact scrubs credentials, emails, IP addresses and other keys
// from session content before it leaves the machine via export.
package redact

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/varalys/lore/cmd/lore/cli/model"
)

// Placeholder replaces every detected secret.
const Placeholder = "[REDACTED]"

// secretPattern matches high-entropy strings that may be secrets.
var secretPattern = regexp.MustCompile(`[A-Za-z0-9/+_=-]{10,}`)

// entropyThreshold is the minimum Shannon entropy for a candidate to count
// as a secret. Common words and identifiers stay below 4.5; API keys and
// tokens tend to sit well above 5.0.
const entropyThreshold = 4.5

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	ipv4Pattern  = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|1?[0-9]?[0-9])\.){3}(?:25[0-5]|2[0-4][0-9]|1?[0-9]?[0-9])\b`)
)

var (
	gitleaksDetector     *detect.Detector
	gitleaksDetectorOnce sync.Once
)

func getDetector() *detect.Detector {
	gitleaksDetectorOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return
		}
		gitleaksDetector = d
	})
	return gitleaksDetector
}

// region is a byte range to redact.
type region struct{ start, end int }

// String replaces secrets in s with the placeholder using layered
// detection:
//
//  1. entropy: high-entropy alphanumeric runs
//  2. patterns: gitleaks rules for known secret formats
//  3. PII: email addresses and IPv4 addresses
//
// A substring is redacted if any layer flags it.
func String(s string) string {
	var regions []region

	for _, loc := range secretPattern.FindAllStringIndex(s, -1) {
		if shannonEntropy(s[loc[0]:loc[1]]) > entropyThreshold {
			regions = append(regions, region{loc[0], loc[1]})
		}
	}

	if d := getDetector(); d != nil {
		for _, f := range d.DetectString(s) {
			if f.Secret == "" {
				continue
			}
			searchFrom := 0
			for {
				idx := strings.Index(s[searchFrom:], f.Secret)
				if idx < 0 {
					break
				}
				absIdx := searchFrom + idx
				regions = append(regions, region{absIdx, absIdx + len(f.Secret)})
				searchFrom = absIdx + len(f.Secret)
			}
		}
	}

	for _, loc := range emailPattern.FindAllStringIndex(s, -1) {
		regions = append(regions, region{loc[0], loc[1]})
	}
	for _, loc := range ipv4Pattern.FindAllStringIndex(s, -1) {
		regions = append(regions, region{loc[0], loc[1]})
	}

	if len(regions) == 0 {
		return s
	}

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].start < regions[j].start
	})
	merged := []region{regions[0]}
	for _, r := range regions[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
		} else {
			merged = append(merged, r)
		}
	}

	var b strings.Builder
	prev := 0
	for _, r := range merged {
		b.WriteString(s[prev:r.start])
		b.WriteString(Placeholder)
		prev = r.end
	}
	b.WriteString(s[prev:])
	return b.String()
}

// Bytes is a convenience wrapper around String for []byte content.
func Bytes(b []byte) []byte {
	s := string(b)
	redacted := String(s)
	if redacted == s {
		return b
	}
	return []byte(redacted)
}

// Messages returns a copy of messages with all content fields scrubbed.
// Tool inputs are redacted through their JSON encoding so structure
// survives while embedded secrets do not.
func Messages(messages []model.Message) []model.Message {
	out := make([]model.Message, len(messages))
	for i, msg := range messages {
		msg.Content = content(msg.Content)
		out[i] = msg
	}
	return out
}

func content(c model.MessageContent) model.MessageContent {
	if c.Blocks == nil {
		c.Text = String(c.Text)
		return c
	}
	blocks := make([]model.ContentBlock, len(c.Blocks))
	for i, b := range c.Blocks {
		b.Text = String(b.Text)
		b.Thinking = String(b.Thinking)
		b.Content = String(b.Content)
		if len(b.Input) > 0 {
			b.Input = redactRawJSON(b.Input)
		}
		blocks[i] = b
	}
	c.Blocks = blocks
	return c
}

// redactRawJSON scrubs string values inside a JSON document. Invalid JSON
// is redacted as plain text.
func redactRawJSON(raw json.RawMessage) json.RawMessage {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return json.RawMessage(String(string(raw)))
	}
	redacted := redactValue(parsed)
	out, err := json.Marshal(redacted)
	if err != nil {
		return raw
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			val[k] = redactValue(child)
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = redactValue(child)
		}
		return val
	case string:
		return String(val)
	default:
		return v
	}
}

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[byte]int)
	for i := range len(s) {
		freq[s[i]]++
	}
	length := float64(len(s))
	var entropy float64
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}
