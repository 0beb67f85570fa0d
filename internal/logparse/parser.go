package logparse

import (
	"regexp"
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"logsift/internal/model"
)

// DefaultLinePattern matches the fixed line template
// "<timestamp> [<thread>] <LEVEL> <serviceName> - <message>", where the
// message consumes the remainder including embedded newlines.
const DefaultLinePattern = `^(\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:[.,]\d{1,3})?)\s+\[([^\]]+)\]\s+([A-Z]+)\s+(\S+)\s+-\s(?s:(.*))$`

// Parser turns one reassembled raw log string into a structured entry. It
// tries JSON first, then the fixed line pattern, and finally a tagged
// fallback record. Parse is a total function: it never fails, only degrades.
type Parser struct {
	pool    fastjson.ParserPool
	line    *regexp.Regexp
	lineErr error
}

// New builds a Parser. An empty pattern selects DefaultLinePattern. A pattern
// that does not compile disables the line strategy; inputs reaching it are
// tagged grokException instead of crashing the pipeline.
func New(pattern string) *Parser {
	p := &Parser{}
	if pattern == "" {
		pattern = DefaultLinePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		p.lineErr = err
	} else {
		p.line = re
	}
	return p
}

// Parse returns a structured entry for raw. The result always carries the
// raw text, a non-nil metadata map, and a non-zero timestamp.
func (p *Parser) Parse(raw string) model.LogEntry {
	entry := model.NewLogEntry(raw)

	if strings.TrimSpace(raw) == "" {
		entry.Timestamp = time.Now()
		entry.Tag(model.MetaParseFallback, model.FallbackEmptyLog)
		return entry
	}

	for _, strategy := range []func(string, *model.LogEntry) bool{
		p.parseJSON,
		p.parseLine,
		parseFallback,
	} {
		if strategy(raw, &entry) {
			break
		}
	}

	return entry
}

// parseJSON handles structured log output. Known keys are extracted in
// priority order; every other top-level key is copied into metadata as text.
func (p *Parser) parseJSON(raw string, entry *model.LogEntry) bool {
	parser := p.pool.Get()
	defer p.pool.Put(parser)

	v, err := parser.Parse(raw)
	if err != nil || v.Type() != fastjson.TypeObject {
		return false
	}
	obj, err := v.Object()
	if err != nil {
		return false
	}

	consumed := make(map[string]bool)

	tsText, ok := jsonTimestamp(v, consumed)
	if !ok {
		entry.Timestamp = time.Now()
		entry.Tag(model.MetaParseFallback, model.FallbackTimestampFailed)
	} else {
		applyTimestamp(entry, tsText)
	}

	if lv := v.Get("level"); lv != nil {
		entry.Level = valueText(lv)
		consumed["level"] = true
	} else if lv := v.Get("levelValue"); lv != nil {
		entry.Level = valueText(lv)
		consumed["levelValue"] = true
	}

	for _, key := range []string{"serviceName", "application", "logger", "loggerName"} {
		if sv := v.Get(key); sv != nil {
			entry.ServiceName = valueText(sv)
			consumed[key] = true
			break
		}
	}

	if msg := v.Get("message"); msg != nil {
		consumed["message"] = true
		if msg.Type() == fastjson.TypeObject {
			// Structured message payloads keep their serialized form and
			// additionally flatten one level deep into metadata.
			entry.Message = msg.String()
			if msgObj, err := msg.Object(); err == nil {
				msgObj.Visit(func(key []byte, val *fastjson.Value) {
					entry.Metadata["msg."+string(key)] = valueText(val)
				})
			}
		} else {
			entry.Message = valueText(msg)
		}
	}

	for _, key := range []string{"exception", "thrown", "stacktrace"} {
		if ev := v.Get(key); ev != nil {
			entry.Exception = valueText(ev)
			consumed[key] = true
			break
		}
	}

	obj.Visit(func(key []byte, val *fastjson.Value) {
		k := string(key)
		if consumed[k] {
			return
		}
		entry.Metadata[k] = valueText(val)
	})

	return true
}

// jsonTimestamp finds the first known timestamp key and returns its text.
func jsonTimestamp(v *fastjson.Value, consumed map[string]bool) (string, bool) {
	if ts := v.Get("timestamp"); ts != nil {
		consumed["timestamp"] = true
		return valueText(ts), true
	}
	if ts := v.Get("instant", "timestamp"); ts != nil {
		consumed["instant"] = true
		return valueText(ts), true
	}
	if ts := v.Get("epochMillis"); ts != nil {
		consumed["epochMillis"] = true
		return valueText(ts), true
	}
	if ts := v.Get("timeMillis"); ts != nil {
		consumed["timeMillis"] = true
		return valueText(ts), true
	}
	if ts := v.Get("time"); ts != nil && ts.Type() == fastjson.TypeNumber {
		consumed["time"] = true
		return valueText(ts), true
	}
	return "", false
}

// parseLine matches the fixed line template. The thread capture is kept in
// metadata; a message that looks like a stack trace becomes the exception.
func (p *Parser) parseLine(raw string, entry *model.LogEntry) bool {
	if p.line == nil {
		entry.Timestamp = time.Now()
		entry.Tag(model.MetaParseFallback, model.FallbackGrokException)
		return true
	}

	match := p.line.FindStringSubmatch(raw)
	if match == nil {
		return false
	}

	applyTimestamp(entry, match[1])
	entry.Metadata["thread"] = match[2]
	entry.Level = match[3]
	entry.ServiceName = match[4]

	if looksLikeException(match[5]) {
		entry.Exception = match[5]
	} else {
		entry.Message = match[5]
	}

	return true
}

func parseFallback(_ string, entry *model.LogEntry) bool {
	entry.Timestamp = time.Now()
	entry.Tag(model.MetaParseFallback, model.FallbackGrokNoCapture)
	return true
}

// applyTimestamp runs the normalizer and records any degradation.
func applyTimestamp(entry *model.LogEntry, raw string) {
	ts, fallback := Normalize(raw)
	entry.Timestamp = ts
	switch fallback {
	case TimestampAssumedZone:
		entry.Tag(model.MetaAssumedZone, "local")
	case TimestampNow:
		entry.Tag(model.MetaParseFallback, model.FallbackTimestampFailed)
	}
}

// looksLikeException reports whether any trimmed line of the captured message
// starts with a stack-frame or cause marker.
func looksLikeException(message string) bool {
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "at ") || strings.HasPrefix(line, "Caused by") {
			return true
		}
	}
	return false
}

// valueText renders a fastjson value as plain text: strings are unquoted,
// everything else keeps its JSON form.
func valueText(v *fastjson.Value) string {
	if v == nil {
		return ""
	}
	if v.Type() == fastjson.TypeString {
		b, err := v.StringBytes()
		if err != nil {
			return v.String()
		}
		return string(b)
	}
	return v.String()
}
