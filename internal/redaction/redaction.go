// Package redaction denies file content that matches any deny pattern from
// the shared indexing contract. A match withholds the whole file.
package redaction

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// MaxContentBytes caps content returned to callers, measured in UTF-8 bytes.
const MaxContentBytes = 200000

type contract struct {
	Redaction struct {
		DenyPatterns []any `yaml:"deny_patterns"`
	} `yaml:"redaction"`
}

type Filter struct {
	patterns []*regexp.Regexp
}

// NewFilter compiles patterns. Any invalid pattern is an error.
func NewFilter(patterns []string) (*Filter, error) {
	f := &Filter{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile deny pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// LoadContract reads redaction.deny_patterns from the contract at path. A
// missing contract yields an empty filter; non-string entries are skipped.
func LoadContract(path string) (*Filter, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("redaction contract not found, no deny patterns loaded")
		return &Filter{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read contract: %w", err)
	}

	var c contract
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse contract: %w", err)
	}

	var patterns []string
	for _, p := range c.Redaction.DenyPatterns {
		if s, ok := p.(string); ok {
			patterns = append(patterns, s)
		}
	}
	return NewFilter(patterns)
}

func (f *Filter) Len() int {
	return len(f.patterns)
}

// Denied reports whether any pattern matches content.
func (f *Filter) Denied(content string) bool {
	for _, re := range f.patterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

// Text is the outcome of ReadText. Content is empty when Denied is set.
type Text struct {
	Content   string
	Denied    bool
	Truncated bool
}

// ReadText reads path as UTF-8, dropping invalid bytes, scans the whole
// content against the deny patterns and only then truncates it.
func (f *Filter) ReadText(path string) (Text, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Text{}, fmt.Errorf("read %s: %w", path, err)
	}

	content := strings.ToValidUTF8(string(data), "")
	if f.Denied(content) {
		return Text{Denied: true}, nil
	}

	content, truncated := Truncate(content, MaxContentBytes)
	return Text{Content: content, Truncated: truncated}, nil
}

// Truncate cuts s to at most max bytes without splitting a rune.
func Truncate(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	return strings.ToValidUTF8(s[:max], ""), true
}
