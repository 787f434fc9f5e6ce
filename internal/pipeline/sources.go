package pipeline

import (
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gradintel/tuition-cli/internal/model"
	"github.com/gradintel/tuition-cli/pkg/gemini"
)

// DomainRules holds the blocked-domain list and explicit school→domain
// mappings, loadable from a YAML file on top of the embedded defaults.
type DomainRules struct {
	Blocked []string          `yaml:"blocked"`
	Schools map[string]string `yaml:"schools"`
}

// defaultBlockedDomains are low-quality domains that never count as a
// tuition source.
var defaultBlockedDomains = []string{
	"reddit.com",
	"quora.com",
	"facebook.com",
	"pinterest.com",
	"youtube.com",
	"tiktok.com",
	"coursehero.com",
	"chegg.com",
	"scribd.com",
	"answers.com",
}

// nameStopwords are school-name tokens too generic to identify a domain.
var nameStopwords = map[string]bool{
	"university": true,
	"college":    true,
	"institute":  true,
	"school":     true,
	"the":        true,
	"of":         true,
	"at":         true,
	"and":        true,
	"in":         true,
	"for":        true,
}

// SourceValidator deduplicates and classifies candidate source URLs.
type SourceValidator struct {
	blocked       map[string]bool
	schoolDomains map[string]string
}

// NewSourceValidator builds a validator from the embedded defaults, merged
// with the optional YAML rules file at path (empty path = defaults only).
func NewSourceValidator(path string) (*SourceValidator, error) {
	v := &SourceValidator{
		blocked:       make(map[string]bool, len(defaultBlockedDomains)),
		schoolDomains: make(map[string]string),
	}
	for _, d := range defaultBlockedDomains {
		v.blocked[d] = true
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "sources: read rules %s", path)
		}
		var rules DomainRules
		if err := yaml.Unmarshal(data, &rules); err != nil {
			return nil, eris.Wrap(err, "sources: parse rules")
		}
		for _, d := range rules.Blocked {
			v.blocked[strings.ToLower(d)] = true
		}
		for school, domain := range rules.Schools {
			v.schoolDomains[normalizeSchoolKey(school)] = strings.ToLower(domain)
		}
	}

	return v, nil
}

// Validate deduplicates sources by normalized host and classifies each as
// official, unverified, or blocked. Classification is a heuristic: a mismatch
// is a confidence signal, never proof the source is wrong.
func (v *SourceValidator) Validate(school string, sources []gemini.GroundingSource) []model.ValidatedSource {
	seen := make(map[string]bool, len(sources))
	var out []model.ValidatedSource

	for _, src := range sources {
		host := normalizeHost(src.URL)
		if host == "" {
			zap.L().Debug("sources: skipping unparsable url", zap.String("url", src.URL))
			continue
		}
		if seen[host] {
			continue
		}
		seen[host] = true

		out = append(out, model.ValidatedSource{
			URL:   src.URL,
			Title: src.Title,
			Class: v.classify(school, host),
		})
	}
	return out
}

func (v *SourceValidator) classify(school, host string) model.SourceClass {
	if v.isBlocked(host) {
		return model.SourceBlocked
	}
	if v.isOfficial(school, host) {
		return model.SourceOfficial
	}
	return model.SourceUnverified
}

func (v *SourceValidator) isBlocked(host string) bool {
	for h := host; h != ""; {
		if v.blocked[h] {
			return true
		}
		idx := strings.Index(h, ".")
		if idx < 0 {
			break
		}
		h = h[idx+1:]
	}
	return false
}

// isOfficial matches host against an explicit mapping when one exists,
// otherwise against an institutional heuristic: a .edu domain whose labels
// contain a distinctive token (or the acronym) of the school name.
func (v *SourceValidator) isOfficial(school, host string) bool {
	if mapped, ok := v.schoolDomains[normalizeSchoolKey(school)]; ok {
		return host == mapped || strings.HasSuffix(host, "."+mapped)
	}

	if !strings.HasSuffix(host, ".edu") {
		return false
	}

	labels := strings.Split(strings.TrimSuffix(host, ".edu"), ".")
	labelSet := make(map[string]bool, len(labels))
	for _, l := range labels {
		labelSet[l] = true
	}

	for _, tok := range schoolTokens(school) {
		if labelSet[tok] {
			return true
		}
		// Tokens also match as substrings of a label: "harvard" in
		// "harvardbusiness".
		for _, l := range labels {
			if len(tok) >= 4 && strings.Contains(l, tok) {
				return true
			}
		}
	}
	return false
}

// connectorWords never contribute a letter to the acronym: MIT, not MIoT.
var connectorWords = map[string]bool{
	"of": true, "the": true, "at": true, "and": true, "in": true, "for": true,
}

// schoolTokens returns distinctive lowercase tokens from a school name plus
// its acronym ("Massachusetts Institute of Technology" → massachusetts,
// technology, mit).
func schoolTokens(school string) []string {
	words := strings.Fields(strings.ToLower(school))
	var tokens []string
	var acronym strings.Builder

	for _, w := range words {
		w = strings.Trim(w, ",.()-")
		if w == "" {
			continue
		}
		if !connectorWords[w] {
			acronym.WriteByte(w[0])
		}
		if nameStopwords[w] || len(w) < 3 {
			continue
		}
		tokens = append(tokens, w)
	}
	if acronym.Len() >= 2 {
		tokens = append(tokens, acronym.String())
	}
	return tokens
}

func normalizeSchoolKey(school string) string {
	return strings.Join(strings.Fields(strings.ToLower(school)), " ")
}

// normalizeHost extracts the lowercase host from a URL, stripping www.
// Returns "" for unparsable input.
func normalizeHost(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
