/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package codecs

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"stash.kopano.io/kwm/kwmwhip/internal/fmtp"
)

// Rule is a conjunction of exact match constraints over a codec capability.
// The mime type is compared case insensitive, parameter values must equal the
// parsed fmtp values exactly.
type Rule struct {
	MimeType string            `yaml:"mimeType" json:"mimeType"`
	Params   map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// Kind returns the media kind the rule applies to.
func (r Rule) Kind() string {
	return CodecCapability{MimeType: r.MimeType}.Kind()
}

// Matches returns true if the provided capability satisfies the rule.
func (r Rule) Matches(c CodecCapability) bool {
	if !strings.EqualFold(r.MimeType, c.MimeType) {
		return false
	}
	if len(r.Params) == 0 {
		return true
	}

	params := c.Params()
	for name, required := range r.Params {
		value, ok := params.Get(name)
		if !ok || value != required {
			return false
		}
	}

	return true
}

func (r Rule) String() string {
	var sb strings.Builder
	sb.WriteString(r.MimeType)
	names := make([]string, 0, len(r.Params))
	for name := range r.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString(";")
		sb.WriteString(name)
		sb.WriteString("=")
		sb.WriteString(r.Params[name])
	}
	return sb.String()
}

// MatchPolicy is an ordered list of rules. Earlier rules take precedence.
type MatchPolicy []Rule

// DefaultPolicy returns the policy used when nothing is configured: H.264
// main profile level 3.1 in non-interleaved mode for video and Opus audio
// without further constraints.
func DefaultPolicy() MatchPolicy {
	return MatchPolicy{
		{
			MimeType: "video/H264",
			Params: map[string]string{
				"profile-level-id":   "4d001f",
				"packetization-mode": "1",
			},
		},
		{
			MimeType: "audio/opus",
		},
	}
}

// ForKind returns the rules of the policy which apply to the provided media
// kind, in declaration order.
func (policy MatchPolicy) ForKind(kind string) MatchPolicy {
	result := make(MatchPolicy, 0, len(policy))
	for _, rule := range policy {
		if rule.Kind() == kind {
			result = append(result, rule)
		}
	}
	return result
}

// Validate checks that all rules of the policy can match anything.
func (policy MatchPolicy) Validate() error {
	if len(policy) == 0 {
		return fmt.Errorf("policy has no rules")
	}
	for idx, rule := range policy {
		parts := strings.SplitN(rule.MimeType, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("rule %d: invalid mime type %q", idx, rule.MimeType)
		}
		for name := range rule.Params {
			if name == "" {
				return fmt.Errorf("rule %d: empty parameter name", idx)
			}
		}
	}
	return nil
}

// ParseRule parses a rule from its compact form, which is the mime type
// followed by fmtp style parameters, for example
// "video/H264;profile-level-id=4d001f;packetization-mode=1".
func ParseRule(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ";", 2)

	rule := Rule{
		MimeType: strings.TrimSpace(parts[0]),
	}
	if len(parts) > 1 {
		for name, value := range fmtp.Parse(parts[1]) {
			if value.IsMissing() {
				return rule, fmt.Errorf("invalid rule %q: parameter %q has no value", s, name)
			}
			if rule.Params == nil {
				rule.Params = make(map[string]string)
			}
			rule.Params[name] = value.String()
		}
	}

	if err := (MatchPolicy{rule}).Validate(); err != nil {
		return rule, fmt.Errorf("invalid rule %q: %w", s, err)
	}

	return rule, nil
}

type policyFile struct {
	Rules MatchPolicy `yaml:"rules"`
}

// LoadPolicyFile reads a policy from the YAML file at the provided path.
//
//	rules:
//	  - mimeType: video/H264
//	    params:
//	      profile-level-id: 4d001f
//	      packetization-mode: "1"
//	  - mimeType: audio/opus
func LoadPolicyFile(path string) (MatchPolicy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pf := &policyFile{}
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err = decoder.Decode(pf); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if err = pf.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy file: %w", err)
	}

	return pf.Rules, nil
}
