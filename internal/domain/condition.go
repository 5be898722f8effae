package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ConditionKind string

const (
	CondTextContains  ConditionKind = "text_contains"
	CondRegex         ConditionKind = "regex"
	CondKeyword       ConditionKind = "keyword"
	CondMediaType     ConditionKind = "media_type"
	CondLinkDomain    ConditionKind = "link_domain"
	CondUserRole      ConditionKind = "user_role"
	CondTimeRange     ConditionKind = "time_range"
	CondMessageLength ConditionKind = "message_length"
)

// Condition is a closed set of predicates over an Event. Only types in this
// package implement it.
type Condition interface {
	Kind() ConditionKind
	isCondition()
}

type TextContainsCondition struct {
	Value         string `json:"value"`
	CaseSensitive bool   `json:"caseSensitive,omitempty"`
}

// RegexCondition uses JavaScript-style flags. A nil Flags means "i".
type RegexCondition struct {
	Pattern string  `json:"pattern"`
	Flags   *string `json:"flags,omitempty"`
}

type KeywordMode string

const (
	KeywordAll KeywordMode = "all"
	KeywordAny KeywordMode = "any"
)

type KeywordCondition struct {
	Keywords      []string    `json:"keywords"`
	Match         KeywordMode `json:"match"`
	CaseSensitive bool        `json:"caseSensitive,omitempty"`
}

type MediaTypeCondition struct {
	Types []string `json:"types"`
}

type LinkDomainCondition struct {
	Domains         []string `json:"domains"`
	AllowSubdomains bool     `json:"allowSubdomains,omitempty"`
}

type UserRoleCondition struct {
	Roles []Role `json:"roles"`
}

type TimeRangeCondition struct {
	StartHour int    `json:"startHour"`
	EndHour   int    `json:"endHour"`
	Timezone  string `json:"timezone,omitempty"`
}

type MessageLengthCondition struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

func (TextContainsCondition) Kind() ConditionKind  { return CondTextContains }
func (RegexCondition) Kind() ConditionKind         { return CondRegex }
func (KeywordCondition) Kind() ConditionKind       { return CondKeyword }
func (MediaTypeCondition) Kind() ConditionKind     { return CondMediaType }
func (LinkDomainCondition) Kind() ConditionKind    { return CondLinkDomain }
func (UserRoleCondition) Kind() ConditionKind      { return CondUserRole }
func (TimeRangeCondition) Kind() ConditionKind     { return CondTimeRange }
func (MessageLengthCondition) Kind() ConditionKind { return CondMessageLength }

func (TextContainsCondition) isCondition()  {}
func (RegexCondition) isCondition()         {}
func (KeywordCondition) isCondition()       {}
func (MediaTypeCondition) isCondition()     {}
func (LinkDomainCondition) isCondition()    {}
func (UserRoleCondition) isCondition()      {}
func (TimeRangeCondition) isCondition()     {}
func (MessageLengthCondition) isCondition() {}

// CompileRegex builds a regexp from a pattern and JavaScript-style flags.
// i, m and s map to RE2 inline flags; g, u and y have no RE2 meaning and are
// ignored. Any other flag is an error.
func CompileRegex(pattern string, flags *string) (*regexp.Regexp, error) {
	f := "i"
	if flags != nil {
		f = *flags
	}
	var inline strings.Builder
	for _, c := range f {
		switch c {
		case 'i', 'm', 's':
			if !strings.ContainsRune(inline.String(), c) {
				inline.WriteRune(c)
			}
		case 'g', 'u', 'y':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", c)
		}
	}
	if inline.Len() > 0 {
		pattern = "(?" + inline.String() + ")" + pattern
	}
	return regexp.Compile(pattern)
}

func validateCondition(c Condition) error {
	switch v := c.(type) {
	case TextContainsCondition:
		if v.Value == "" {
			return errors.New("value is required")
		}
	case RegexCondition:
		if _, err := CompileRegex(v.Pattern, v.Flags); err != nil {
			return err
		}
	case KeywordCondition:
		if len(v.Keywords) == 0 {
			return errors.New("keywords must not be empty")
		}
		if v.Match != KeywordAll && v.Match != KeywordAny {
			return fmt.Errorf("match must be one of: all, any (got %q)", v.Match)
		}
	case MediaTypeCondition:
		if len(v.Types) == 0 {
			return errors.New("types must not be empty")
		}
	case LinkDomainCondition:
		if len(v.Domains) == 0 {
			return errors.New("domains must not be empty")
		}
	case UserRoleCondition:
		if len(v.Roles) == 0 {
			return errors.New("roles must not be empty")
		}
	case TimeRangeCondition:
		if v.Timezone != "" {
			if _, err := time.LoadLocation(v.Timezone); err != nil {
				return fmt.Errorf("timezone: %w", err)
			}
		}
	case MessageLengthCondition:
		if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
			return errors.New("min must be <= max")
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownConditionKind, c)
	}
	return nil
}

// --- encoding ---

// ConditionList encodes each condition as an object tagged with "kind".
type ConditionList []Condition

func (l ConditionList) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(l))
	for _, c := range l {
		b, err := marshalTagged(c, string(c.Kind()))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return json.Marshal(out)
}

func (l *ConditionList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	list := make(ConditionList, 0, len(raw))
	for i, item := range raw {
		c, err := UnmarshalCondition(item)
		if err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
		list = append(list, c)
	}
	*l = list
	return nil
}

func (l ConditionList) MarshalYAML() (any, error) {
	return toYAMLValue(l)
}

func (l *ConditionList) UnmarshalYAML(node *yaml.Node) error {
	data, err := yamlNodeToJSON(node)
	if err != nil {
		return err
	}
	return l.UnmarshalJSON(data)
}

// UnmarshalCondition decodes a single kind-tagged condition object.
func UnmarshalCondition(data []byte) (Condition, error) {
	var head struct {
		Kind ConditionKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Kind {
	case CondTextContains:
		return decodeAs[TextContainsCondition](data)
	case CondRegex:
		return decodeAs[RegexCondition](data)
	case CondKeyword:
		return decodeAs[KeywordCondition](data)
	case CondMediaType:
		return decodeAs[MediaTypeCondition](data)
	case CondLinkDomain:
		return decodeAs[LinkDomainCondition](data)
	case CondUserRole:
		return decodeAs[UserRoleCondition](data)
	case CondTimeRange:
		return decodeAs[TimeRangeCondition](data)
	case CondMessageLength:
		return decodeAs[MessageLengthCondition](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownConditionKind, head.Kind)
	}
}

func decodeAs[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// marshalTagged encodes v as a JSON object and adds the "kind" discriminator.
func marshalTagged(v any, kind string) (json.RawMessage, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	k, _ := json.Marshal(kind)
	fields["kind"] = k
	return json.Marshal(fields)
}

func yamlNodeToJSON(node *yaml.Node) ([]byte, error) {
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func toYAMLValue(v json.Marshaler) (any, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
