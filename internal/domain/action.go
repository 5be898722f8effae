package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

type ActionKind string

const (
	ActDeleteMessage ActionKind = "delete_message"
	ActWarn          ActionKind = "warn"
	ActMute          ActionKind = "mute"
	ActKick          ActionKind = "kick"
	ActBan           ActionKind = "ban"
	ActLog           ActionKind = "log"
)

// Action is a moderation step a matching rule requests.
type Action interface {
	Kind() ActionKind
	isAction()
}

type DeleteMessageAction struct{}

type WarnAction struct {
	Message  string `json:"message,omitempty"`
	Severity string `json:"severity,omitempty"`
}

type MuteAction struct {
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type KickAction struct {
	Reason string `json:"reason,omitempty"`
}

// BanAction is permanent unless DurationSeconds is positive.
type BanAction struct {
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type LogAction struct {
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

func (DeleteMessageAction) Kind() ActionKind { return ActDeleteMessage }
func (WarnAction) Kind() ActionKind          { return ActWarn }
func (MuteAction) Kind() ActionKind          { return ActMute }
func (KickAction) Kind() ActionKind          { return ActKick }
func (BanAction) Kind() ActionKind           { return ActBan }
func (LogAction) Kind() ActionKind           { return ActLog }

func (DeleteMessageAction) isAction() {}
func (WarnAction) isAction()          {}
func (MuteAction) isAction()          {}
func (KickAction) isAction()          {}
func (BanAction) isAction()           {}
func (LogAction) isAction()           {}

func validateAction(a Action) error {
	switch v := a.(type) {
	case DeleteMessageAction, KickAction:
	case WarnAction:
		switch v.Severity {
		case "", "low", "medium", "high":
		default:
			return fmt.Errorf("severity must be one of: low, medium, high (got %q)", v.Severity)
		}
	case MuteAction:
		if v.DurationSeconds < 0 {
			return errors.New("durationSeconds must be >= 0")
		}
	case BanAction:
		if v.DurationSeconds < 0 {
			return errors.New("durationSeconds must be >= 0")
		}
	case LogAction:
		switch v.Level {
		case "", "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("level must be one of: debug, info, warn, error (got %q)", v.Level)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownActionKind, a)
	}
	return nil
}

// ActionList encodes each action as an object tagged with "kind".
type ActionList []Action

func (l ActionList) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(l))
	for _, a := range l {
		b, err := marshalTagged(a, string(a.Kind()))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return json.Marshal(out)
}

func (l *ActionList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	list := make(ActionList, 0, len(raw))
	for i, item := range raw {
		a, err := UnmarshalAction(item)
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		list = append(list, a)
	}
	*l = list
	return nil
}

func (l ActionList) MarshalYAML() (any, error) {
	return toYAMLValue(l)
}

func (l *ActionList) UnmarshalYAML(node *yaml.Node) error {
	data, err := yamlNodeToJSON(node)
	if err != nil {
		return err
	}
	return l.UnmarshalJSON(data)
}

// UnmarshalAction decodes a single kind-tagged action object.
func UnmarshalAction(data []byte) (Action, error) {
	var head struct {
		Kind ActionKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Kind {
	case ActDeleteMessage:
		return DeleteMessageAction{}, nil
	case ActWarn:
		return decodeAs[WarnAction](data)
	case ActMute:
		return decodeAs[MuteAction](data)
	case ActKick:
		return decodeAs[KickAction](data)
	case ActBan:
		return decodeAs[BanAction](data)
	case ActLog:
		return decodeAs[LogAction](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionKind, head.Kind)
	}
}
