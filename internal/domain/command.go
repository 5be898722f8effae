package domain

import "time"

type CommandType string

const (
	CmdDeleteMessage    CommandType = "delete_message"
	CmdWarn             CommandType = "warn"
	CmdRestrict         CommandType = "restrict"
	CmdKick             CommandType = "kick"
	CmdBan              CommandType = "ban"
	CmdLog              CommandType = "log"
	CmdRecordModeration CommandType = "record_moderation"
	CmdRecordRuleAudit  CommandType = "record_rule_audit"
)

// Command is a concrete moderation instruction produced by the firewall.
// The firewall only decides; an executor carries commands out.
type Command interface {
	Type() CommandType
	isCommand()
}

type DeleteMessageCommand struct {
	ChatID    int64
	MessageID int
}

type WarnCommand struct {
	ChatID    int64
	UserID    int64
	MessageID int // message to reply to, 0 if unknown
	Reason    string
	Severity  string
}

// RestrictCommand mutes a member. DurationSeconds 0 restricts indefinitely.
type RestrictCommand struct {
	ChatID          int64
	UserID          int64
	DurationSeconds int
	Reason          string
}

type KickCommand struct {
	ChatID int64
	UserID int64
	Reason string
}

// BanCommand bans until UntilDate (unix seconds); 0 means permanent.
type BanCommand struct {
	ChatID    int64
	UserID    int64
	UntilDate int64
	Reason    string
}

type LogCommand struct {
	Level   string
	Message string
	Context map[string]any
}

type RecordModerationCommand struct {
	Record ModerationRecord
}

type RecordRuleAuditCommand struct {
	Audit RuleAudit
}

func (DeleteMessageCommand) Type() CommandType    { return CmdDeleteMessage }
func (WarnCommand) Type() CommandType             { return CmdWarn }
func (RestrictCommand) Type() CommandType         { return CmdRestrict }
func (KickCommand) Type() CommandType             { return CmdKick }
func (BanCommand) Type() CommandType              { return CmdBan }
func (LogCommand) Type() CommandType              { return CmdLog }
func (RecordModerationCommand) Type() CommandType { return CmdRecordModeration }
func (RecordRuleAuditCommand) Type() CommandType  { return CmdRecordRuleAudit }

func (DeleteMessageCommand) isCommand()    {}
func (WarnCommand) isCommand()             {}
func (RestrictCommand) isCommand()         {}
func (KickCommand) isCommand()             {}
func (BanCommand) isCommand()              {}
func (LogCommand) isCommand()              {}
func (RecordModerationCommand) isCommand() {}
func (RecordRuleAuditCommand) isCommand()  {}

// ModerationRecord is the audit trail entry for moderation applied to a user.
type ModerationRecord struct {
	ID        string         `json:"id"`
	ChatID    int64          `json:"chatId"`
	RuleID    string         `json:"ruleId"`
	UserID    int64          `json:"userId,omitempty"`
	Actions   []string       `json:"actions"`
	Reason    string         `json:"reason"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// RuleAudit records which rule fired on which message content.
type RuleAudit struct {
	ID         string         `json:"id"`
	ChatID     int64          `json:"chatId"`
	RuleID     string         `json:"ruleId"`
	OffenderID int64          `json:"offenderId,omitempty"`
	Summary    string         `json:"summary"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
