package core

import (
	"encoding/json"
	"fmt"
)

// ReplyType selects the recipients of a reply action
type ReplyType string

const (
	ReplySender ReplyType = "sender"
	ReplyAll    ReplyType = "all"
	ReplyList   ReplyType = "list"
)

// Action is one step executed when a rule matches. The set of
// implementations is closed: only types in this package satisfy it.
type Action interface {
	Kind() string
	action()
}

type TagAction struct{ TagKey string }
type MoveAction struct{ Folder string }
type CopyAction struct{ Folder string }
type JunkAction struct{ Junk bool }
type ReadAction struct{ Read bool }
type FlagAction struct{ Flagged bool }
type DeleteAction struct{}
type ArchiveAction struct{}
type ForwardAction struct{ Address string }
type ReplyAction struct{ ReplyType ReplyType }

func (TagAction) Kind() string     { return "tag" }
func (MoveAction) Kind() string    { return "move" }
func (CopyAction) Kind() string    { return "copy" }
func (JunkAction) Kind() string    { return "junk" }
func (ReadAction) Kind() string    { return "read" }
func (FlagAction) Kind() string    { return "flag" }
func (DeleteAction) Kind() string  { return "delete" }
func (ArchiveAction) Kind() string { return "archive" }
func (ForwardAction) Kind() string { return "forward" }
func (ReplyAction) Kind() string   { return "reply" }

func (TagAction) action()     {}
func (MoveAction) action()    {}
func (CopyAction) action()    {}
func (JunkAction) action()    {}
func (ReadAction) action()    {}
func (FlagAction) action()    {}
func (DeleteAction) action()  {}
func (ArchiveAction) action() {}
func (ForwardAction) action() {}
func (ReplyAction) action()   {}

// actionRecord is the stored shape of an action
type actionRecord struct {
	Type       string `json:"type"`
	TagKey     string `json:"tagKey,omitempty"`
	Folder     string `json:"folder,omitempty"`
	CopyTarget string `json:"copyTarget,omitempty"`
	Junk       *bool  `json:"junk,omitempty"`
	Read       *bool  `json:"read,omitempty"`
	Flagged    *bool  `json:"flagged,omitempty"`
	Address    string `json:"address,omitempty"`
	ReplyType  string `json:"replyType,omitempty"`
}

// ActionList is an ordered list of actions with a tolerant JSON form:
// unknown or incomplete entries are dropped when decoding.
type ActionList []Action

// MarshalAction encodes a single action in its stored form
func MarshalAction(a Action) ([]byte, error) {
	rec := actionRecord{Type: a.Kind()}
	switch v := a.(type) {
	case TagAction:
		rec.TagKey = v.TagKey
	case MoveAction:
		rec.Folder = v.Folder
	case CopyAction:
		rec.CopyTarget = v.Folder
	case JunkAction:
		rec.Junk = &v.Junk
	case ReadAction:
		rec.Read = &v.Read
	case FlagAction:
		rec.Flagged = &v.Flagged
	case DeleteAction, ArchiveAction:
	case ForwardAction:
		rec.Address = v.Address
	case ReplyAction:
		rec.ReplyType = string(v.ReplyType)
	default:
		return nil, fmt.Errorf("unsupported action type %T", a)
	}
	return json.Marshal(rec)
}

// UnmarshalAction decodes a stored action. ok is false when the payload
// names an unknown type or lacks the fields its type requires.
func UnmarshalAction(data []byte) (Action, bool) {
	var rec actionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	switch rec.Type {
	case "tag":
		if rec.TagKey == "" {
			return nil, false
		}
		return TagAction{TagKey: rec.TagKey}, true
	case "move":
		if rec.Folder == "" {
			return nil, false
		}
		return MoveAction{Folder: rec.Folder}, true
	case "copy":
		target := rec.CopyTarget
		if target == "" {
			target = rec.Folder
		}
		if target == "" {
			return nil, false
		}
		return CopyAction{Folder: target}, true
	case "junk":
		if rec.Junk == nil {
			return nil, false
		}
		return JunkAction{Junk: *rec.Junk}, true
	case "read":
		if rec.Read == nil {
			return nil, false
		}
		return ReadAction{Read: *rec.Read}, true
	case "flag":
		if rec.Flagged == nil {
			return nil, false
		}
		return FlagAction{Flagged: *rec.Flagged}, true
	case "delete":
		return DeleteAction{}, true
	case "archive":
		return ArchiveAction{}, true
	case "forward":
		if rec.Address == "" {
			return nil, false
		}
		return ForwardAction{Address: rec.Address}, true
	case "reply":
		switch ReplyType(rec.ReplyType) {
		case ReplySender, ReplyAll, ReplyList:
			return ReplyAction{ReplyType: ReplyType(rec.ReplyType)}, true
		}
		return nil, false
	}
	return nil, false
}

func (l ActionList) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(l))
	for _, a := range l {
		raw, err := MarshalAction(a)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

func (l *ActionList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	list := make(ActionList, 0, len(raws))
	for _, raw := range raws {
		if a, ok := UnmarshalAction(raw); ok {
			list = append(list, a)
		}
	}
	*l = list
	return nil
}
