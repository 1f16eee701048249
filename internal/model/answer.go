package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AnswerKind is the JSON shape of an answer value.
type AnswerKind uint8

const (
	AnswerNone AnswerKind = iota
	AnswerString
	AnswerNumber
	AnswerBool
	AnswerSet
)

// Answer holds either a scalar (string, number, bool) or a set of strings.
// It round-trips through JSON keeping its original kind so that equality
// never coerces across types.
type Answer struct {
	Kind AnswerKind
	Str  string
	Num  float64
	Bool bool
	Set  []string
}

func StringAnswer(s string) Answer  { return Answer{Kind: AnswerString, Str: s} }
func NumberAnswer(n float64) Answer { return Answer{Kind: AnswerNumber, Num: n} }
func BoolAnswer(b bool) Answer      { return Answer{Kind: AnswerBool, Bool: b} }

// SetAnswer builds a multiple-answer value. Order and duplicates are kept as
// given; comparison treats them as a set.
func SetAnswer(values ...string) Answer {
	set := make([]string, len(values))
	copy(set, values)
	return Answer{Kind: AnswerSet, Set: set}
}

// IsScalar reports whether the answer is a string, number or bool.
func (a Answer) IsScalar() bool {
	return a.Kind == AnswerString || a.Kind == AnswerNumber || a.Kind == AnswerBool
}

// Answered reports whether the answer carries a value. Empty strings and
// empty sets count as unanswered.
func (a Answer) Answered() bool {
	switch a.Kind {
	case AnswerNone:
		return false
	case AnswerString:
		return a.Str != ""
	case AnswerSet:
		return len(a.Set) > 0
	default:
		return true
	}
}

// Equal compares two answers strictly: kinds must match, strings are case
// sensitive, and sets compare without regard to order or duplicates.
func (a Answer) Equal(b Answer) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case AnswerNone:
		return true
	case AnswerString:
		return a.Str == b.Str
	case AnswerNumber:
		return a.Num == b.Num
	case AnswerBool:
		return a.Bool == b.Bool
	case AnswerSet:
		return sameSet(a.Set, b.Set)
	}
	return false
}

func sameSet(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, v := range a {
		as[v] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, v := range b {
		bs[v] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for v := range as {
		if _, ok := bs[v]; !ok {
			return false
		}
	}
	return true
}

// Text renders the answer for humans and prompts.
func (a Answer) Text() string {
	switch a.Kind {
	case AnswerString:
		return a.Str
	case AnswerNumber:
		return strconv.FormatFloat(a.Num, 'f', -1, 64)
	case AnswerBool:
		return strconv.FormatBool(a.Bool)
	case AnswerSet:
		return strings.Join(a.Set, ", ")
	}
	return ""
}

func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AnswerString:
		return json.Marshal(a.Str)
	case AnswerNumber:
		return json.Marshal(a.Num)
	case AnswerBool:
		return json.Marshal(a.Bool)
	case AnswerSet:
		if a.Set == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.Set)
	}
	return []byte("null"), nil
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Answer{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = StringAnswer(s)
	case '[':
		var set []string
		if err := json.Unmarshal(data, &set); err != nil {
			return fmt.Errorf("answer set must contain only strings: %w", err)
		}
		if set == nil {
			set = []string{}
		}
		*a = Answer{Kind: AnswerSet, Set: set}
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*a = BoolAnswer(b)
	case '{':
		return fmt.Errorf("answer must be a string, number, boolean or array of strings")
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*a = NumberAnswer(n)
	}
	return nil
}
