// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package quest

import (
	"fmt"
	"math"
	"time"
)

// Expired is the timeout that fails a quest with [ErrTimeout] without
// writing it. Any negative timeout behaves the same. A zero timeout
// selects the sender's default.
const Expired time.Duration = -1

// Params is the parameter map of a quest or answer. Values decoded
// from the wire are int64, bool, string, []byte, []any, or
// map[string]any.
type Params map[string]any

// Quest is a request sent to the peer.
type Quest struct {
	Method string
	OneWay bool
	Params Params

	seq uint32
}

// NewQuest returns a two-way quest for method.
func NewQuest(method string) *Quest {
	return &Quest{Method: method, Params: Params{}}
}

// NewOneWayQuest returns a quest the peer does not answer.
func NewOneWayQuest(method string) *Quest {
	return &Quest{Method: method, OneWay: true, Params: Params{}}
}

// Param sets a parameter and returns q for chaining.
func (q *Quest) Param(key string, value any) *Quest {
	if q.Params == nil {
		q.Params = Params{}
	}
	q.Params[key] = value
	return q
}

// Seq is the sequence number assigned when the quest was sent or
// received. Zero before sending.
func (q *Quest) Seq() uint32 { return q.seq }

// Answer is the reply to a two-way quest. Err is set for error
// answers.
type Answer struct {
	Params Params
	Err    *Error
}

// NewAnswer returns an empty success answer.
func NewAnswer() *Answer {
	return &Answer{Params: Params{}}
}

// NewErrorAnswer returns an error answer.
func NewErrorAnswer(code int, message string) *Answer {
	return &Answer{Err: &Error{Code: code, Message: message}}
}

// Param sets a parameter and returns a for chaining.
func (a *Answer) Param(key string, value any) *Answer {
	if a.Params == nil {
		a.Params = Params{}
	}
	a.Params[key] = value
	return a
}

// Get returns the raw value for key.
func (p Params) Get(key string) (any, bool) {
	value, ok := p[key]
	return value, ok
}

// WantString returns the string parameter key.
func (p Params) WantString(key string) (string, error) {
	value, ok := p[key]
	if !ok {
		return "", fmt.Errorf("missing parameter %q", key)
	}
	switch typed := value.(type) {
	case string:
		return typed, nil
	case []byte:
		return string(typed), nil
	default:
		return "", fmt.Errorf("parameter %q: got %T, want string", key, value)
	}
}

// WantInt64 returns the integer parameter key.
func (p Params) WantInt64(key string) (int64, error) {
	value, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	number, err := toInt64(value)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: %w", key, err)
	}
	return number, nil
}

// WantBool returns the boolean parameter key.
func (p Params) WantBool(key string) (bool, error) {
	value, ok := p[key]
	if !ok {
		return false, fmt.Errorf("missing parameter %q", key)
	}
	typed, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %q: got %T, want bool", key, value)
	}
	return typed, nil
}

// WantInt64List returns the integer array parameter key.
func (p Params) WantInt64List(key string) ([]int64, error) {
	value, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("missing parameter %q", key)
	}
	switch typed := value.(type) {
	case []int64:
		return typed, nil
	case []any:
		result := make([]int64, 0, len(typed))
		for index, element := range typed {
			number, err := toInt64(element)
			if err != nil {
				return nil, fmt.Errorf("parameter %q[%d]: %w", key, index, err)
			}
			result = append(result, number)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("parameter %q: got %T, want array", key, value)
	}
}

// String returns the string parameter key, or fallback when it is
// missing or not a string.
func (p Params) String(key, fallback string) string {
	value, err := p.WantString(key)
	if err != nil {
		return fallback
	}
	return value
}

// Int64 returns the integer parameter key, or fallback.
func (p Params) Int64(key string, fallback int64) int64 {
	value, err := p.WantInt64(key)
	if err != nil {
		return fallback
	}
	return value
}

// Bool returns the boolean parameter key, or fallback.
func (p Params) Bool(key string, fallback bool) bool {
	value, err := p.WantBool(key)
	if err != nil {
		return fallback
	}
	return value
}

func toInt64(value any) (int64, error) {
	switch typed := value.(type) {
	case int64:
		return typed, nil
	case int:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case int16:
		return int64(typed), nil
	case int8:
		return int64(typed), nil
	case uint64:
		if typed > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", typed)
		}
		return int64(typed), nil
	case uint:
		if uint64(typed) > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", typed)
		}
		return int64(typed), nil
	case uint32:
		return int64(typed), nil
	case uint16:
		return int64(typed), nil
	case uint8:
		return int64(typed), nil
	default:
		return 0, fmt.Errorf("got %T, want integer", value)
	}
}
