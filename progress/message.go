// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package progress implements the status messages that workers send
// to a coordinator, and the coordinator's aggregation loop.
package progress

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Kind is the kind of a Message.
type Kind int

const (
	// InputRead indicates that a worker has read its input partition,
	// which may now be released.
	InputRead Kind = iota
	// Progress reports the iteration count of a worker.
	Progress
	// Value indicates that a worker finished successfully.
	Value
	// Error indicates that a worker failed.
	Error
)

var kinds = [...]string{
	InputRead: "INPUTREAD",
	Progress:  "PROGRESS",
	Value:     "VALUE",
	Error:     "ERROR",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kinds) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kinds[k]
}

// Message is a status message from a worker. Its fields are exported
// only so that messages may be gob-encoded; use the constructors and
// accessors instead.
type Message struct {
	Kind Kind
	// Worker is the index of the worker (or, for InputRead, of the
	// partition) to which the message applies.
	Worker int
	// Iter is the iteration count carried by Progress messages.
	Iter int64
	// Err is the failure carried by Error messages.
	Err *errors.Error
}

// InputReadMessage returns a message indicating that the input
// partition with the given index has been read.
func InputReadMessage(index int) Message {
	return Message{Kind: InputRead, Worker: index}
}

// ProgressMessage returns a message reporting that the given worker
// has reached iteration iter.
func ProgressMessage(worker int, iter int64) Message {
	return Message{Kind: Progress, Worker: worker, Iter: iter}
}

// ValueMessage returns a message indicating that the given worker
// finished successfully.
func ValueMessage(worker int) Message {
	return Message{Kind: Value, Worker: worker}
}

// ErrorMessage returns a message indicating that the given worker
// failed with err.
func ErrorMessage(worker int, err error) Message {
	m := Message{Kind: Error, Worker: worker}
	if err != nil {
		// Flatten the error so that the message remains encodable
		// regardless of the concrete types in the error chain.
		e := errors.Recover(err)
		m.Err = &errors.Error{Kind: e.Kind, Severity: e.Severity, Message: err.Error()}
		if e.Kind != errors.Other {
			m.Err.Message = e.Message
			if e.Err != nil {
				m.Err.Message = fmt.Sprintf("%s: %v", e.Message, e.Err)
			}
		}
	}
	return m
}

// Index returns the partition index of an InputRead message.
func (m Message) Index() int { return m.Worker }

// Iteration returns the iteration count of a Progress message.
func (m Message) Iteration() int64 { return m.Iter }

// Terminal tells whether the message is the last message a worker
// sends (Value or Error).
func (m Message) Terminal() bool {
	return m.Kind == Value || m.Kind == Error
}

// Failure returns the error carried by an Error message, or nil.
func (m Message) Failure() error {
	if m.Err == nil {
		return nil
	}
	return m.Err
}

func (m Message) String() string {
	switch m.Kind {
	case Progress:
		return fmt.Sprintf("%s(%d, %d)", m.Kind, m.Worker, m.Iter)
	case Error:
		if m.Err != nil {
			return fmt.Sprintf("%s(%d): %v", m.Kind, m.Worker, m.Err)
		}
	}
	return fmt.Sprintf("%s(%d)", m.Kind, m.Worker)
}

// A Queue is the sending end of a progress channel. Any number of
// producers may send on a queue; it is consumed by a single
// aggregator.
type Queue chan<- Message

// TrySend sends m on q without blocking. It reports whether the
// message was sent; a full queue drops the message.
func (q Queue) TrySend(m Message) bool {
	select {
	case q <- m:
		return true
	default:
		return false
	}
}
