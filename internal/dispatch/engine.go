// Package dispatch implements the bulk mail dispatch engine: it turns one
// template plus an ordered recipient list into one personalized message per
// recipient, sent sequentially over a single relay session with a bounded
// reconnect-and-retry policy and randomized inter-send pacing.
package dispatch

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"strings"
	"time"
)

// Pacing window applied after each successful send while more recipients
// remain. Relays rate-limit bursty senders; the random spread keeps the
// traffic pattern irregular.
const (
	paceFloor  = 8 * time.Second
	paceJitter = 7 * time.Second
)

// ConnectError is a job-level failure to open the initial relay session.
// It aborts the whole job before any per-recipient outcome is produced.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return "relay session could not be opened: " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// RelayFactory builds the Relay for one job's credentials. The endpoint is
// fixed; only credentials vary per job.
type RelayFactory func(creds Credentials) Relay

// Engine processes dispatch jobs. One Run call owns one relay session for
// the job's entire duration; concurrent jobs open independent sessions.
type Engine struct {
	relays RelayFactory

	// Sleep and Pace control inter-send pacing and may be replaced in
	// tests. Pace returns the delay applied after a successful send.
	Sleep func(d time.Duration)
	Pace  func() time.Duration
}

// NewEngine creates an engine with the default 8-15s pacing policy.
func NewEngine(relays RelayFactory) *Engine {
	return &Engine{
		relays: relays,
		Sleep:  time.Sleep,
		Pace: func() time.Duration {
			return paceFloor + time.Duration(rand.Int63n(int64(paceJitter)))
		},
	}
}

// Per-recipient states. Every terminal state maps to exactly one outcome
// status, which keeps each failure mode enumerable and testable.
type recipientState int

const (
	statePending recipientState = iota
	stateRendering
	stateSending
	stateReconnecting
	stateResending
	stateSent
	stateSentAfterReconnect
	stateFailed
	stateSkippedMissingEmail
)

// Run executes one job: validates preconditions, opens one relay session,
// processes recipients strictly in input order and returns the ordered
// outcomes plus the sent count.
//
// Failure policy: a precondition or initial-connect failure aborts the job
// with zero outcomes. A per-recipient send failure triggers exactly one
// reconnect-and-resend; a second failure records a "failed" outcome with the
// second error's text and the job continues. Pacing is applied only after
// successful sends (including post-reconnect successes), never after a
// skip, a terminal failure, or the last recipient.
//
// ctx is checked between recipients; on cancellation Run returns the partial
// result alongside ctx's error.
func (e *Engine) Run(ctx context.Context, job *Job) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	relay := e.relays(job.Credentials)
	session, err := relay.Open()
	if err != nil {
		return nil, &ConnectError{Err: err}
	}
	defer func() {
		if session != nil {
			session.Close()
		}
	}()

	// Probe signal only; a failed probe does not gate processing.
	if err := relay.Verify(); err != nil {
		log.Printf("[dispatch] relay probe failed, continuing: %v", err)
	} else {
		log.Printf("[dispatch] connected to relay as %s (%d recipients)", job.Credentials.User, len(job.Recipients))
	}

	result := &Result{Outcomes: make([]Outcome, 0, len(job.Recipients))}
	for i := range job.Recipients {
		if err := ctx.Err(); err != nil {
			log.Printf("[dispatch] job canceled after %d of %d recipients", i, len(job.Recipients))
			return result, err
		}

		outcome, fresh := e.dispatchOne(relay, session, job, job.Recipients[i])
		session = fresh
		result.Outcomes = append(result.Outcomes, outcome)

		switch outcome.Status {
		case StatusSent, StatusSentAfterReconnect:
			result.SentCount++
			if i < len(job.Recipients)-1 {
				e.Sleep(e.Pace())
			}
		}
	}
	return result, nil
}

// dispatchOne walks a single recipient through the state machine and returns
// its terminal outcome. The returned session replaces the caller's when a
// reconnect produced a fresh one (or nil when reconnection failed; the next
// recipient then gets its own open attempt via the send path).
func (e *Engine) dispatchOne(relay Relay, session Session, job *Job, rcpt Recipient) (Outcome, Session) {
	var (
		state   = statePending
		msg     *Message
		sendErr error
	)
	for {
		switch state {
		case statePending:
			if strings.TrimSpace(rcpt.Email) == "" {
				state = stateSkippedMissingEmail
			} else {
				state = stateRendering
			}

		case stateRendering:
			msg = &Message{
				From:    job.Credentials.User,
				To:      rcpt.Email,
				BCC:     job.BCC,
				Subject: job.Subject,
				HTML:    Render(job.Template, rcpt),
			}
			state = stateSending

		case stateSending:
			if session == nil {
				sendErr = errors.New("relay session is not open")
				state = stateReconnecting
				break
			}
			if sendErr = session.Send(msg); sendErr != nil {
				state = stateReconnecting
			} else {
				state = stateSent
			}

		case stateReconnecting:
			log.Printf("[dispatch] send to %s failed: %v; reconnecting", rcpt.Email, sendErr)
			if session != nil {
				session.Close()
			}
			fresh, err := relay.Open()
			if err != nil {
				session = nil
				sendErr = err
				state = stateFailed
				break
			}
			session = fresh
			state = stateResending

		case stateResending:
			if sendErr = session.Send(msg); sendErr != nil {
				state = stateFailed
			} else {
				state = stateSentAfterReconnect
			}

		case stateSent:
			log.Printf("[dispatch] sent to %s", rcpt.Email)
			return Outcome{Email: rcpt.Email, Status: StatusSent}, session

		case stateSentAfterReconnect:
			log.Printf("[dispatch] sent to %s after reconnect", rcpt.Email)
			return Outcome{Email: rcpt.Email, Status: StatusSentAfterReconnect}, session

		case stateFailed:
			log.Printf("[dispatch] giving up on %s: %v", rcpt.Email, sendErr)
			return Outcome{Email: rcpt.Email, Status: StatusFailed, Error: sendErr.Error()}, session

		case stateSkippedMissingEmail:
			log.Printf("[dispatch] skipping recipient with missing email")
			return Outcome{Email: rcpt.Email, Status: StatusSkippedMissingEmail}, session
		}
	}
}
