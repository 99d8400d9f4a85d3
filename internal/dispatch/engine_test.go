package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession records sends and fails according to a per-call error script.
type fakeSession struct {
	sends  []*Message
	script []error
	closed bool
}

func (s *fakeSession) Send(m *Message) error {
	s.sends = append(s.sends, m)
	if len(s.script) > 0 {
		err := s.script[0]
		s.script = s.script[1:]
		return err
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// fakeRelay hands out scripted sessions on successive Open calls.
type fakeRelay struct {
	sessions []*fakeSession
	openErrs []error
	opens    int
	verifies int
}

func (r *fakeRelay) Open() (Session, error) {
	idx := r.opens
	r.opens++
	if idx < len(r.openErrs) && r.openErrs[idx] != nil {
		return nil, r.openErrs[idx]
	}
	if idx < len(r.sessions) {
		return r.sessions[idx], nil
	}
	s := &fakeSession{}
	r.sessions = append(r.sessions, s)
	return s, nil
}

func (r *fakeRelay) Verify() error {
	r.verifies++
	return nil
}

func newTestEngine(relay Relay) (*Engine, *[]time.Duration) {
	e := NewEngine(func(Credentials) Relay { return relay })
	slept := &[]time.Duration{}
	e.Pace = func() time.Duration { return 10 * time.Second }
	e.Sleep = func(d time.Duration) { *slept = append(*slept, d) }
	return e, slept
}

func testJob(recipients []Recipient) *Job {
	return &Job{
		Credentials: Credentials{User: "ops@example.com", Pass: "hunter2"},
		Template:    "Hi {name} at {company}, this is for {email}.",
		Subject:     "Quarterly update",
		Recipients:  recipients,
	}
}

func TestRunHealthyRelay(t *testing.T) {
	relay := &fakeRelay{}
	engine, slept := newTestEngine(relay)

	job := testJob([]Recipient{
		{Email: "a@x.com", Name: "Ann", Company: "Acme"},
		{Email: "", Name: "Bad"},
		{Email: "b@x.com", Name: "Bob", Company: "Beta"},
	})

	res, err := engine.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 3)

	assert.Equal(t, Outcome{Email: "a@x.com", Status: StatusSent}, res.Outcomes[0])
	assert.Equal(t, StatusSkippedMissingEmail, res.Outcomes[1].Status)
	assert.Equal(t, Outcome{Email: "b@x.com", Status: StatusSent}, res.Outcomes[2])
	assert.Equal(t, 2, res.SentCount)

	// Messages are personalized per recipient and sent in input order over
	// the one session.
	sess := relay.sessions[0]
	require.Len(t, sess.sends, 2)
	assert.Equal(t, "a@x.com", sess.sends[0].To)
	assert.Equal(t, "Hi Ann at Acme, this is for a@x.com.", sess.sends[0].HTML)
	assert.Equal(t, "Hi Bob at Beta, this is for b@x.com.", sess.sends[1].HTML)
	assert.Equal(t, "Quarterly update", sess.sends[0].Subject)
	assert.Equal(t, "ops@example.com", sess.sends[0].From)

	// Exactly one pacing delay: after the first success. None after the
	// skip, none after the final recipient.
	assert.Equal(t, []time.Duration{10 * time.Second}, *slept)
	assert.Equal(t, 1, relay.opens)
	assert.Equal(t, 1, relay.verifies)
	assert.True(t, sess.closed)
}

func TestRunSkipsConsumeNoRelayCallsAndNoDelay(t *testing.T) {
	relay := &fakeRelay{}
	engine, slept := newTestEngine(relay)

	job := testJob([]Recipient{{Email: ""}, {Email: "   "}, {Email: ""}})

	res, err := engine.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 3)
	for _, o := range res.Outcomes {
		assert.Equal(t, StatusSkippedMissingEmail, o.Status)
	}
	assert.Equal(t, 0, res.SentCount)
	assert.Empty(t, relay.sessions[0].sends)
	assert.Empty(t, *slept)
}

func TestRunReconnectRetrySucceeds(t *testing.T) {
	first := &fakeSession{script: []error{errors.New("454 connection dropped")}}
	relay := &fakeRelay{sessions: []*fakeSession{first}}
	engine, slept := newTestEngine(relay)

	job := testJob([]Recipient{{Email: "a@x.com", Name: "Ann"}})

	res, err := engine.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, Outcome{Email: "a@x.com", Status: StatusSentAfterReconnect}, res.Outcomes[0])
	assert.Equal(t, 1, res.SentCount)

	// One attempt on the broken session, one on the fresh one, no third.
	assert.Equal(t, 2, relay.opens)
	assert.Len(t, first.sends, 1)
	assert.True(t, first.closed)
	assert.Len(t, relay.sessions[1].sends, 1)

	// Last recipient: no pacing delay even after a successful retry.
	assert.Empty(t, *slept)
}

func TestRunReconnectRetryFailsRecordsSecondError(t *testing.T) {
	first := &fakeSession{script: []error{errors.New("first error")}}
	second := &fakeSession{script: []error{errors.New("second error")}}
	relay := &fakeRelay{sessions: []*fakeSession{first, second}}
	engine, slept := newTestEngine(relay)

	job := testJob([]Recipient{
		{Email: "a@x.com"},
		{Email: "b@x.com"},
	})

	res, err := engine.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 2)

	assert.Equal(t, StatusFailed, res.Outcomes[0].Status)
	assert.Equal(t, "second error", res.Outcomes[0].Error)
	assert.Len(t, first.sends, 1)
	assert.Len(t, second.sends, 2) // failed retry for a@, then b@ goes through

	// The job continues on the reconnected session and the failure itself
	// is not paced.
	assert.Equal(t, Outcome{Email: "b@x.com", Status: StatusSent}, res.Outcomes[1])
	assert.Equal(t, 1, res.SentCount)
	assert.Empty(t, *slept)
}

func TestRunReconnectOpenFailure(t *testing.T) {
	first := &fakeSession{script: []error{errors.New("send blew up")}}
	relay := &fakeRelay{
		sessions: []*fakeSession{first},
		openErrs: []error{nil, errors.New("535 auth rejected")},
	}
	engine, _ := newTestEngine(relay)

	job := testJob([]Recipient{
		{Email: "a@x.com"},
		{Email: "b@x.com"},
	})

	res, err := engine.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 2)

	// Reestablish failed, so the recipient fails with the reconnect error.
	assert.Equal(t, StatusFailed, res.Outcomes[0].Status)
	assert.Equal(t, "535 auth rejected", res.Outcomes[0].Error)

	// The next recipient gets its own reconnect attempt rather than
	// aborting the job.
	assert.Equal(t, StatusSentAfterReconnect, res.Outcomes[1].Status)
	assert.Equal(t, 3, relay.opens)
}

func TestRunFatalConnectProducesNoOutcomes(t *testing.T) {
	relay := &fakeRelay{openErrs: []error{errors.New("535 5.7.3 authentication unsuccessful")}}
	engine, slept := newTestEngine(relay)

	job := testJob([]Recipient{{Email: "a@x.com"}})

	res, err := engine.Run(context.Background(), job)
	assert.Nil(t, res)

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Contains(t, connErr.Error(), "authentication unsuccessful")
	assert.Empty(t, *slept)
}

func TestRunPreconditionsRejectedBeforeRelay(t *testing.T) {
	relay := &fakeRelay{}
	engine, _ := newTestEngine(relay)

	cases := []struct {
		name string
		job  *Job
		want error
	}{
		{"missing credentials", &Job{Template: "x", Recipients: []Recipient{}}, ErrMissingCredentials},
		{"missing recipients", &Job{Credentials: Credentials{User: "u", Pass: "p"}, Template: "x"}, ErrMissingRecipients},
		{"missing template", &Job{Credentials: Credentials{User: "u", Pass: "p"}, Recipients: []Recipient{}}, ErrMissingTemplate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := engine.Run(context.Background(), tc.job)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, 0, relay.opens)
}

func TestRunCancellationBetweenRecipients(t *testing.T) {
	relay := &fakeRelay{}
	engine, _ := newTestEngine(relay)

	ctx, cancel := context.WithCancel(context.Background())
	engine.Sleep = func(time.Duration) { cancel() }

	job := testJob([]Recipient{
		{Email: "a@x.com"},
		{Email: "b@x.com"},
		{Email: "c@x.com"},
	})

	res, err := engine.Run(ctx, job)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, StatusSent, res.Outcomes[0].Status)
}

func TestDefaultPaceStaysInWindow(t *testing.T) {
	engine := NewEngine(func(Credentials) Relay { return &fakeRelay{} })
	for i := 0; i < 500; i++ {
		d := engine.Pace()
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.Less(t, d, 15*time.Second)
	}
}
