package business

import (
	"context"
	"time"

	"github.com/iscanabdulhalik/swappy-realtime/internal/telemetry"
	"github.com/pitabwire/util"
)

// closeFlushDelay is how long an error frame is given to flush before the
// connection is force closed.
const closeFlushDelay = 100 * time.Millisecond

// closeFunc is the single idempotent teardown path all failure and timeout
// paths funnel through.
type closeFunc func(ctx context.Context, conn *Connection, reason string)

// Authenticator drives the per connection handshake state machine:
// Connected → Authenticating → Authenticated | Rejected. Concurrent
// authenticate signals on one connection are deduplicated through the
// connection's pending attempt; exactly one verification runs and every
// caller observes the same outcome.
type Authenticator struct {
	verifier *CredentialVerifier
	registry *Registry
	closer   closeFunc

	authTimeout time.Duration
}

// NewAuthenticator creates an authenticator. closer must be the gateway's
// force close path so every teardown shares one set of cleanup invariants.
func NewAuthenticator(
	verifier *CredentialVerifier,
	registry *Registry,
	closer closeFunc,
	authTimeout time.Duration,
) *Authenticator {
	return &Authenticator{
		verifier:    verifier,
		registry:    registry,
		closer:      closer,
		authTimeout: authTimeout,
	}
}

// AuthTimeout returns the hard authentication deadline.
func (a *Authenticator) AuthTimeout() time.Duration { return a.authTimeout }

// StartDeadline arms the authentication deadline for a freshly accepted
// connection. If no authenticate signal arrives before it fires, the client
// gets a timeout error and is disconnected. The timer handler re-checks
// state under the lock, so a timer losing the race against an arriving
// authenticate signal degrades to a no-op.
func (a *Authenticator) StartDeadline(ctx context.Context, conn *Connection) {
	conn.authMu.Lock()
	conn.deadline = time.AfterFunc(a.authTimeout, func() {
		a.onDeadline(ctx, conn)
	})
	conn.authMu.Unlock()
}

func (a *Authenticator) onDeadline(ctx context.Context, conn *Connection) {
	conn.authMu.Lock()
	if conn.state != StateConnected {
		// Authentication started or finished while the timer was firing.
		conn.authMu.Unlock()
		return
	}
	conn.state = StateRejected
	conn.deadline = nil
	conn.authMu.Unlock()

	util.Log(ctx).WithFields(map[string]any{
		"conn_id":     conn.ID(),
		"remote_addr": conn.RemoteAddr(),
	}).Info("connection never authenticated, closing")

	telemetry.AuthTimedOutCounter.Add(ctx, 1)
	a.fail(ctx, conn, CodeAuthenticationTimeout)
}

// Authenticate processes an authenticate signal. The first signal on a
// connection runs verification; signals arriving while a verification is in
// flight await its result; signals on an already authenticated connection
// are acknowledged immediately without re-verification.
func (a *Authenticator) Authenticate(ctx context.Context, conn *Connection, credential string) error {
	conn.authMu.Lock()
	switch conn.state {
	case StateAuthenticated:
		conn.authMu.Unlock()
		a.acknowledge(conn)
		return nil

	case StateRejected:
		conn.authMu.Unlock()
		return nil

	case StateAuthenticating:
		attempt := conn.pending
		conn.authMu.Unlock()
		return a.await(ctx, conn, attempt)

	case StateConnected:
	}

	if conn.deadline != nil {
		conn.deadline.Stop()
		conn.deadline = nil
	}
	conn.state = StateAuthenticating
	attempt := newAuthAttempt()
	conn.pending = attempt
	conn.authMu.Unlock()

	identity, err := a.verifier.Verify(ctx, credential)
	if err != nil {
		conn.authMu.Lock()
		conn.state = StateRejected
		conn.authMu.Unlock()
		attempt.settle(nil, err)

		util.Log(ctx).WithError(err).WithFields(map[string]any{
			"conn_id":     conn.ID(),
			"remote_addr": conn.RemoteAddr(),
		}).Warn("credential verification failed")

		telemetry.AuthFailedCounter.Add(ctx, 1)
		a.fail(ctx, conn, clientAuthCode(err))
		return err
	}

	// Registration and the Authenticated transition are atomic from the
	// caller's perspective: waiters are only released once both are done.
	evicted, regErr := a.registry.Register(ctx, conn, identity)
	if regErr != nil {
		conn.authMu.Lock()
		conn.state = StateRejected
		conn.authMu.Unlock()
		attempt.settle(nil, regErr)

		util.Log(ctx).WithError(regErr).WithField("conn_id", conn.ID()).Error("connection registration failed")
		a.fail(ctx, conn, CodeAuthenticationFailed)
		return regErr
	}

	// Eviction is initiated before the new connection is acknowledged.
	if evicted != nil {
		telemetry.ConnectionsEvictedCounter.Add(ctx, 1)
		a.closer(ctx, evicted, CodeConnectionLimitExceeded)
	}

	conn.authMu.Lock()
	conn.state = StateAuthenticated
	conn.authMu.Unlock()
	attempt.settle(identity, nil)

	util.Log(ctx).WithFields(map[string]any{
		"conn_id": conn.ID(),
		"user_id": identity.ID,
	}).Info("connection authenticated")

	telemetry.AuthSucceededCounter.Add(ctx, 1)
	a.acknowledge(conn)
	return nil
}

// await blocks on an in flight attempt started by a concurrent signal and
// reports the same outcome to this caller.
func (a *Authenticator) await(ctx context.Context, conn *Connection, attempt *authAttempt) error {
	select {
	case <-attempt.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if attempt.err != nil {
		// The owner of the attempt already emitted the single error frame
		// and scheduled the close.
		return attempt.err
	}

	a.acknowledge(conn)
	return nil
}

// acknowledge emits the success frame. Safe to call repeatedly.
func (a *Authenticator) acknowledge(conn *Connection) {
	_ = conn.Emit(EventAuthenticated, map[string]any{
		"success":   true,
		"userId":    conn.UserID(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// fail emits exactly one error frame and force closes the connection after
// a short delay, long enough for the frame to flush.
func (a *Authenticator) fail(ctx context.Context, conn *Connection, code string) {
	_ = conn.Emit(EventError, map[string]any{
		"code":    code,
		"message": "authentication failed",
	})

	time.AfterFunc(closeFlushDelay, func() {
		a.closer(ctx, conn, code)
	})
}
