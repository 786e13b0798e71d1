package stream

import (
	"context"

	"bdt/config"
	"bdt/errors"
	"bdt/protocol"
)

// connectAttempt is one candidate path in the establishment race: it
// either produces a Provider (the path reached PreEstablish) or fails.
// Connect runs every available attempt concurrently and takes whichever
// finishes first, cancelling the rest — the same "first connection
// wins, cancel context for the losers" shape as the teacher's parallel
// boost dial, generalized from a bare TCP race to BDT's four connector
// variants (direct package, direct TCP, reverse TCP, active builder).
type connectAttempt struct {
	name string
	run  func(ctx context.Context) (Provider, protocol.BuckyTime, error)
}

// ConnectAttempt is the exported name of connectAttempt, letting a
// caller outside this package (bdt/stack, which owns the tunnel dial
// logic each variant below wraps) assemble the slice Connect races over.
type ConnectAttempt = connectAttempt

type raceResult struct {
	name     string
	provider Provider
	remoteTs protocol.BuckyTime
	err      error
}

// Connect races attempts and establishes s with whichever reaches
// PreEstablish first (spec.md §4.6).
func Connect(s *Stream, attempts []connectAttempt) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.GlobalCfg.Stream.ConnectTimeout)
	defer cancel()

	results := make(chan raceResult, len(attempts))
	for _, a := range attempts {
		go func(a connectAttempt) {
			provider, remoteTs, err := a.run(ctx)
			results <- raceResult{name: a.name, provider: provider, remoteTs: remoteTs, err: err}
		}(a)
	}

	var firstErr error
	for i := 0; i < len(attempts); i++ {
		select {
		case r := <-results:
			if r.err == nil {
				cancel()
				s.establish(r.remoteTs, r.provider)
				return nil
			}
			if firstErr == nil {
				firstErr = r.err
			}
		case <-ctx.Done():
			s.CancelConnecting(errors.New(errors.Timeout, "stream connect timeout"))
			return errors.New(errors.Timeout, "stream connect timeout")
		}
	}
	if firstErr == nil {
		firstErr = errors.New(errors.NotFound, "no connector attempt available")
	}
	s.CancelConnecting(firstErr)
	return firstErr
}

// DirectPackageAttempt builds the "SessionData syn over the existing
// default UDP tunnel" connector variant: sendSyn transmits the syn once
// the attempt is raced, waitAck blocks for the matching ack.
func DirectPackageAttempt(sendSyn func() error, waitAck func(ctx context.Context) (protocol.BuckyTime, Provider, error)) connectAttempt {
	return connectAttempt{
		name: "direct-package",
		run: func(ctx context.Context) (Provider, protocol.BuckyTime, error) {
			if err := sendSyn(); err != nil {
				return nil, 0, err
			}
			remoteTs, provider, err := waitAck(ctx)
			if err != nil {
				return nil, 0, err
			}
			return provider, remoteTs, nil
		},
	}
}

// DirectTCPAttempt builds the "SessionData/TcpSynConnection over an
// existing framed TCP tunnel" connector variant.
func DirectTCPAttempt(dial func(ctx context.Context) (Provider, protocol.BuckyTime, error)) connectAttempt {
	return connectAttempt{name: "direct-tcp", run: dial}
}

// ReverseTCPAttempt builds the "peer dials us" connector variant: it
// blocks until the peer's reverse connection arrives or ctx is done.
func ReverseTCPAttempt(waitInbound func(ctx context.Context) (Provider, protocol.BuckyTime, error)) connectAttempt {
	return connectAttempt{name: "reverse-tcp", run: waitInbound}
}

// BuilderAttempt builds the "active builder launches fresh tunnel
// construction" connector variant.
func BuilderAttempt(build func(ctx context.Context) (Provider, protocol.BuckyTime, error)) connectAttempt {
	return connectAttempt{name: "builder", run: build}
}
