package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/pdp-relay/x/ingress"
	"github.com/compose-network/pdp-relay/x/tracker"
)

type recordingSender struct {
	bodies [][]byte
	reply  string
}

func (s *recordingSender) Send(_ context.Context, body []byte) (string, error) {
	s.bodies = append(s.bodies, body)
	return s.reply, nil
}

func (s *recordingSender) Close() error { return nil }

func TestProducer_WalkSendsParseableStages(t *testing.T) {
	sender := &recordingSender{reply: ingress.AckToken}
	p := NewProducer(sender, zerolog.Nop())

	require.NoError(t, p.Walk(context.Background(), "x.jpg", "abc:def", "51", time.Millisecond))
	require.Len(t, sender.bodies, 2)

	first, err := ingress.ParsePayload(sender.bodies[0])
	require.NoError(t, err)
	require.Equal(t, tracker.StageUploaded, first.Stage)
	_, hasProof := first.ProofSet()
	require.False(t, hasProof)

	second, err := ingress.ParsePayload(sender.bodies[1])
	require.NoError(t, err)
	require.Equal(t, tracker.StageRootsAdded, second.Stage)
	proof, ok := second.ProofSet()
	require.True(t, ok)
	require.Equal(t, "51", proof)
}

func TestProducer_UnexpectedReply(t *testing.T) {
	p := NewProducer(&recordingSender{reply: "NOPE"}, zerolog.Nop())
	err := p.Announce(context.Background(), StageChange{Stage: "UPLOADED", Data: StageData{File: "x", FileID: "a:b"}})
	require.ErrorContains(t, err, "unexpected reply")
}
