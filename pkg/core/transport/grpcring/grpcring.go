// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package grpcring implements transport.Transport over gRPC, for groups where every rank is a separate process.
//
// Each rank serves the ringmm.Ring service on its own address and sends messages with one unary Deliver call
// per message. A send completes when the destination rank queued the message (eager protocol).
// Messages carry the job id, and ranks reject messages of other jobs.
package grpcring

import (
	"context"
	"math"
	"net"
	"sync"

	"github.com/gomlx/ringmm/pkg/core/transport"
	"github.com/gomlx/ringmm/pkg/support/xsync"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// DefaultMaxMessageBytes is the default limit on the size of one message.
const DefaultMaxMessageBytes = math.MaxInt32

// Config of a gRPC transport.
type Config struct {
	// Rank of this process.
	Rank int

	// Peers holds the address ("host:port") of every rank, indexed by rank.
	Peers []string

	// JobID identifies the job: messages with a different job id are rejected.
	JobID string

	// Listener, if set, is used to serve instead of listening on Peers[Rank].
	Listener net.Listener

	// MaxMessageBytes limits the size of one message. Defaults to DefaultMaxMessageBytes.
	MaxMessageBytes int

	// DialOptions are appended to the default options when connecting to peers.
	DialOptions []grpc.DialOption
}

// Transport is a transport.Transport over gRPC.
type Transport struct {
	cfg     Config
	mailbox *transport.Mailbox
	server  *grpc.Server

	mu     sync.Mutex
	conns  map[int]*grpc.ClientConn
	closed bool

	serveDone *xsync.Latch
	serveErr  error
}

var _ transport.Transport = (*Transport)(nil)

// New validates the configuration, starts serving and returns the transport.
// Connections to peers are established lazily.
func New(cfg Config) (*Transport, error) {
	if len(cfg.Peers) == 0 {
		return nil, errors.New("grpcring: no peers configured")
	}
	if cfg.Rank < 0 || cfg.Rank >= len(cfg.Peers) {
		return nil, errors.Errorf("grpcring: rank %d out of range for %d peers", cfg.Rank, len(cfg.Peers))
	}
	if cfg.JobID == "" {
		return nil, errors.New("grpcring: job id must be set")
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	listener := cfg.Listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", cfg.Peers[cfg.Rank])
		if err != nil {
			return nil, errors.Wrapf(err, "grpcring: rank %d failed to listen on %q", cfg.Rank, cfg.Peers[cfg.Rank])
		}
	}

	t := &Transport{
		cfg:       cfg,
		mailbox:   transport.NewMailbox(cfg.Rank),
		conns:     make(map[int]*grpc.ClientConn),
		serveDone: xsync.NewLatch(),
	}
	t.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxMessageBytes),
		grpc.MaxSendMsgSize(cfg.MaxMessageBytes),
	)
	t.server.RegisterService(&ringServiceDesc, t)
	go func() {
		t.serveErr = t.server.Serve(listener)
		t.serveDone.Trigger()
	}()
	klog.V(1).Infof("grpcring: rank %d of %d serving on %s (job %s)",
		cfg.Rank, len(cfg.Peers), listener.Addr(), cfg.JobID)
	return t, nil
}

// Rank implements transport.Transport.
func (t *Transport) Rank() int { return t.cfg.Rank }

// Size implements transport.Transport.
func (t *Transport) Size() int { return len(t.cfg.Peers) }

// Deliver implements the ringmm.Ring service.
func (t *Transport) Deliver(_ context.Context, msg *block) (*ack, error) {
	if msg.JobID != t.cfg.JobID {
		return nil, status.Errorf(codes.PermissionDenied, "rank %d serves job %q, message is for job %q",
			t.cfg.Rank, t.cfg.JobID, msg.JobID)
	}
	if msg.Source < 0 || msg.Source >= len(t.cfg.Peers) {
		return nil, status.Errorf(codes.InvalidArgument, "invalid source rank %d", msg.Source)
	}
	t.mailbox.Deliver(msg.Source, msg.Tag, msg.Data, nil)
	return &ack{}, nil
}

// conn returns the (lazily created) connection to the given rank.
func (t *Transport) conn(to int) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	if c, found := t.conns[to]; found {
		return c, nil
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallSendMsgSize(t.cfg.MaxMessageBytes),
			grpc.MaxCallRecvMsgSize(t.cfg.MaxMessageBytes),
		),
	}, t.cfg.DialOptions...)
	c, err := grpc.NewClient(t.cfg.Peers[to], opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "grpcring: rank %d failed to create client for rank %d at %q",
			t.cfg.Rank, to, t.cfg.Peers[to])
	}
	t.conns[to] = c
	return c, nil
}

// Isend implements transport.Transport. The data is marshaled before the send completes, after which it can be reused.
func (t *Transport) Isend(ctx context.Context, to int, tag transport.Tag, data []float64) *transport.Request {
	req := xsync.NewLatchWithValue[transport.Status]()
	if to < 0 || to >= len(t.cfg.Peers) {
		req.Trigger(transport.Status{Source: t.cfg.Rank, Err: errors.Errorf("grpcring: invalid destination rank %d", to)})
		return req
	}
	c, err := t.conn(to)
	if err != nil {
		req.Trigger(transport.Status{Source: t.cfg.Rank, Err: err})
		return req
	}
	msg := &block{JobID: t.cfg.JobID, Source: t.cfg.Rank, Tag: tag, Data: data}
	go func() {
		// WaitForReady tolerates peers that haven't started serving yet: the wait is bounded by ctx and
		// by the caller's timeout.
		err := c.Invoke(ctx, deliverMethod, msg, &ack{}, grpc.WaitForReady(true))
		if err != nil {
			err = errors.Wrapf(err, "grpcring: rank %d failed to send %s to rank %d", t.cfg.Rank, tag, to)
		}
		req.Trigger(transport.Status{Source: t.cfg.Rank, Err: err})
	}()
	return req
}

// Irecv implements transport.Transport.
func (t *Transport) Irecv(_ context.Context, source int, tag transport.Tag, dst []float64) *transport.Request {
	return t.mailbox.Post(source, tag, dst)
}

// Close implements transport.Transport: it stops serving, closes the connections and fails pending requests.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := t.conns
	t.conns = nil
	t.mu.Unlock()

	t.server.Stop()
	t.serveDone.Wait()
	var firstErr error
	for rank, c := range conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "grpcring: closing connection to rank %d", rank)
		}
	}
	t.mailbox.Close()
	if t.serveErr != nil && !errors.Is(t.serveErr, grpc.ErrServerStopped) && firstErr == nil {
		firstErr = errors.Wrap(t.serveErr, "grpcring: serving")
	}
	return firstErr
}
