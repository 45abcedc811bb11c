// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package sshconsole exposes the operator console (internal/console)
// over SSH by wrapping charmbracelet/wish around the console's Bubble
// Tea model. It has no password/authorized-keys store: the listener
// is opt-in (empty by default, --console-ssh-listen) and expected to
// stay bound to loopback, so any client able to reach it is already
// as trusted as a local TTY user.
package sshconsole

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	bm "github.com/charmbracelet/wish/bubbletea"
	wishlog "github.com/charmbracelet/wish/logging"

	"github.com/insplane/insfleetd/internal/console"
	fwlog "github.com/insplane/insfleetd/internal/logging"
)

// Server wraps a Wish SSH server serving the console.Model to any
// session that connects.
type Server struct {
	srv     *ssh.Server
	addr    string
	console *console.Console
}

// NewServer builds a Wish server bound to addr, serving a fresh
// console.Model (over the shared console.Console) per SSH session.
// hostKeyPath follows wish's own default if empty (an ephemeral key
// under the process's working directory).
func NewServer(addr, hostKeyPath string, c *console.Console) (*Server, error) {
	srv := &Server{addr: addr, console: c}

	teaHandler := func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
		m := console.NewModel(c)
		return m, []tea.ProgramOption{tea.WithAltScreen()}
	}

	opts := []ssh.Option{
		wish.WithAddress(addr),
		wish.WithMiddleware(
			wishlog.MiddlewareWithLogger(wishAdapter{}),
			bm.Middleware(teaHandler),
		),
		// The listener is trusted-by-construction (loopback default,
		// explicit opt-in to bind elsewhere); any client that reaches
		// it is treated as an already-authenticated operator.
		wish.WithPublicKeyAuth(func(ctx ssh.Context, key ssh.PublicKey) bool { return true }),
	}
	if hostKeyPath != "" {
		opts = append(opts, wish.WithHostKeyPath(hostKeyPath))
	}

	ws, err := wish.NewServer(opts...)
	if err != nil {
		return nil, fmt.Errorf("sshconsole: build server: %w", err)
	}
	srv.srv = ws
	return srv, nil
}

// Start runs the server's accept loop in the background.
func (s *Server) Start(ctx context.Context) error {
	fwlog.Info("starting console ssh server", "addr", s.addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != ssh.ErrServerClosed {
			fwlog.Error("console ssh server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	fwlog.Info("stopping console ssh server")
	return s.srv.Shutdown(ctx)
}

// wishAdapter routes Wish's own connection-level logging through this
// codebase's leveled logger, at Debug to avoid spamming operators with
// routine connect/disconnect chatter.
type wishAdapter struct{}

func (wishAdapter) Printf(format string, args ...interface{}) {
	fwlog.Debug(fmt.Sprintf("[ssh-console] "+format, args...))
}

func (wishAdapter) Write(p []byte) (int, error) {
	fwlog.Debug("[ssh-console] " + string(p))
	return len(p), nil
}
