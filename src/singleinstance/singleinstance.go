// Package singleinstance lets a second invocation hand its command to the
// resident process over TCP loopback.
//
// Protocol, one line per request:
//
//	PING\n             -> PONG\n
//	<command>\n        -> SUCCESS\n<text> | ERROR\n<message>
package singleinstance

import (
	"context"
)

// Server owns the TCP endpoint and answers delegated commands.
type Server interface {
	// Start binds the first port of the configured range and accepts clients.
	Start(ctx context.Context) error
	// Port returns the bound TCP port, or 0 if not started.
	Port() int
	// Next returns the next delegated command, or the ctx error.
	Next(ctx context.Context) (Conn, error)
	// Close releases ownership and stops accepting clients.
	Close() error
}

// Conn is one delegated command awaiting its reply.
type Conn interface {
	Request() Request
	RespondSuccess(text string) error
	RespondError(msg string) error
	Close() error
}

// Request is a command sent by a client.
type Request struct {
	Command string
}

// Client delegates commands to a resident server.
type Client interface {
	// Send scans the port range for a resident and delivers command to it.
	// With no resident it returns delegated=false, err=nil.
	Send(ctx context.Context, command string) (delegated bool, text string, err error)
}

func NewServer() Server { return newTCPServer() }

func NewClient() Client { return &tcpClient{} }
