// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Spoorlab

package cmd

import (
	"errors"
	"testing"
)

func TestOpenConnectionRequiresEndpoint(t *testing.T) {
	savedPort, savedURL := portName, wsURL
	portName, wsURL = "", ""
	defer func() { portName, wsURL = savedPort, savedURL }()

	conn, desc, err := OpenConnection()
	if conn != nil {
		t.Fatal("expected no connection without an endpoint")
	}
	if desc != "" {
		t.Fatalf("description = %q, want empty", desc)
	}
	if !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("error = %v, want ErrNoEndpoint", err)
	}
}

func TestOpenWebSocketConnectionRejectsBadScheme(t *testing.T) {
	if _, err := OpenWebSocketConnection("http://station.local/ws", "", "", false); err == nil {
		t.Fatal("expected error for non-WebSocket URL scheme")
	}
}

func TestWebSocketConnectionReadAfterClose(t *testing.T) {
	w := &WebSocketConnection{closed: true}
	if _, err := w.Read(make([]byte, 8)); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("error = %v, want ErrConnectionClosed", err)
	}
}

func TestGetPasswordFromEnvironment(t *testing.T) {
	t.Setenv("DCCSTATION_PASSWORD", "s3cret")
	pw, err := GetPassword()
	if err != nil {
		t.Fatalf("GetPassword: %v", err)
	}
	if pw != "s3cret" {
		t.Fatalf("password = %q, want %q", pw, "s3cret")
	}
}
