// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package websocket adapts a gorilla/websocket connection to net.Conn.
//
// BrokerClient's transport layer dials brokers over plain TCP, TLS, or
// WebSocket; Conn lets the same MQTT read/write loop run unmodified over
// a WebSocket connection by presenting it as an ordinary net.Conn, with
// each WebSocket binary message treated as a chunk of the underlying
// MQTT byte stream.
package websocket
