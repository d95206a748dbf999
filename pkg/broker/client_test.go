// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// fakeBroker accepts a single connection, ACKs CONNECT, and echoes any
// PUBLISH it receives back to the connection as a delivered message —
// just enough wire protocol to exercise Client's handshake, publish, and
// subscribe-delivery paths without a real broker.
func fakeBroker(t *testing.T) (addr string, publishes chan *packets.PublishPacket) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	publishes = make(chan *packets.PublishPacket, 16)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		pkt, err := packets.ReadPacket(conn)
		if err != nil {
			return
		}
		if _, ok := pkt.(*packets.ConnectPacket); !ok {
			return
		}
		ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
		ack.ReturnCode = packets.Accepted
		if err := ack.Write(conn); err != nil {
			return
		}

		for {
			pkt, err := packets.ReadPacket(conn)
			if err != nil {
				return
			}
			switch p := pkt.(type) {
			case *packets.PublishPacket:
				publishes <- p
				if p.Qos == 1 {
					puback := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
					puback.MessageID = p.MessageID
					puback.Write(conn)
				}
			case *packets.SubscribePacket:
				suback := packets.NewControlPacket(packets.Suback).(*packets.SubackPacket)
				suback.MessageID = p.MessageID
				suback.ReturnCodes = make([]byte, len(p.Topics))
				suback.Write(conn)
			case *packets.PingreqPacket:
				resp := packets.NewControlPacket(packets.Pingresp).(*packets.PingrespPacket)
				resp.Write(conn)
			}
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String(), publishes
}

func TestClientPublishRoundTrip(t *testing.T) {
	addr, publishes := fakeBroker(t)

	c := New(Config{
		Role:      RolePublisher,
		Transport: TransportConfig{Kind: TransportTCP, Address: addr},
		ClientID:  "test-publisher",
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for !c.Connected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !c.Connected() {
		t.Fatal("client never reached Connected state")
	}

	if err := c.Publish("devices/temp", []byte(`{"v":1}`), 1, false); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case p := <-publishes:
		if p.TopicName != "devices/temp" {
			t.Fatalf("got topic %q, want devices/temp", p.TopicName)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broker to observe the publish")
	}
}

func TestPublishOnSubscriberRoleFails(t *testing.T) {
	c := New(Config{Role: RoleSubscriber, Transport: TransportConfig{Kind: TransportTCP, Address: "127.0.0.1:0"}})
	if err := c.Publish("a/b", nil, 0, false); err == nil {
		t.Fatal("expected Publish on a subscriber-role client to fail")
	}
}

func TestSubscribeOnPublisherRoleFails(t *testing.T) {
	c := New(Config{Role: RolePublisher, Transport: TransportConfig{Kind: TransportTCP, Address: "127.0.0.1:0"}})
	if err := c.Subscribe("a/b", 0); err == nil {
		t.Fatal("expected Subscribe on a publisher-role client to fail")
	}
}

func TestPublishFailsFastWhenQueueSaturated(t *testing.T) {
	c := New(Config{
		Role:          RolePublisher,
		Transport:     TransportConfig{Kind: TransportTCP, Address: "127.0.0.1:1"}, // unroutable, never connects
		QueueCapacity: 1,
	})
	c.connected.Store(true) // simulate a connected client without dialing

	// Fill the queue with one in-flight request that nobody drains.
	c.publishCh <- &publishRequest{result: make(chan error, 1)}

	err := c.Publish("a/b", []byte("x"), 0, false)
	if err == nil {
		t.Fatal("expected an error once the outgoing queue is saturated")
	}
}

func TestStateStringCoversAllStates(t *testing.T) {
	for s := StateDisconnected; s <= StateReconnecting; s++ {
		if got := s.String(); got == "unknown" {
			t.Errorf("State(%d).String() = unknown, want a named state", s)
		}
	}
}
