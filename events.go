// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldmatrix

import (
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

type eventMessage struct {
	Status     int
	ObjectUUID string `json:"object_uuid"`
	EventType  string `json:"event_type"`
	Properties struct {
		Text string
	}
}

var watchedEventTypes = []string{"stderr", "crunch-run", "crunchstat", "update"}

// eventStream delivers Arvados websocket events for a set of object
// UUIDs to subscribed channels, reconnecting as needed.
type eventStream struct {
	client    *arvados.Client
	log       logrus.FieldLogger
	dial      func() (*websocket.Conn, error)
	notifying map[string]map[chan<- eventMessage]int
	wantClose chan struct{}
	wsconn    *websocket.Conn
	mtx       sync.Mutex
}

func newEventStream(client *arvados.Client, logger logrus.FieldLogger) *eventStream {
	es := &eventStream{client: client, log: logger}
	es.dial = es.dialController
	return es
}

func (es *eventStream) send(method, uuid string) {
	conn := es.wsconn
	if conn == nil {
		return
	}
	go json.NewEncoder(conn).Encode(map[string]interface{}{
		"method": method,
		"filters": [][]interface{}{
			{"object_uuid", "=", uuid},
			{"event_type", "in", watchedEventTypes},
		},
	})
}

// Subscribe arranges for events about uuid to be sent to ch. Each
// Subscribe call needs a matching Unsubscribe.
func (es *eventStream) Subscribe(ch chan<- eventMessage, uuid string) {
	es.mtx.Lock()
	defer es.mtx.Unlock()
	if es.notifying == nil {
		es.notifying = map[string]map[chan<- eventMessage]int{}
		es.wantClose = make(chan struct{})
		go es.run(es.wantClose)
	}
	chmap := es.notifying[uuid]
	if chmap == nil {
		chmap = map[chan<- eventMessage]int{}
		es.notifying[uuid] = chmap
	}
	if len(chmap) == 0 {
		es.send("subscribe", uuid)
	}
	chmap[ch]++
}

func (es *eventStream) Unsubscribe(ch chan<- eventMessage, uuid string) {
	es.mtx.Lock()
	defer es.mtx.Unlock()
	chmap := es.notifying[uuid]
	if n := chmap[ch] - 1; n > 0 {
		chmap[ch] = n
		return
	}
	delete(chmap, ch)
	if len(chmap) == 0 {
		delete(es.notifying, uuid)
		es.send("unsubscribe", uuid)
	}
}

// Close stops delivering events and disconnects, interrupting any
// read in progress.
func (es *eventStream) Close() {
	es.mtx.Lock()
	defer es.mtx.Unlock()
	if es.notifying != nil {
		es.notifying = nil
		close(es.wantClose)
		if es.wsconn != nil {
			es.wsconn.Close()
			es.wsconn = nil
		}
	}
}

// dialController connects to the websocket service advertised in
// the cluster config.
func (es *eventStream) dialController() (*websocket.Conn, error) {
	var cluster arvados.Cluster
	err := es.client.RequestAndDecode(&cluster, "GET", arvados.EndpointConfigGet.Path, nil, nil)
	if err != nil {
		return nil, err
	}
	wsURL := cluster.Services.Websocket.ExternalURL
	wsURL.Scheme = strings.Replace(wsURL.Scheme, "http", "ws", 1)
	wsURL.Path = "/websocket"
	wsURL.RawQuery = url.Values{"api_token": []string{es.client.AuthToken}}.Encode()
	conn, err := websocket.Dial(wsURL.String(), "", cluster.Services.Controller.ExternalURL.String())
	if err != nil {
		return nil, err
	}
	wsURL.RawQuery = ""
	es.log.Infof("connected to websocket at %s", wsURL.String())
	return conn, nil
}

func (es *eventStream) run(wantClose <-chan struct{}) {
	for {
		conn, err := es.dial()
		if err != nil {
			es.log.Warnf("websocket connection error: %s", err)
			select {
			case <-wantClose:
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		es.mtx.Lock()
		select {
		case <-wantClose:
			es.mtx.Unlock()
			conn.Close()
			return
		default:
		}
		es.wsconn = conn
		for uuid := range es.notifying {
			es.send("subscribe", uuid)
		}
		es.mtx.Unlock()

		if closed := es.receive(conn, wantClose); closed {
			return
		}
		es.mtx.Lock()
		es.wsconn = nil
		es.mtx.Unlock()
		go conn.Close()
	}
}

// receive dispatches events from conn until it fails (returning
// false) or Close is called (returning true).
func (es *eventStream) receive(conn *websocket.Conn, wantClose <-chan struct{}) bool {
	dec := json.NewDecoder(conn)
	for {
		var msg eventMessage
		err := dec.Decode(&msg)
		select {
		case <-wantClose:
			return true
		default:
		}
		if err != nil {
			es.log.Printf("error decoding websocket message: %s", err)
			return false
		}
		es.mtx.Lock()
		for ch := range es.notifying[msg.ObjectUUID] {
			ch := ch
			go func() { ch <- msg }()
		}
		es.mtx.Unlock()
	}
}
