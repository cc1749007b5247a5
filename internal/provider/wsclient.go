package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rpcobserver/internal/jsonrpc"
)

const (
	defaultWSReadTimeout = 60 * time.Second
	minReconnectInterval = time.Second
	wsHandshakeTimeout   = 10 * time.Second
	wsEventQueueSize     = 1024
)

var errConnectionClosed = errors.New("connection closed")

// wsSubscription is a push subscription that survives reconnects. Its local
// ID stays stable while the node-assigned ID changes on every resubscribe.
type wsSubscription struct {
	localID   string
	remoteID  string
	subType   string
	params    any
	onEvent   func(json.RawMessage)
	abandoned bool
}

// pendingCall is a request waiting for its response. onResponse runs on the
// reader goroutine before any later message is read.
type pendingCall struct {
	ch         chan *jsonrpc.Response
	onResponse func(*jsonrpc.Response)
}

// WSEndpoint owns a single WebSocket connection to a node.
// It multiplexes request/response traffic and eth_subscribe events on one connection.
type WSEndpoint struct {
	name              string
	url               string
	messageTimeout    time.Duration
	reconnectInterval time.Duration
	pingInterval      time.Duration
	logger            zerolog.Logger

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	pending   map[int64]*pendingCall
	pendingMu sync.Mutex
	reqID     atomic.Int64

	subs      map[string]*wsSubscription
	remoteIDs map[string]string
	subMu     sync.Mutex
	nextSubID atomic.Uint64

	events chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWSEndpoint creates an unconnected WSEndpoint
func NewWSEndpoint(cfg EndpointConfig, logger zerolog.Logger) *WSEndpoint {
	ctx, cancel := context.WithCancel(context.Background())
	readTimeout := cfg.WSMessageTimeout
	if readTimeout <= 0 {
		readTimeout = defaultWSReadTimeout
	}
	return &WSEndpoint{
		name:              cfg.Name,
		url:               cfg.URL,
		messageTimeout:    readTimeout,
		reconnectInterval: cfg.WSReconnectInterval,
		pingInterval:      cfg.WSPingInterval,
		logger:            logger.With().Str("endpoint", cfg.Name).Logger(),
		pending:           make(map[int64]*pendingCall),
		subs:              make(map[string]*wsSubscription),
		remoteIDs:         make(map[string]string),
		events:            make(chan []byte, wsEventQueueSize),
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Name returns the endpoint name
func (e *WSEndpoint) Name() string {
	return e.name
}

// Connect dials the node and starts the reader, dispatcher and ping loops
func (e *WSEndpoint) Connect(ctx context.Context) error {
	if e.Connected() {
		return nil
	}

	e.logger.Info().Msg("WebSocket connecting")
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, e.url, nil)
	if err != nil {
		return &TransportError{Endpoint: e.name, Err: fmt.Errorf("failed to connect WebSocket: %w", err)}
	}

	if !e.setConn(conn) {
		return &TransportError{Endpoint: e.name, Err: ErrNotConnected}
	}
	e.logger.Info().Msg("WebSocket connected")

	e.wg.Add(2)
	go e.dispatchLoop()
	go e.readLoop()
	if e.pingInterval > 0 {
		e.wg.Add(1)
		go e.pingLoop()
	}
	return nil
}

// Connected returns true if the WebSocket connection is established
func (e *WSEndpoint) Connected() bool {
	return e.currentConn() != nil
}

func (e *WSEndpoint) currentConn() *websocket.Conn {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	return e.conn
}

// setConn installs conn unless the endpoint was closed, in which case conn is
// closed and false is returned
func (e *WSEndpoint) setConn(conn *websocket.Conn) bool {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(e.messageTimeout))
	})
	e.connMu.Lock()
	defer e.connMu.Unlock()
	// Close cancels before taking connMu
	if e.ctx.Err() != nil {
		conn.Close()
		return false
	}
	e.conn = conn
	return true
}

// Perform sends a JSON-RPC request and waits for the matching response
func (e *WSEndpoint) Perform(ctx context.Context, method string, params any) (json.RawMessage, error) {
	resp, err := e.call(ctx, method, params, nil)
	if err != nil {
		return nil, err
	}
	if resp.HasError() {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (e *WSEndpoint) call(ctx context.Context, method string, params any, onResponse func(*jsonrpc.Response)) (*jsonrpc.Response, error) {
	conn := e.currentConn()
	if conn == nil {
		return nil, &TransportError{Endpoint: e.name, Err: ErrNotConnected}
	}

	id := e.reqID.Add(1)
	reqBytes, err := jsonrpc.EncodeRequest(method, params, id)
	if err != nil {
		return nil, err
	}

	respChan := make(chan *jsonrpc.Response, 1)
	e.pendingMu.Lock()
	e.pending[id] = &pendingCall{ch: respChan, onResponse: onResponse}
	e.pendingMu.Unlock()

	e.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, reqBytes)
	e.writeMu.Unlock()
	if err != nil {
		e.dropPending(id)
		return nil, &TransportError{Endpoint: e.name, Err: fmt.Errorf("failed to send request: %w", err)}
	}

	select {
	case resp := <-respChan:
		if resp == nil {
			return nil, &TransportError{Endpoint: e.name, Err: errConnectionClosed}
		}
		return resp, nil
	case <-ctx.Done():
		e.dropPending(id)
		return nil, ctx.Err()
	}
}

func (e *WSEndpoint) dropPending(id int64) {
	e.pendingMu.Lock()
	delete(e.pending, id)
	e.pendingMu.Unlock()
}

// failPending wakes every waiting request with a closed-connection result
func (e *WSEndpoint) failPending() {
	e.pendingMu.Lock()
	for _, pc := range e.pending {
		close(pc.ch)
	}
	e.pending = make(map[int64]*pendingCall)
	e.pendingMu.Unlock()
}

// Subscribe sends eth_subscribe and routes its notifications to onEvent.
// The returned ID stays valid across reconnects.
func (e *WSEndpoint) Subscribe(ctx context.Context, subType string, params any, onEvent func(json.RawMessage)) (string, error) {
	sub := &wsSubscription{
		localID: strconv.FormatUint(e.nextSubID.Add(1), 10),
		subType: subType,
		params:  params,
		onEvent: onEvent,
	}

	remoteID, err := e.subscribeRemote(ctx, sub)
	if err != nil {
		e.subMu.Lock()
		sub.abandoned = true
		e.removeLocked(sub)
		e.subMu.Unlock()
		return "", err
	}

	e.logger.Debug().Str("subType", subType).Str("subID", remoteID).Msg("subscribed")
	return sub.localID, nil
}

// subscribeRemote sends eth_subscribe for sub. The subscription is routed as
// soon as the response is read, so notifications right behind it are not lost.
func (e *WSEndpoint) subscribeRemote(ctx context.Context, sub *wsSubscription) (string, error) {
	subParams := []any{sub.subType}
	if sub.params != nil {
		subParams = append(subParams, sub.params)
	}

	register := func(resp *jsonrpc.Response) {
		if resp.HasError() {
			return
		}
		var remoteID string
		if json.Unmarshal(resp.Result, &remoteID) != nil {
			return
		}

		e.subMu.Lock()
		defer e.subMu.Unlock()
		if sub.abandoned {
			return
		}
		sub.remoteID = remoteID
		e.subs[sub.localID] = sub
		e.remoteIDs[remoteID] = sub.localID
	}

	resp, err := e.call(ctx, "eth_subscribe", subParams, register)
	if err != nil {
		return "", err
	}
	if resp.HasError() {
		return "", resp.Error
	}

	var remoteID string
	if err := json.Unmarshal(resp.Result, &remoteID); err != nil {
		return "", fmt.Errorf("failed to parse subscription ID: %w", err)
	}
	return remoteID, nil
}

func (e *WSEndpoint) removeLocked(sub *wsSubscription) {
	delete(e.subs, sub.localID)
	if sub.remoteID != "" && e.remoteIDs[sub.remoteID] == sub.localID {
		delete(e.remoteIDs, sub.remoteID)
	}
}

// Unsubscribe removes the subscription and sends eth_unsubscribe without
// waiting for the answer
func (e *WSEndpoint) Unsubscribe(id string) {
	e.subMu.Lock()
	sub, ok := e.subs[id]
	var remoteID string
	if ok {
		sub.abandoned = true
		remoteID = sub.remoteID
		e.removeLocked(sub)
	}
	e.subMu.Unlock()
	if !ok {
		return
	}

	reqBytes, err := jsonrpc.EncodeRequest("eth_unsubscribe", []string{remoteID}, e.reqID.Add(1))
	if err != nil {
		return
	}

	conn := e.currentConn()
	if conn == nil {
		return
	}
	e.writeMu.Lock()
	_ = conn.WriteMessage(websocket.TextMessage, reqBytes)
	e.writeMu.Unlock()
}

// Close closes the connection and waits for the background loops
func (e *WSEndpoint) Close() {
	e.cancel()

	e.connMu.Lock()
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.connMu.Unlock()

	e.failPending()
	e.wg.Wait()
	e.logger.Info().Msg("WebSocket disconnected")
}

func (e *WSEndpoint) pingLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			conn := e.currentConn()
			if conn == nil {
				continue
			}
			e.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsHandshakeTimeout))
			e.writeMu.Unlock()
			if err != nil {
				e.logger.Debug().Err(err).Msg("ping write failed")
			}
		}
	}
}

func (e *WSEndpoint) readLoop() {
	defer e.wg.Done()

	for {
		conn := e.currentConn()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(e.messageTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.logger.Warn().Err(err).Msg("WebSocket connection lost, reconnecting")
			if !e.reconnect() {
				return
			}
			continue
		}

		if isSubscriptionMessage(data) {
			select {
			case e.events <- data:
			case <-e.ctx.Done():
				return
			default:
				e.logger.Warn().Msg("event queue full, dropping subscription message")
			}
			continue
		}
		e.dispatchResponse(data)
	}
}

func isSubscriptionMessage(data []byte) bool {
	var base struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return false
	}
	return base.Method == "eth_subscription"
}

// dispatchLoop delivers notifications in arrival order on a single goroutine
func (e *WSEndpoint) dispatchLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case data := <-e.events:
			e.dispatchNotification(data)
		}
	}
}

func (e *WSEndpoint) dispatchNotification(data []byte) {
	var note jsonrpc.SubscriptionNotification
	if err := json.Unmarshal(data, &note); err != nil {
		e.logger.Warn().Err(err).Int("len", len(data)).Msg("ws notification parse error")
		return
	}

	e.subMu.Lock()
	var handler func(json.RawMessage)
	if sub, ok := e.subs[e.remoteIDs[note.Params.Subscription]]; ok {
		handler = sub.onEvent
	}
	e.subMu.Unlock()

	if handler == nil {
		e.logger.Debug().Str("subscription", note.Params.Subscription).Msg("subscription notification, no handler")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("subscription handler panic")
		}
	}()
	handler(note.Params.Result)
}

func (e *WSEndpoint) dispatchResponse(data []byte) {
	var resp jsonrpc.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		e.logger.Warn().Err(err).Int("len", len(data)).Msg("ws message parse error")
		return
	}

	id, ok := resp.ID.Int64()
	if !ok {
		return
	}

	e.pendingMu.Lock()
	pc, exists := e.pending[id]
	if exists {
		delete(e.pending, id)
	}
	e.pendingMu.Unlock()

	if !exists {
		return
	}
	if pc.onResponse != nil {
		pc.onResponse(&resp)
	}
	pc.ch <- &resp
}

// reconnect redials until it succeeds or the endpoint is closed, then
// restores every subscription. It returns false on shutdown.
func (e *WSEndpoint) reconnect() bool {
	e.connMu.Lock()
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.connMu.Unlock()
	e.failPending()

	interval := e.reconnectInterval
	if interval < minReconnectInterval {
		interval = minReconnectInterval
	}
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}

	for {
		select {
		case <-e.ctx.Done():
			return false
		case <-time.After(interval):
		}

		ctx, cancel := context.WithTimeout(e.ctx, 3*wsHandshakeTimeout)
		conn, _, err := dialer.DialContext(ctx, e.url, nil)
		cancel()
		if err != nil {
			e.logger.Warn().Err(err).Dur("nextRetry", interval).Msg("WebSocket reconnection failed, will retry")
			continue
		}

		if !e.setConn(conn) {
			return false
		}
		e.logger.Info().Msg("WebSocket reconnected")

		e.subMu.Lock()
		toRestore := make([]*wsSubscription, 0, len(e.subs))
		for _, sub := range e.subs {
			toRestore = append(toRestore, sub)
		}
		clear(e.remoteIDs)
		e.subMu.Unlock()

		// responses are read by readLoop, so resubscribing must not block it
		e.wg.Add(1)
		go e.resubscribe(toRestore)
		return true
	}
}

func (e *WSEndpoint) resubscribe(subs []*wsSubscription) {
	defer e.wg.Done()
	var okCount, failCount int
	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(e.ctx, wsHandshakeTimeout)
		_, err := e.subscribeRemote(ctx, sub)
		cancel()
		if err != nil {
			failCount++
			e.logger.Warn().Err(err).Str("subType", sub.subType).Msg("failed to re-subscribe")
			continue
		}
		okCount++
	}
	e.logger.Info().Int("total", len(subs)).Int("ok", okCount).Int("failed", failCount).Msg("reconnect resubscribe done")
}
