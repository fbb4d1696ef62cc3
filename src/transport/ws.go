package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"telemetry-observer/src/helpers"
	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"
	"telemetry-observer/src/network"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	wsWriteWait      = 2 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 1024 * 1024 // 1MB for larger JSON messages
	wsSendQueue      = 256
)

// -----------------------------------------------------------------------------
// Wire format
// -----------------------------------------------------------------------------

type wsCommand struct {
	CmdID       int    `json:"cmdId"`
	Type        string `json:"type"` // "TIMESERIES", "LATEST" or "ALARMS"
	Unsubscribe bool   `json:"unsubscribe,omitempty"`

	EntityType string   `json:"entityType,omitempty"`
	EntityID   string   `json:"entityId,omitempty"`
	Keys       []string `json:"keys,omitempty"`

	StartTs      int64 `json:"startTs,omitempty"`
	EndTs        int64 `json:"endTs,omitempty"`
	TimeWindowMs int64 `json:"timeWindow,omitempty"`
	IntervalMs   int64 `json:"interval,omitempty"`

	PageSize     int    `json:"pageSize,omitempty"`
	SearchStatus string `json:"searchStatus,omitempty"`
}

type wsUpdate struct {
	SubscriptionID int    `json:"subscriptionId"`
	ErrorCode      int    `json:"errorCode,omitempty"`
	ErrorMsg       string `json:"errorMsg,omitempty"`

	Data   map[string]models.MDataSeries `json:"data,omitempty"`
	Latest bool                          `json:"latest,omitempty"`
	Alarms *models.MAlarmPage            `json:"alarms,omitempty"`
}

// -----------------------------------------------------------------------------
// WsTransport talks to a remote telemetry backend: streaming subscriptions
// over one websocket, commands over the REST API.
// -----------------------------------------------------------------------------

type WsTransport struct {
	logger *logger.Logger
	url    string
	api    *network.Client

	mu        sync.Mutex
	conn      *websocket.Conn
	send      chan interface{}
	done      chan struct{}
	nextCmdID int
	dataSubs  map[int]*interfaces.DatasourceListener
	dataCmds  map[*interfaces.DatasourceListener]int
	alarmSubs map[int]*interfaces.AlarmListener
	alarmCmds map[*interfaces.AlarmListener]int
}

var _ interfaces.IDataTransport = (*WsTransport)(nil)

// -----------------------------------------------------------------------------

func NewWsTransport(log *logger.Logger, wsURL string, api *network.Client) *WsTransport {
	return &WsTransport{
		logger:    log.Named("ws"),
		url:       wsURL,
		api:       api,
		dataSubs:  make(map[int]*interfaces.DatasourceListener),
		dataCmds:  make(map[*interfaces.DatasourceListener]int),
		alarmSubs: make(map[int]*interfaces.AlarmListener),
		alarmCmds: make(map[*interfaces.AlarmListener]int),
	}
}

// Connect dials the backend and starts the read/write pumps.
func (t *WsTransport) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(t.url, nil)
	if err != nil {
		return helpers.NewTransportError("websocket dial failed: "+t.url, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.send = make(chan interface{}, wsSendQueue)
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.readPump(conn)
	go t.writePump(conn)

	t.logger.Info("Connected to %s", t.url)
	return nil
}

func (t *WsTransport) Close() {
	t.mu.Lock()
	conn := t.conn
	done := t.done
	t.conn = nil
	t.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		conn.Close()
	}
}

// -----------------------------------------------------------------------------
// Pumps
// -----------------------------------------------------------------------------

func (t *WsTransport) readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				t.logger.Warning("WebSocket error: %v", err)
			}
			return
		}
		var update wsUpdate
		if err := json.Unmarshal(message, &update); err != nil {
			t.logger.Warning("Malformed update: %v", err)
			continue
		}
		t.dispatch(&update)
	}
}

func (t *WsTransport) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-t.done:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-t.send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(message); err != nil {
				t.logger.Warning("Write error: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Dispatch
// -----------------------------------------------------------------------------

func (t *WsTransport) dispatch(update *wsUpdate) {
	t.mu.Lock()
	dl := t.dataSubs[update.SubscriptionID]
	al := t.alarmSubs[update.SubscriptionID]
	t.mu.Unlock()

	if update.ErrorCode != 0 {
		t.logger.Warning("Subscription %d failed: %d %s", update.SubscriptionID, update.ErrorCode, update.ErrorMsg)
		return
	}

	if al != nil && update.Alarms != nil {
		al.AlarmsUpdated(update.Alarms)
		return
	}
	if dl == nil {
		return
	}

	// The backend paces realtime pushes; each one is the cue to re-derive
	// the window on the engine side.
	if !update.Latest && dl.Timewindow != nil && dl.Timewindow.IsRealtime() && dl.UpdateRealtimeSubscription != nil {
		dl.UpdateRealtimeSubscription()
	}

	keys := dl.Datasource.DataKeys
	if update.Latest {
		keys = dl.Datasource.LatestDataKeys
	}
	for key, series := range update.Data {
		for ki := range keys {
			if keys[ki].Name != key {
				continue
			}
			dl.DataUpdated(&models.MDatasourceData{
				Datasource: dl.Datasource,
				DataKey:    &keys[ki],
				Data:       series,
			}, dl.DatasourceIndex, dl.RowIndex, ki, update.Latest)
		}
	}
}

// -----------------------------------------------------------------------------
// Datasource subscriptions
// -----------------------------------------------------------------------------

func (t *WsTransport) SubscribeToDatasource(ctx context.Context, l *interfaces.DatasourceListener) error {
	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return helpers.NewTransportError("websocket transport not connected", nil)
	}
	t.nextCmdID++
	cmdID := t.nextCmdID
	t.dataSubs[cmdID] = l
	t.dataCmds[l] = cmdID
	send := t.send
	t.mu.Unlock()

	cmd := t.datasourceCommand(cmdID, l)
	select {
	case send <- cmd:
		return nil
	default:
		return helpers.NewTransportError("websocket send queue full", nil)
	}
}

func (t *WsTransport) UnsubscribeFromDatasource(l *interfaces.DatasourceListener) {
	t.mu.Lock()
	cmdID, ok := t.dataCmds[l]
	if ok {
		delete(t.dataCmds, l)
		delete(t.dataSubs, cmdID)
	}
	send := t.send
	t.mu.Unlock()

	if ok && send != nil {
		select {
		case send <- &wsCommand{CmdID: cmdID, Unsubscribe: true}:
		default:
		}
	}
}

func (t *WsTransport) datasourceCommand(cmdID int, l *interfaces.DatasourceListener) *wsCommand {
	cmd := &wsCommand{
		CmdID:      cmdID,
		Type:       "TIMESERIES",
		EntityType: l.Datasource.EntityType,
		EntityID:   l.Datasource.EntityID,
	}
	if l.SubscriptionType == models.SubscriptionLatest {
		cmd.Type = "LATEST"
		for i := range l.Datasource.LatestDataKeys {
			cmd.Keys = append(cmd.Keys, l.Datasource.LatestDataKeys[i].Name)
		}
		return cmd
	}
	for i := range l.Datasource.DataKeys {
		cmd.Keys = append(cmd.Keys, l.Datasource.DataKeys[i].Name)
	}
	if stw := l.Timewindow; stw != nil {
		cmd.IntervalMs = stw.AggregationInterval
		if stw.FixedWindow != nil {
			cmd.StartTs = stw.FixedWindow.StartTimeMs
			cmd.EndTs = stw.FixedWindow.EndTimeMs
		} else {
			cmd.TimeWindowMs = stw.RealtimeWindowMs
		}
	}
	return cmd
}

// -----------------------------------------------------------------------------
// Alarm subscriptions
// -----------------------------------------------------------------------------

func (t *WsTransport) SubscribeToAlarms(ctx context.Context, l *interfaces.AlarmListener) error {
	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return helpers.NewTransportError("websocket transport not connected", nil)
	}
	t.nextCmdID++
	cmdID := t.nextCmdID
	t.alarmSubs[cmdID] = l
	t.alarmCmds[l] = cmdID
	send := t.send
	t.mu.Unlock()

	cmd := &wsCommand{
		CmdID:        cmdID,
		Type:         "ALARMS",
		EntityType:   l.Source.EntityType,
		EntityID:     l.Source.EntityID,
		PageSize:     l.PageSize,
		SearchStatus: l.Source.SearchStatus,
	}
	if stw := l.Timewindow; stw != nil {
		if stw.FixedWindow != nil {
			cmd.StartTs = stw.FixedWindow.StartTimeMs
			cmd.EndTs = stw.FixedWindow.EndTimeMs
		} else {
			cmd.TimeWindowMs = stw.RealtimeWindowMs
		}
	}
	select {
	case send <- cmd:
		return nil
	default:
		return helpers.NewTransportError("websocket send queue full", nil)
	}
}

func (t *WsTransport) UnsubscribeFromAlarms(l *interfaces.AlarmListener) {
	t.mu.Lock()
	cmdID, ok := t.alarmCmds[l]
	if ok {
		delete(t.alarmCmds, l)
		delete(t.alarmSubs, cmdID)
	}
	send := t.send
	t.mu.Unlock()

	if ok && send != nil {
		select {
		case send <- &wsCommand{CmdID: cmdID, Unsubscribe: true}:
		default:
		}
	}
}

// -----------------------------------------------------------------------------
// RPC, delegated to the REST API
// -----------------------------------------------------------------------------

func (t *WsTransport) SendOneWayRpc(ctx context.Context, entityID string, req *models.MRpcRequest) (interface{}, error) {
	return t.api.SendRpc(ctx, true, entityID, req)
}

func (t *WsTransport) SendTwoWayRpc(ctx context.Context, entityID string, req *models.MRpcRequest) (interface{}, error) {
	return t.api.SendRpc(ctx, false, entityID, req)
}

func (t *WsTransport) GetPersistedRpcStatus(ctx context.Context, rpcID string) (*models.MPersistedRpc, error) {
	return t.api.GetPersistedRpc(ctx, rpcID)
}
