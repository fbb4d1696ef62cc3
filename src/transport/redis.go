package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"telemetry-observer/src/helpers"
	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"
	"telemetry-observer/src/utils"
)

// -----------------------------------------------------------------------------
// Key layout
//
//	telemetry:<entityId>          pub/sub channel, one JSON sample per message
//	alarms:<entityId>             pub/sub channel, one JSON alarm per message
//	series:<entityId>:<key>       list of JSON samples, oldest first
//	latest:<entityId>             hash key -> JSON sample
//	rpc:req:<entityId>            list the device side pops requests from
//	rpc:reply:<requestId>         pub/sub channel for the device response
//	rpc:persisted:<requestId>     hash with status/response/error fields
// -----------------------------------------------------------------------------

const (
	redisSeriesFetchLimit = 4096
	redisRpcTimeout       = 10 * time.Second
)

type redisSample struct {
	Key   string      `json:"key"`
	Ts    int64       `json:"ts"`
	Value interface{} `json:"value"`
}

type redisRpcReply struct {
	Response interface{} `json:"response,omitempty"`
	Status   int         `json:"status,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// -----------------------------------------------------------------------------
// RedisTransport serves subscriptions from a Redis backend: history from
// lists, live pushes from pub/sub, commands over request lists with reply
// channels.
// -----------------------------------------------------------------------------

type RedisTransport struct {
	logger *logger.Logger
	rdb    *redis.Client

	mu        sync.Mutex
	dataSubs  map[*interfaces.DatasourceListener]*redisDataSub
	alarmSubs map[*interfaces.AlarmListener]*redisAlarmSub
}

type redisDataSub struct {
	listener *interfaces.DatasourceListener
	pubsub   *redis.PubSub
	cancel   context.CancelFunc

	// buffers accumulate the windowed series per key name.
	buffers map[string]*utils.PointBuffer
}

var _ interfaces.IDataTransport = (*RedisTransport)(nil)

// -----------------------------------------------------------------------------

func NewRedisTransport(log *logger.Logger, cfg models.MTransportConfig) *RedisTransport {
	return &RedisTransport{
		logger: log.Named("redis"),
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		dataSubs:  make(map[*interfaces.DatasourceListener]*redisDataSub),
		alarmSubs: make(map[*interfaces.AlarmListener]*redisAlarmSub),
	}
}

// Ping verifies the connection before the host starts serving.
func (t *RedisTransport) Ping(ctx context.Context) error {
	if err := t.rdb.Ping(ctx).Err(); err != nil {
		return helpers.NewTransportError("redis ping failed", err)
	}
	return nil
}

func (t *RedisTransport) Close() error {
	return t.rdb.Close()
}

// -----------------------------------------------------------------------------
// Datasource subscriptions
// -----------------------------------------------------------------------------

func (t *RedisTransport) SubscribeToDatasource(ctx context.Context, l *interfaces.DatasourceListener) error {
	ds := l.Datasource
	minTs, maxTs := windowRange(l.Timewindow)

	sub := &redisDataSub{
		listener: l,
		buffers:  make(map[string]*utils.PointBuffer),
	}

	// 1. Initial load: history for series keys, snapshot for latest keys.
	for ki := range ds.DataKeys {
		key := &ds.DataKeys[ki]
		series, err := t.loadSeries(ctx, ds.EntityID, key.Name, minTs, maxTs)
		if err != nil {
			return err
		}
		buf := utils.NewPointBuffer(pointBufferCapacity)
		for _, p := range series {
			buf.Append(p)
		}
		sub.buffers[key.Name] = buf
		l.DataUpdated(&models.MDatasourceData{Datasource: ds, DataKey: key, Data: series},
			l.DatasourceIndex, l.RowIndex, ki, false)
	}
	for ki := range ds.LatestDataKeys {
		key := &ds.LatestDataKeys[ki]
		series := t.loadLatest(ctx, ds.EntityID, key.Name)
		l.DataUpdated(&models.MDatasourceData{Datasource: ds, DataKey: key, Data: series},
			l.DatasourceIndex, l.RowIndex, ki, true)
	}

	// 2. Fixed windows are a one-shot load.
	if l.Timewindow != nil && !l.Timewindow.IsRealtime() {
		t.mu.Lock()
		t.dataSubs[l] = sub
		t.mu.Unlock()
		return nil
	}

	// 3. Live pushes.
	subCtx, cancel := context.WithCancel(context.Background())
	sub.cancel = cancel
	sub.pubsub = t.rdb.Subscribe(subCtx, "telemetry:"+ds.EntityID)
	t.mu.Lock()
	t.dataSubs[l] = sub
	t.mu.Unlock()
	go t.consumeTelemetry(subCtx, sub)
	return nil
}

func (t *RedisTransport) UnsubscribeFromDatasource(l *interfaces.DatasourceListener) {
	t.mu.Lock()
	sub, ok := t.dataSubs[l]
	if ok {
		delete(t.dataSubs, l)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	if sub.cancel != nil {
		sub.cancel()
	}
	if sub.pubsub != nil {
		sub.pubsub.Close()
	}
}

func (t *RedisTransport) consumeTelemetry(ctx context.Context, sub *redisDataSub) {
	l := sub.listener
	ds := l.Datasource
	ch := sub.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var sample redisSample
			if err := json.Unmarshal([]byte(msg.Payload), &sample); err != nil {
				t.logger.Warning("Malformed telemetry on %s: %v", msg.Channel, err)
				continue
			}
			point := models.MDataPoint{Ts: sample.Ts, Value: sample.Value}

			stw := l.Timewindow
			if l.UpdateRealtimeSubscription != nil {
				if next := l.UpdateRealtimeSubscription(); next != nil {
					stw = next
				}
			}
			minTs, _ := windowRange(stw)

			for ki := range ds.DataKeys {
				if ds.DataKeys[ki].Name != sample.Key {
					continue
				}
				buf := sub.buffers[sample.Key]
				if buf == nil {
					buf = utils.NewPointBuffer(pointBufferCapacity)
					sub.buffers[sample.Key] = buf
				}
				buf.Append(point)
				l.DataUpdated(&models.MDatasourceData{
					Datasource: ds,
					DataKey:    &ds.DataKeys[ki],
					Data:       buf.Window(minTs),
				}, l.DatasourceIndex, l.RowIndex, ki, false)
			}
			for ki := range ds.LatestDataKeys {
				if ds.LatestDataKeys[ki].Name != sample.Key {
					continue
				}
				l.DataUpdated(&models.MDatasourceData{
					Datasource: ds,
					DataKey:    &ds.LatestDataKeys[ki],
					Data:       models.MDataSeries{point},
				}, l.DatasourceIndex, l.RowIndex, ki, true)
			}
		}
	}
}

func (t *RedisTransport) loadSeries(ctx context.Context, entityID, key string, minTs, maxTs int64) (models.MDataSeries, error) {
	raw, err := t.rdb.LRange(ctx, "series:"+entityID+":"+key, -redisSeriesFetchLimit, -1).Result()
	if err != nil {
		return nil, helpers.NewTransportError("series load failed for "+entityID+"/"+key, err)
	}
	series := make(models.MDataSeries, 0, len(raw))
	for _, item := range raw {
		var sample redisSample
		if err := json.Unmarshal([]byte(item), &sample); err != nil {
			continue
		}
		if sample.Ts < minTs || (maxTs > 0 && sample.Ts >= maxTs) {
			continue
		}
		series = append(series, models.MDataPoint{Ts: sample.Ts, Value: sample.Value})
	}
	return series, nil
}

func (t *RedisTransport) loadLatest(ctx context.Context, entityID, key string) models.MDataSeries {
	raw, err := t.rdb.HGet(ctx, "latest:"+entityID, key).Result()
	if err != nil {
		// Missing hash field means the key is unserved.
		return models.MDataSeries{{Ts: time.Now().UnixMilli(), Value: models.UnsupportedValue}}
	}
	var sample redisSample
	if err := json.Unmarshal([]byte(raw), &sample); err != nil {
		return models.MDataSeries{{Ts: time.Now().UnixMilli(), Value: models.UnsupportedValue}}
	}
	return models.MDataSeries{{Ts: sample.Ts, Value: sample.Value}}
}

// -----------------------------------------------------------------------------
// Alarm subscriptions
// -----------------------------------------------------------------------------

type redisAlarmSub struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	rows   []models.MAlarm
}

func (t *RedisTransport) SubscribeToAlarms(ctx context.Context, l *interfaces.AlarmListener) error {
	sub := &redisAlarmSub{}

	subCtx, cancel := context.WithCancel(context.Background())
	sub.cancel = cancel
	sub.pubsub = t.rdb.Subscribe(subCtx, "alarms:"+l.Source.EntityID)
	t.mu.Lock()
	t.alarmSubs[l] = sub
	t.mu.Unlock()

	l.AlarmsUpdated(&models.MAlarmPage{})

	go func() {
		ch := sub.pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var alarm models.MAlarm
				if err := json.Unmarshal([]byte(msg.Payload), &alarm); err != nil {
					t.logger.Warning("Malformed alarm on %s: %v", msg.Channel, err)
					continue
				}
				if l.Source.SearchStatus != "" && alarm.Status != l.Source.SearchStatus {
					continue
				}
				sub.rows = append(sub.rows, alarm)
				rows := sub.rows
				hasNext := false
				if l.PageSize > 0 && len(rows) > l.PageSize {
					rows = rows[len(rows)-l.PageSize:]
					hasNext = true
				}
				l.AlarmsUpdated(&models.MAlarmPage{
					Data:          rows,
					TotalElements: len(sub.rows),
					HasNext:       hasNext,
				})
			}
		}
	}()
	return nil
}

func (t *RedisTransport) UnsubscribeFromAlarms(l *interfaces.AlarmListener) {
	t.mu.Lock()
	sub, ok := t.alarmSubs[l]
	if ok {
		delete(t.alarmSubs, l)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	if sub.cancel != nil {
		sub.cancel()
	}
	if sub.pubsub != nil {
		sub.pubsub.Close()
	}
}

// -----------------------------------------------------------------------------
// RPC
// -----------------------------------------------------------------------------

func (t *RedisTransport) SendOneWayRpc(ctx context.Context, entityID string, req *models.MRpcRequest) (interface{}, error) {
	return t.sendRpc(ctx, true, entityID, req)
}

func (t *RedisTransport) SendTwoWayRpc(ctx context.Context, entityID string, req *models.MRpcRequest) (interface{}, error) {
	return t.sendRpc(ctx, false, entityID, req)
}

func (t *RedisTransport) sendRpc(ctx context.Context, oneWay bool, entityID string, req *models.MRpcRequest) (interface{}, error) {
	id := req.RequestID
	if id == "" {
		id = utils.Guid()
	}

	payload, err := json.Marshal(map[string]interface{}{
		"id":     id,
		"method": req.Method,
		"params": req.Params,
		"oneWay": oneWay,
	})
	if err != nil {
		return nil, helpers.NewTransportError("rpc request marshal failed", err)
	}

	if req.Persistent {
		if err := t.rdb.HSet(ctx, "rpc:persisted:"+id, "status", models.RpcStatusQueued).Err(); err != nil {
			return nil, helpers.NewTransportError("persistent rpc enqueue failed", err)
		}
		if err := t.rdb.RPush(ctx, "rpc:req:"+entityID, payload).Err(); err != nil {
			return nil, helpers.NewTransportError("rpc enqueue failed", err)
		}
		return &models.MPersistedRpc{ID: id, Status: models.RpcStatusQueued}, nil
	}

	// Open the reply channel before enqueuing so the response cannot race
	// past us.
	var pubsub *redis.PubSub
	if !oneWay {
		pubsub = t.rdb.Subscribe(ctx, "rpc:reply:"+id)
		defer pubsub.Close()
	}

	if err := t.rdb.RPush(ctx, "rpc:req:"+entityID, payload).Err(); err != nil {
		return nil, helpers.NewTransportError("rpc enqueue failed", err)
	}
	if oneWay {
		return nil, nil
	}

	timeout := redisRpcTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := pubsub.ReceiveMessage(waitCtx)
	if err != nil {
		if waitCtx.Err() == context.DeadlineExceeded {
			return nil, context.DeadlineExceeded
		}
		return nil, helpers.NewTransportError("rpc reply wait failed", err)
	}

	var reply redisRpcReply
	if err := json.Unmarshal([]byte(msg.Payload), &reply); err != nil {
		return nil, helpers.NewTransportError("rpc reply decode failed", err)
	}
	if reply.Error != "" {
		status := reply.Status
		if status == 0 {
			status = helpers.RpcStatusBadGateway
		}
		return nil, &helpers.RpcError{Status: status, StatusText: "Bad Gateway", Detail: reply.Error}
	}
	return reply.Response, nil
}

func (t *RedisTransport) GetPersistedRpcStatus(ctx context.Context, rpcID string) (*models.MPersistedRpc, error) {
	fields, err := t.rdb.HGetAll(ctx, "rpc:persisted:"+rpcID).Result()
	if err != nil {
		return nil, helpers.NewTransportError("persistent rpc lookup failed", err)
	}
	if len(fields) == 0 {
		return nil, helpers.NewTransportError("unknown persistent rpc: "+rpcID, nil)
	}
	p := &models.MPersistedRpc{ID: rpcID, Status: fields["status"], Error: fields["error"]}
	if raw, ok := fields["response"]; ok && raw != "" {
		var response interface{}
		if err := json.Unmarshal([]byte(raw), &response); err == nil {
			p.Response = response
		}
	}
	return p, nil
}
