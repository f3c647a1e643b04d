package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ndvserve/ndv/chunk"
	"github.com/ndvserve/ndv/ndv"
	"github.com/ndvserve/ndv/storage"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/twinj/uuid"
	"golang.org/x/net/websocket"
)

const socketSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["event"],
	"properties": {
		"event": {"enum": ["connect", "disconnect", "json", "get_data"]},
		"id": {"type": ["string", "integer", "null"]},
		"data": {"type": "object"}
	},
	"if": {"properties": {"event": {"const": "get_data"}}},
	"then": {
		"required": ["data"],
		"properties": {
			"data": {
				"type": "object",
				"required": ["format", "path"],
				"properties": {
					"format": {"type": "string", "minLength": 1},
					"path": {"type": "string", "minLength": 1},
					"uri": {"type": "string"},
					"ixstr": {"type": "string"}
				}
			}
		}
	}
}`

var socketSchema = jsonschema.MustCompileString("socket.json", socketSchemaJSON)

type socketMessage struct {
	Event string          `json:"event"`
	ID    interface{}     `json:"id"`
	Data  json.RawMessage `json:"data"`
}

type getDataRequest struct {
	Format string `json:"format"`
	Path   string `json:"path"`
	URI    string `json:"uri"`
	Ixstr  string `json:"ixstr"`
}

type socketReply struct {
	Event   string       `json:"event"`
	ID      interface{}  `json:"id,omitempty"`
	Session string       `json:"session,omitempty"`
	Meta    *chunk.Meta  `json:"meta,omitempty"`
	Stats   *chunk.Stats `json:"stats,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// socketHandler serves one websocket connection until the client disconnects.
func socketHandler(ws *websocket.Conn) {
	session := fmt.Sprintf("%x", uuid.NewV4().Bytes())
	ndv.Infof("Websocket session %s opened from %s\n", session, ws.Request().RemoteAddr)
	defer func() {
		ws.Close()
		ndv.Infof("Websocket session %s closed\n", session)
	}()

	ctx := ws.Request().Context()
	for {
		var raw []byte
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			if err != io.EOF {
				ndv.Errorf("websocket session %s receive: %v\n", session, err)
			}
			return
		}
		reply, done := handleSocketMessage(ctx, session, raw)
		if err := websocket.JSON.Send(ws, reply); err != nil {
			ndv.Errorf("websocket session %s send: %v\n", session, err)
			return
		}
		if done {
			return
		}
	}
}

func socketError(id interface{}, format string, args ...interface{}) socketReply {
	return socketReply{Event: "error", ID: id, Error: fmt.Sprintf(format, args...)}
}

// handleSocketMessage returns the reply to a message and whether the session
// should end.
func handleSocketMessage(ctx context.Context, session string, raw []byte) (socketReply, bool) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return socketError(nil, "message is not JSON: %v", err), false
	}
	if err := socketSchema.Validate(v); err != nil {
		return socketError(nil, "invalid message: %v", err), false
	}
	var msg socketMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return socketError(nil, "bad message: %v", err), false
	}

	switch msg.Event {
	case "connect":
		ndv.Infof("Websocket session %s connect\n", session)
		return socketReply{Event: "ack", ID: msg.ID, Session: session}, false
	case "disconnect":
		ndv.Infof("Websocket session %s disconnect\n", session)
		return socketReply{Event: "ack", ID: msg.ID, Session: session}, true
	case "json":
		ndv.Infof("Websocket session %s json: %s\n", session, string(msg.Data))
		return socketReply{Event: "ack", ID: msg.ID}, false
	case "get_data":
		var gd getDataRequest
		if err := json.Unmarshal(msg.Data, &gd); err != nil {
			return socketError(msg.ID, "bad get_data request: %v", err), false
		}
		reply, err := socketGetData(ctx, gd)
		if err != nil {
			return socketError(msg.ID, "%v", err), false
		}
		reply.ID = msg.ID
		return reply, false
	}
	return socketError(msg.ID, "unknown event %q", msg.Event), false
}

// socketGetData returns metadata of the requested object plus statistics if it
// is a numeric dataset.
func socketGetData(ctx context.Context, gd getDataRequest) (socketReply, error) {
	if _, err := storage.GetEngine(gd.Format); err != nil {
		return socketReply{}, err
	}
	key, err := storage.CleanKey(gd.Path)
	if err != nil {
		return socketReply{}, err
	}
	uri, err := storage.ParseURI(gd.URI)
	if err != nil {
		return socketReply{}, err
	}
	req := arrayRequest{
		engine:   gd.Format,
		path:     key,
		uri:      uri,
		ixstr:    strings.TrimSpace(gd.Ixstr),
		encoding: chunk.FormatJSON,
	}
	f, node, err := getNode(ctx, req)
	if err != nil {
		return socketReply{}, err
	}
	meta, err := chunk.Describe(node, req.ixstr, chunk.Options{})
	f.Close()
	if err != nil {
		return socketReply{}, err
	}
	reply := socketReply{Event: "data", Meta: &meta}
	if meta.Type == storage.KindDataset {
		stats, err := computeStats(ctx, req)
		switch {
		case err == nil:
			reply.Stats = &stats
		case !errors.Is(err, chunk.ErrNotNumeric):
			return socketReply{}, err
		}
	}
	return reply, nil
}
