package websocket

import (
	"design-editor/core"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const documentRoomPrefix = "document:"

type ackInvoker func(err error, payload map[string]any)

func documentRoom(documentID string) socketio.Room {
	return socketio.Room(documentRoomPrefix + documentID)
}

// Collab serves editors of the same document over socket.io. Clients join
// a document room; every saved version of that document is announced to
// the room as "document-updated" so editors can reconcile.
type Collab struct {
	srv   *socketio.Server
	relay *relay
}

func NewCollab(notifier core.Notifier) *Collab {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin: []any{
			"tauri://localhost",
			localhostOrigin,
		},
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	c := &Collab{srv: srv}
	c.relay = newRelay(notifier, func(documentID string, update core.DocumentUpdate) {
		err := srv.To(documentRoom(documentID)).Emit("document-updated", map[string]any{
			"documentId": update.DocumentID,
			"version":    update.Version,
		})
		if err != nil {
			logrus.WithField("document_id", documentID).WithError(err).Warn("Failed to emit document update")
		}
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if ok {
			c.handleConnection(socket)
		}
	})
	return c
}

func (c *Collab) Server() *socketio.Server { return c.srv }

// ActiveDocuments returns the number of connected editors per document.
func (c *Collab) ActiveDocuments() map[string]int { return c.relay.active() }

func (c *Collab) Close() {
	c.relay.close()
	c.srv.Close(nil)
}

func (c *Collab) handleConnection(socket *socketio.Socket) {
	me := socket.Id()
	log := logrus.WithField("socket_id", me)
	log.Debug("Editor connected")

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("join-document", func(datas ...any) {
		ack, documentID, err := documentArg(datas)
		if err != nil {
			respondWithAck(socket, ack, "join-document-ack", errorPayload(err), err)
			return
		}

		room := documentRoom(documentID)
		socket.Join(room)
		log.WithField("document_id", documentID).Info("Editor joined document")

		c.srv.In(room).FetchSockets()(func(users []*socketio.RemoteSocket, fetchErr error) {
			if fetchErr != nil {
				respondWithAck(socket, ack, "join-document-ack", errorPayload(fetchErr), fetchErr)
				return
			}
			c.relay.setViewers(documentID, len(users))
			_ = socket.Broadcast().To(room).Emit("editor-joined", me)
			c.srv.In(room).Emit("editors-changed", socketIDs(users, ""))

			respondWithAck(socket, ack, "join-document-ack", map[string]any{
				"status":     "ok",
				"documentId": documentID,
				"user_count": len(users),
			}, nil)
		})
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("leave-document", func(datas ...any) {
		ack, documentID, err := documentArg(datas)
		if err != nil {
			respondWithAck(socket, ack, "leave-document-ack", errorPayload(err), err)
			return
		}
		room := documentRoom(documentID)
		socket.Leave(room)
		c.refresh(room, "")
		respondWithAck(socket, ack, "leave-document-ack", map[string]any{
			"status":     "ok",
			"documentId": documentID,
		}, nil)
	})

	// Drag, resize and insert previews are relayed without being stored.
	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("server-broadcast", func(datas ...any) {
		handleBroadcast(socket, datas, false)
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("server-volatile-broadcast", func(datas ...any) {
		handleBroadcast(socket, datas, true)
	})

	socket.On("disconnecting", func(datas ...any) {
		for _, room := range socket.Rooms().Keys() {
			if strings.HasPrefix(string(room), documentRoomPrefix) {
				c.refresh(room, me)
			}
		}
	})

	socket.On("disconnect", func(datas ...any) {
		log.Debug("Editor disconnected")
		socket.RemoveAllListeners("")
	})
}

// refresh recounts the editors in room, leaving out the socket named by
// leaving, which is still a member while it disconnects.
func (c *Collab) refresh(room socketio.Room, leaving socketio.SocketId) {
	documentID := strings.TrimPrefix(string(room), documentRoomPrefix)
	c.srv.In(room).FetchSockets()(func(users []*socketio.RemoteSocket, err error) {
		if err != nil {
			logrus.WithField("document_id", documentID).WithError(err).Warn("Failed to list document editors")
			return
		}
		others := socketIDs(users, leaving)
		c.relay.setViewers(documentID, len(others))
		if len(others) > 0 {
			c.srv.In(room).Emit("editors-changed", others)
		}
	})
}

func socketIDs(users []*socketio.RemoteSocket, skip socketio.SocketId) []socketio.SocketId {
	ids := make([]socketio.SocketId, 0, len(users))
	for _, user := range users {
		if user.Id() != skip {
			ids = append(ids, user.Id())
		}
	}
	return ids
}

func documentArg(datas []any) (ackInvoker, string, error) {
	ack, args := extractAck(datas)
	if len(args) == 0 {
		return ack, "", fmt.Errorf("document id is required")
	}
	documentID, ok := args[0].(string)
	if !ok || documentID == "" {
		return ack, "", fmt.Errorf("invalid document id")
	}
	return ack, documentID, nil
}

func errorPayload(err error) map[string]any {
	return map[string]any{
		"status": "error",
		"error":  err.Error(),
	}
}

func handleBroadcast(socket *socketio.Socket, datas []any, volatile bool) {
	documentID, payload, metadata, ack := parseBroadcastArgs(datas)
	if documentID == "" {
		err := fmt.Errorf("missing document id")
		respondWithAck(socket, ack, "broadcast-ack", makeBroadcastAckPayload(payload, err), err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"socket_id":   socket.Id(),
		"document_id": documentID,
	}).Debug("Relaying editor broadcast")

	var emitErr error
	if volatile {
		emitErr = socket.Volatile().Broadcast().To(documentRoom(documentID)).Emit("client-broadcast", payload, metadata)
	} else {
		emitErr = socket.Broadcast().To(documentRoom(documentID)).Emit("client-broadcast", payload, metadata)
	}

	if emitErr != nil {
		respondWithAck(socket, ack, "broadcast-ack", makeBroadcastAckPayload(payload, emitErr), emitErr)
		return
	}

	respondWithAck(socket, ack, "broadcast-ack", makeBroadcastAckPayload(payload, nil), nil)
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	candidate := datas[len(datas)-1]
	ack = wrapAck(candidate)
	if ack == nil {
		return nil, datas
	}

	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		args := buildAckArgs(typ, err, payload)
		value.Call(args)
	}
}

func buildAckArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	args := make([]reflect.Value, numIn)

	for i := 0; i < numIn; i++ {
		paramType := typ.In(i)
		var argValue any

		switch {
		case numIn == 1:
			if err != nil {
				argValue = err
			} else {
				argValue = payload
			}
		case i == 0:
			argValue = err
		case i == 1:
			argValue = payload
		default:
			argValue = nil
		}

		args[i] = coerceValue(argValue, paramType)
	}

	return args
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(targetType) {
		return rv
	}

	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType)
	}

	if targetType.Kind() == reflect.Interface {
		if rv.Type().Implements(targetType) || targetType.NumMethod() == 0 {
			return rv
		}
	}

	if targetType.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}

	if targetType.Kind() == reflect.Map && targetType.Key().Kind() == reflect.String {
		if payload, ok := value.(map[string]any); ok {
			return convertMap(payload, targetType)
		}
	}

	return reflect.Zero(targetType)
}

func convertMap(source map[string]any, targetType reflect.Type) reflect.Value {
	result := reflect.MakeMapWithSize(targetType, len(source))
	for key, val := range source {
		keyValue := reflect.ValueOf(key).Convert(targetType.Key())
		valueValue := reflect.ValueOf(val)
		if !valueValue.Type().AssignableTo(targetType.Elem()) {
			if valueValue.Type().ConvertibleTo(targetType.Elem()) {
				valueValue = valueValue.Convert(targetType.Elem())
			} else if targetType.Elem().Kind() != reflect.Interface {
				continue
			}
		}
		result.SetMapIndex(keyValue, valueValue)
	}
	return result
}

func respondWithAck(socket *socketio.Socket, ack ackInvoker, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}

	if event != "" && payload != nil {
		_ = socket.Emit(event, payload)
	}
}

func parseBroadcastArgs(datas []any) (documentID string, payload, metadata any, ack ackInvoker) {
	ack, args := extractAck(datas)
	if len(args) < 3 {
		return "", nil, nil, ack
	}

	documentID, _ = args[0].(string)
	payload = args[1]
	metadata = args[2]
	return documentID, payload, metadata, ack
}

func makeBroadcastAckPayload(original any, ackErr error) map[string]any {
	response := map[string]any{
		"status": "ok",
	}

	if ackErr != nil {
		response["status"] = "error"
		response["error"] = ackErr.Error()
	}

	if messageID := extractMessageID(original); messageID != "" {
		response["messageId"] = messageID
	}

	return response
}

func extractMessageID(original any) string {
	value, ok := original.(map[string]any)
	if !ok {
		return ""
	}

	if id, exists := value["__collabMessageId"].(string); exists {
		return id
	}

	return ""
}
