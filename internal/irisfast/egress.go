package irisfast

import (
    "context"
    "errors"

    "go.uber.org/zap"

    "github.com/park285/Cheese-Challenge-bot/internal/metrics"
)

// Egress abstracts message/image sending over HTTP or WebSocket.
type Egress interface {
    SendText(ctx context.Context, room, message string) error
    SendImage(ctx context.Context, room, imageBase64 string) error
}

type transportMode string

const (
    transportHTTP transportMode = "http"
    transportWS   transportMode = "ws"
    transportAuto transportMode = "auto"
)

const (
    replyText  = "text"
    replyImage = "image"
)

// NewEgress creates an Egress based on mode. When mode is auto, WS is preferred when connected;
// on WS failure, it falls back to HTTP once. dryrun logs instead of sending on every transport.
func NewEgress(mode string, dryrun bool, c *Client, ws *WebSocket, logger *zap.Logger) Egress {
    if logger == nil {
        logger = zap.NewNop()
    }
    if dryrun {
        return &dryEgress{logger: logger, mode: mode}
    }
    switch transportMode(mode) {
    case transportWS:
        return &wsEgress{ws: ws}
    case transportAuto:
        return &autoEgress{ws: &wsEgress{ws: ws}, http: &httpEgress{c: c}, logger: logger}
    default:
        return &httpEgress{c: c}
    }
}

// httpEgress delegates to Client.
type httpEgress struct{ c *Client }

func (h *httpEgress) SendText(ctx context.Context, room, message string) error {
    return h.send(ctx, replyText, room, message)
}

func (h *httpEgress) SendImage(ctx context.Context, room, imageBase64 string) error {
    return h.send(ctx, replyImage, room, imageBase64)
}

func (h *httpEgress) send(ctx context.Context, kind, room, data string) error {
    if h == nil || h.c == nil {
        return errors.New("http egress not available")
    }
    err := h.c.reply(ctx, ReplyRequest{Type: kind, Room: room, Data: data})
    metrics.Egress(string(transportHTTP), kind, err)
    return err
}

// wsEgress writes ReplyRequest frames over WebSocket.
type wsEgress struct {
    ws *WebSocket
}

func (w *wsEgress) SendText(ctx context.Context, room, message string) error {
    return w.send(ctx, replyText, room, message)
}

func (w *wsEgress) SendImage(ctx context.Context, room, imageBase64 string) error {
    return w.send(ctx, replyImage, room, imageBase64)
}

func (w *wsEgress) available() bool {
    return w != nil && w.ws != nil && w.ws.Connected()
}

func (w *wsEgress) send(ctx context.Context, kind, room, data string) error {
    if w == nil || w.ws == nil {
        return errors.New("ws egress not available")
    }
    if room == "" {
        return errors.New("room is required")
    }
    err := w.ws.WriteJSON(ctx, &ReplyRequest{Type: kind, Room: room, Data: data})
    metrics.Egress(string(transportWS), kind, err)
    return err
}

// autoEgress prefers WS if available, with single fallback to HTTP.
type autoEgress struct {
    ws     *wsEgress
    http   *httpEgress
    logger *zap.Logger
}

func (a *autoEgress) SendText(ctx context.Context, room, message string) error {
    return a.send(ctx, replyText, room, message)
}

func (a *autoEgress) SendImage(ctx context.Context, room, imageBase64 string) error {
    return a.send(ctx, replyImage, room, imageBase64)
}

func (a *autoEgress) send(ctx context.Context, kind, room, data string) error {
    if a.ws.available() {
        err := a.ws.send(ctx, kind, room, data)
        if err == nil {
            return nil
        }
        a.logger.Warn("egress_fallback", zap.String("type", kind), zap.String("room", room), zap.Error(err))
    }
    return a.http.send(ctx, kind, room, data)
}

// dryEgress only logs; used for local runs without an Iris instance.
type dryEgress struct {
    logger *zap.Logger
    mode   string
}

func (d *dryEgress) SendText(_ context.Context, room, message string) error {
    d.logger.Info("egress_dryrun", zap.String("mode", d.mode), zap.String("type", replyText), zap.String("room", room), zap.String("text", message))
    return nil
}

func (d *dryEgress) SendImage(_ context.Context, room, imageBase64 string) error {
    d.logger.Info("egress_dryrun", zap.String("mode", d.mode), zap.String("type", replyImage), zap.String("room", room), zap.Int("bytes", len(imageBase64)))
    return nil
}
