package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"cic-sync/internal/app"
	"cic-sync/internal/auth"
	"cic-sync/internal/domain"
	"cic-sync/internal/prefs"
	"cic-sync/internal/session"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Runtime is the storage stack one connection drives.
type Runtime struct {
	Sessions     *session.Manager
	Orchestrator *app.Orchestrator
	Prefs        *prefs.Preferences
	// Identity is optional; without it drive.reconnect reports REAUTH_NEEDED.
	Identity     *auth.StaticIdentity
}

// RuntimeFactory builds a Runtime; onRemoteError receives deferred write failures.
type RuntimeFactory func(onRemoteError func(lessonID string, err error)) Runtime

type WSHandler struct {
	newRuntime RuntimeFactory
	log        *zap.Logger
	upgrader   websocket.Upgrader
}

func NewWSHandler(newRuntime RuntimeFactory, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		newRuntime: newRuntime,
		log:        log.With(zap.String("component", "ws")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

type errorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Lesson  *domain.Lesson `json:"lesson,omitempty"`
}

type sessionPayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

type drivePayload struct {
	Available bool   `json:"available"`
	Token     string `json:"token"`
}

type lessonIDPayload struct {
	ID string `json:"id"`
}

type syncErrorPayload struct {
	LessonID string `json:"lessonId"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// prefsPatch carries only the preferences a prefs.set message names.
type prefsPatch struct {
	Theme         string `json:"theme"`
	SoundEnabled  *bool  `json:"soundEnabled"`
	TourCompleted *bool  `json:"tourCompleted"`
}

type modePayload struct {
	Mode string `json:"mode"`
}

// Error codes sent to the UI shell.
const (
	CodeReauthNeeded      = "REAUTH_NEEDED"
	CodeDecryptionFailed  = "DECRYPTION_FAILED"
	CodeSecurityViolation = "SECURITY_VIOLATION"
	CodeInvalid           = "INVALID"
	CodeInternal          = "INTERNAL"
)

var errUnsupported = errors.New("unsupported message type")

// ServeWS upgrades HTTP requests to websockets and wires them into the storage orchestrator.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage, 16)
	writerDone := make(chan struct{})
	var (
		sendMu sync.Mutex
		closed bool
	)
	emit := func(msg outboundMessage) {
		sendMu.Lock()
		defer sendMu.Unlock()
		if closed {
			return
		}
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Warn("ws write error", zap.Error(err))
				return
			}
		}
	}()

	rt := h.newRuntime(func(lessonID string, err error) {
		emit(outboundMessage{Type: "sync.error", Payload: syncErrorPayload{
			LessonID: lessonID,
			Code:     errorCode(err),
			Message:  err.Error(),
		}})
	})

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		payload, err := h.dispatch(ctx, rt, inbound)
		if err != nil {
			ep := errorPayload{Code: errorCode(err), Message: err.Error()}
			if lesson, ok := payload.(domain.Lesson); ok {
				ep.Lesson = &lesson
			}
			emit(outboundMessage{Type: "error", ID: inbound.ID, Payload: ep})
			continue
		}
		emit(outboundMessage{Type: inbound.Type + ".ok", ID: inbound.ID, Payload: payload})
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := rt.Orchestrator.Flush(flushCtx); err != nil {
		h.log.Warn("flush on disconnect failed", zap.Error(err))
	}
	cancel()
	rt.Sessions.EndSession()

	sendMu.Lock()
	closed = true
	close(send)
	sendMu.Unlock()
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, rt Runtime, in inboundMessage) (any, error) {
	orch := rt.Orchestrator
	switch in.Type {
	case "session.start":
		var p sessionPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		if err := rt.Sessions.StartSession(ctx, p.UserID); err != nil {
			return nil, err
		}
		if rt.Identity != nil {
			rt.Identity.SetUser(p.UserID, p.Token)
		}
		return sessionPayload{UserID: p.UserID}, nil
	case "session.end":
		if err := orch.Flush(ctx); err != nil {
			h.log.Warn("flush before session end failed", zap.Error(err))
		}
		rt.Sessions.EndSession()
		orch.ForgetKeys()
		return nil, nil
	case "drive.set":
		var p drivePayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		orch.SetDriveAccess(ctx, p.Available, p.Token)
		return modePayload{Mode: orch.Mode().String()}, nil
	case "drive.reconnect":
		if err := orch.Reconnect(ctx); err != nil {
			return nil, err
		}
		return modePayload{Mode: orch.Mode().String()}, nil
	case "lessons.list":
		return orch.ListLessons(ctx)
	case "lesson.save":
		var lesson domain.Lesson
		if err := decode(in.Payload, &lesson); err != nil {
			return nil, err
		}
		return orch.SaveLesson(ctx, lesson)
	case "lesson.get":
		var stub domain.Descriptor
		if err := decode(in.Payload, &stub); err != nil {
			return nil, err
		}
		return orch.GetLessonContent(ctx, stub)
	case "lesson.delete":
		var stub domain.Descriptor
		if err := decode(in.Payload, &stub); err != nil {
			return nil, err
		}
		return nil, orch.DeleteLesson(ctx, stub)
	case "lesson.reset":
		var p lessonIDPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return nil, orch.ResetProgress(ctx, p.ID)
	case "sync.flush":
		return nil, orch.Flush(ctx)
	case "prefs.get":
		return rt.Prefs.Snapshot(ctx), nil
	case "prefs.set":
		var p prefsPatch
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		if p.Theme != "" {
			rt.Prefs.SetTheme(ctx, p.Theme)
		}
		if p.SoundEnabled != nil {
			rt.Prefs.SetSoundEnabled(ctx, *p.SoundEnabled)
		}
		if p.TourCompleted != nil && *p.TourCompleted {
			rt.Prefs.MarkTourCompleted(ctx)
		}
		return rt.Prefs.Snapshot(ctx), nil
	default:
		return nil, errUnsupported
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return domain.ErrInvalidLesson
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Join(domain.ErrInvalidLesson, err)
	}
	return nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrReauthNeeded):
		return CodeReauthNeeded
	case errors.Is(err, domain.ErrDecryption):
		return CodeDecryptionFailed
	case errors.Is(err, domain.ErrSecurityViolation):
		return CodeSecurityViolation
	case errors.Is(err, domain.ErrInvalidLesson), errors.Is(err, errUnsupported):
		return CodeInvalid
	default:
		return CodeInternal
	}
}
