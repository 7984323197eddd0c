// internal/handlers/command.go
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jason-s-yu/courier/internal/auth"
	"github.com/jason-s-yu/courier/internal/game"
	"github.com/jason-s-yu/courier/internal/session"
	"github.com/jason-s-yu/courier/internal/workers"
)

// Command actions.
const (
	ActionCreateRoom     = "create_room"
	ActionJoinRoom       = "join_room"
	ActionListOpenRooms  = "list_open_rooms"
	ActionSelectOrders   = "select_orders"
	ActionRefreshOrders  = "refresh_orders"
	ActionClaimOrder     = "claim_order"
	ActionLeaveRoom      = "leave_room"
	ActionAddNote        = "add_note"
	ActionListNotes      = "list_notes"
	ActionClearNotes     = "clear_notes"
	ActionGetStats       = "get_stats"
	ActionGetHourlyStats = "get_hourly_stats"
	ActionRoomPlayers    = "room_players"
)

// Command is the envelope every inbound action arrives in, over HTTP or websocket.
type Command struct {
	Action   string `json:"action" validate:"required,oneof=create_room join_room list_open_rooms select_orders refresh_orders claim_order leave_room add_note list_notes clear_notes get_stats get_hourly_stats room_players"`
	RoomID   string `json:"room_id,omitempty" validate:"required_if=Action join_room,required_if=Action select_orders,required_if=Action refresh_orders,required_if=Action claim_order,required_if=Action room_players,max=64"`
	OrderID  string `json:"order_id,omitempty" validate:"required_if=Action claim_order,max=64"`
	Capacity int    `json:"capacity,omitempty" validate:"min=0"`
	Text     string `json:"text,omitempty" validate:"required_if=Action add_note,max=1000"`
}

var validate = validator.New()

// ErrBadCommand wraps envelope validation failures.
var ErrBadCommand = errors.New("malformed command")

// Validate checks the envelope before it reaches the worker pool.
func (c Command) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	return nil
}

// ErrorBody is the error part of a response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response answers a single command.
type Response struct {
	OK     bool       `json:"ok"`
	Action string     `json:"action"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// errorCodes maps domain sentinels to stable codes and HTTP statuses.
var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{game.ErrRoomNotFound, "room_not_found", http.StatusNotFound},
	{game.ErrRoomFull, "room_full", http.StatusConflict},
	{game.ErrAlreadyJoined, "already_joined", http.StatusConflict},
	{game.ErrAlreadyInRoom, "already_in_room", http.StatusConflict},
	{game.ErrNotMember, "not_member", http.StatusForbidden},
	{game.ErrOrderNotFound, "order_not_found", http.StatusConflict},
	{game.ErrNotInRoom, "not_in_room", http.StatusConflict},
	{game.ErrRoomClosed, "room_closed", http.StatusGone},
	{game.ErrEmptyNote, "empty_note", http.StatusBadRequest},
	{game.ErrBadCapacity, "bad_capacity", http.StatusBadRequest},
	{ErrBadCommand, "bad_command", http.StatusBadRequest},
	{auth.ErrInvalidToken, "unauthorized", http.StatusUnauthorized},
	{workers.ErrPoolStopped, "unavailable", http.StatusServiceUnavailable},
	{context.DeadlineExceeded, "timeout", http.StatusGatewayTimeout},
}

// classify returns the wire code and HTTP status for err. Anything unknown,
// panics included, is reported as a generic internal error.
func classify(err error) (ErrorBody, int) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return ErrorBody{Code: e.code, Message: err.Error()}, e.status
		}
	}
	return ErrorBody{Code: "internal", Message: "internal error"}, http.StatusInternalServerError
}

// dispatch runs cmd against the manager on behalf of id. It is always called
// from a pool worker.
func dispatch(ctx context.Context, mgr *session.Manager, id auth.Identity, cmd Command) (any, error) {
	switch cmd.Action {
	case ActionCreateRoom:
		return mgr.CreateRoom(ctx, id.UserID, id.Name, cmd.Capacity)
	case ActionJoinRoom:
		return mgr.JoinRoom(ctx, id.UserID, id.Name, cmd.RoomID)
	case ActionListOpenRooms:
		return mgr.ListOpenRooms(ctx), nil
	case ActionSelectOrders:
		return mgr.SelectOrders(ctx, id.UserID, cmd.RoomID)
	case ActionRefreshOrders:
		return mgr.RefreshOrders(ctx, id.UserID, cmd.RoomID)
	case ActionClaimOrder:
		res, err := mgr.ClaimOrder(ctx, id.UserID, cmd.RoomID, cmd.OrderID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"order": res.Order, "player": res.Player}, nil
	case ActionLeaveRoom:
		res, err := mgr.LeaveRoom(ctx, id.UserID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"room_id": res.RoomID, "remaining": len(res.Remaining)}, nil
	case ActionAddNote:
		n, err := mgr.AddNote(ctx, id.UserID, cmd.Text)
		if err != nil {
			return nil, err
		}
		return map[string]any{"notes": n}, nil
	case ActionListNotes:
		return mgr.ListNotes(ctx, id.UserID), nil
	case ActionClearNotes:
		return map[string]any{"cleared": mgr.ClearNotes(ctx, id.UserID)}, nil
	case ActionGetStats:
		return mgr.GetStats(ctx, id.UserID), nil
	case ActionGetHourlyStats:
		return mgr.GetHourlyStats(ctx, id.UserID)
	case ActionRoomPlayers:
		return mgr.RoomPlayers(ctx, id.UserID, cmd.RoomID)
	}
	return nil, fmt.Errorf("%w: unknown action %q", ErrBadCommand, cmd.Action)
}

// execute validates cmd and runs it on the pool, folding the outcome into a Response.
func execute(ctx context.Context, pool *workers.Pool, mgr *session.Manager, id auth.Identity, cmd Command) (Response, int) {
	resp := Response{Action: cmd.Action}
	out := make(chan any, 1)
	err := cmd.Validate()
	if err == nil {
		err = pool.Do(ctx, func(ctx context.Context) error {
			data, err := dispatch(ctx, mgr, id, cmd)
			out <- data
			return err
		})
	}
	if err != nil {
		body, status := classify(err)
		resp.Error = &body
		return resp, status
	}
	resp.OK = true
	resp.Data = <-out
	return resp, http.StatusOK
}
