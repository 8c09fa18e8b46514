package handler

import (
	"fmt"
	"io"
	"strings"

	"github.com/labstack/echo/v4"

	"rosterchat/internal/adapter/api/middleware"
	"rosterchat/internal/usecase"
	"rosterchat/pkg/errors"
	"rosterchat/pkg/response"
	"rosterchat/pkg/utils"
)

type ConversationHandler struct {
	store         *usecase.ConversationStore
	membership    *usecase.MembershipUseCase
	messages      *usecase.MessageUseCase
	readState     *usecase.ReadStateUseCase
	messageWindow int
	maxUpload     int64
}

func NewConversationHandler(
	store *usecase.ConversationStore,
	membership *usecase.MembershipUseCase,
	messages *usecase.MessageUseCase,
	readState *usecase.ReadStateUseCase,
	messageWindow int,
	maxUpload int64,
) *ConversationHandler {
	return &ConversationHandler{
		store:         store,
		membership:    membership,
		messages:      messages,
		readState:     readState,
		messageWindow: messageWindow,
		maxUpload:     maxUpload,
	}
}

type createConversationRequest struct {
	Emails []string `json:"emails" validate:"required,min=1,dive,required,email"`
	Name   string   `json:"name" validate:"max=100"`
}

type sendMessageRequest struct {
	Text     string `json:"text" validate:"required_without=ImageURL,max=4000"`
	ImageURL string `json:"image_url" validate:"omitempty,url"`
}

type addParticipantRequest struct {
	Email          string `json:"email" validate:"required,email"`
	IncludeHistory bool   `json:"include_history"`
}

type renameRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type updatePhotoRequest struct {
	PhotoURL string `json:"photo_url" validate:"required,url"`
}

type rosterConversationRequest struct {
	Name      string   `json:"name" validate:"required,max=100"`
	PlayerIDs []string `json:"player_ids" validate:"required,min=2,dive,required"`
}

// CreateConversation returns the existing conversation for the participant set
// or creates it.
func (h *ConversationHandler) CreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	result, err := h.membership.CreateOrReuseConversation(c.Request().Context(), middleware.UserID(c), req.Emails, req.Name)
	if err != nil {
		return response.Error(c, err)
	}

	if result.Created {
		return response.Created(c, result)
	}
	return response.Success(c, result)
}

func (h *ConversationHandler) ListConversations(c echo.Context) error {
	conversations, err := h.store.ListConversations(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.List(c, conversations, len(conversations))
}

func (h *ConversationHandler) GetConversation(c echo.Context) error {
	conversation, err := h.store.GetForParticipant(c.Request().Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, conversation)
}

func (h *ConversationHandler) GetMessages(c echo.Context) error {
	limit := utils.GetLimitParam(c, h.messageWindow, h.messageWindow)

	messages, err := h.messages.ListMessages(c.Request().Context(), middleware.UserID(c), c.Param("id"), limit)
	if err != nil {
		return response.Error(c, err)
	}
	return response.List(c, messages, len(messages))
}

func (h *ConversationHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	message, err := h.messages.Send(c.Request().Context(), middleware.UserID(c), usecase.SendMessageInput{
		ConversationID: c.Param("id"),
		Text:           req.Text,
		ImageURL:       req.ImageURL,
	})
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, message)
}

// SendImage accepts a multipart "image" file and an optional "text" field.
func (h *ConversationHandler) SendImage(c echo.Context) error {
	data, err := h.readUpload(c, "image")
	if err != nil {
		return response.Error(c, err)
	}

	message, err := h.messages.SendImage(c.Request().Context(), middleware.UserID(c), c.Param("id"), c.FormValue("text"), data)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, message)
}

func (h *ConversationHandler) MarkRead(c echo.Context) error {
	if err := h.readState.MarkRead(c.Request().Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"message": "Conversation marked as read"})
}

func (h *ConversationHandler) UnreadTotal(c echo.Context) error {
	total, err := h.readState.UnreadTotal(c.Request().Context(), middleware.UserID(c), c.QueryParam("exclude"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]int{"total": total})
}

func (h *ConversationHandler) AddParticipant(c echo.Context) error {
	var req addParticipantRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	user, err := h.membership.AddParticipant(c.Request().Context(), middleware.UserID(c), c.Param("id"), req.Email, req.IncludeHistory)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, user)
}

func (h *ConversationHandler) RemoveParticipant(c echo.Context) error {
	if err := h.membership.RemoveParticipant(c.Request().Context(), middleware.UserID(c), c.Param("id"), c.Param("uid")); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"message": "Participant removed"})
}

func (h *ConversationHandler) Leave(c echo.Context) error {
	if err := h.membership.LeaveConversation(c.Request().Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"message": "You left the conversation"})
}

// Hide is the per-user delete.
func (h *ConversationHandler) Hide(c echo.Context) error {
	if err := h.membership.HideForSelf(c.Request().Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"message": "Conversation deleted"})
}

func (h *ConversationHandler) Rename(c echo.Context) error {
	var req renameRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	if err := h.membership.Rename(c.Request().Context(), middleware.UserID(c), c.Param("id"), req.Name); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"name": strings.TrimSpace(req.Name)})
}

// UpdatePhoto takes either a multipart "photo" file or a JSON photo_url.
func (h *ConversationHandler) UpdatePhoto(c echo.Context) error {
	ctx := c.Request().Context()
	uid := middleware.UserID(c)

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		data, err := h.readUpload(c, "photo")
		if err != nil {
			return response.Error(c, err)
		}
		url, err := h.membership.UploadPhoto(ctx, uid, c.Param("id"), data)
		if err != nil {
			return response.Error(c, err)
		}
		return response.Success(c, map[string]string{"photo_url": url})
	}

	var req updatePhotoRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	if err := h.membership.UpdatePhoto(ctx, uid, c.Param("id"), req.PhotoURL); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"photo_url": req.PhotoURL})
}

// CreateRosterConversation is the hook for the roster flow. The caller must be
// one of the players, and of the stored conversation once it exists.
func (h *ConversationHandler) CreateRosterConversation(c echo.Context) error {
	var req rosterConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	uid := middleware.UserID(c)
	conversation, err := h.membership.CreateRosterConversation(c.Request().Context(), uid, c.Param("rosterId"), req.Name, req.PlayerIDs)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, conversation)
}

func (h *ConversationHandler) readUpload(c echo.Context, field string) ([]byte, error) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		return nil, errors.Validation(fmt.Sprintf("Missing %s file", field), err)
	}
	if fileHeader.Size > h.maxUpload {
		return nil, errors.Validation(fmt.Sprintf("File exceeds the %d byte limit", h.maxUpload), nil)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, errors.BadRequest("Failed to read upload", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		return nil, errors.BadRequest("Failed to read upload", err)
	}
	if int64(len(data)) > h.maxUpload {
		return nil, errors.Validation(fmt.Sprintf("File exceeds the %d byte limit", h.maxUpload), nil)
	}
	return data, nil
}
