package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
	"github.com/uma-arai/sbcntr-pethotel/internal/repository"
	"github.com/uma-arai/sbcntr-pethotel/internal/service/booking"
	"github.com/uma-arai/sbcntr-pethotel/internal/service/lifecycle"
)

type statusRequest struct {
	Status model.Status `json:"status" binding:"required"`
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

// statusCode はエラーを HTTP ステータスに変換します。
// 入力エラーと存在しない予約以外はバックエンドの失敗として 502 を返します
func statusCode(err error) int {
	switch {
	case errors.Is(err, booking.ErrInvalidRequest), errors.Is(err, lifecycle.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrAlreadyProcessing):
		return http.StatusConflict
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func (h *Handler) listReservations(c *gin.Context) {
	var (
		records []model.DisplayReservation
		err     error
	)
	if date := c.Query("date"); date != "" {
		records, err = h.booking.ListByDate(c.Request.Context(), date)
	} else {
		records, err = h.booking.List(c.Request.Context())
	}
	if err != nil {
		fail(c, statusCode(err), err)
		return
	}
	ok(c, http.StatusOK, records)
}

func (h *Handler) submitReservation(c *gin.Context) {
	var req booking.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	record, err := h.booking.Submit(c.Request.Context(), req)
	if err != nil {
		fail(c, statusCode(err), err)
		return
	}
	ok(c, http.StatusCreated, record)
}

func (h *Handler) updateReservation(c *gin.Context) {
	var record model.DisplayReservation
	if err := c.ShouldBindJSON(&record); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	updated, err := h.booking.Update(c.Request.Context(), c.Param("id"), record)
	if err != nil {
		fail(c, statusCode(err), err)
		return
	}
	ok(c, http.StatusOK, updated)
}

func (h *Handler) changeStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	record, err := h.lifecycle.ChangeStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		fail(c, statusCode(err), err)
		return
	}
	ok(c, http.StatusOK, record)
}

func (h *Handler) transition(op func(ctx context.Context, id string) (*model.DisplayReservation, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := op(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, statusCode(err), err)
			return
		}
		ok(c, http.StatusOK, record)
	}
}

func (h *Handler) deleteReservation(c *gin.Context) {
	if err := h.lifecycle.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, statusCode(err), err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": c.Param("id")})
}

func (h *Handler) bulkDelete(c *gin.Context) {
	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	if err := h.lifecycle.DeleteMany(c.Request.Context(), req.IDs); err != nil {
		fail(c, statusCode(err), err)
		return
	}
	ok(c, http.StatusOK, gin.H{"ids": req.IDs})
}

func (h *Handler) listNotifications(c *gin.Context) {
	records, err := h.notifications.GetByReservationID(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, statusCode(err), err)
		return
	}
	ok(c, http.StatusOK, records)
}

func (h *Handler) calendar(c *gin.Context) {
	records, err := h.booking.Calendar(c.Request.Context(), model.Service(c.Query("service")))
	if err != nil {
		fail(c, statusCode(err), err)
		return
	}
	ok(c, http.StatusOK, records)
}

// todayView は認証済みの管理者が最初に開いたときに当日ビューを有効にします
func (h *Handler) todayView(c *gin.Context) {
	// 購読はリクエストより長く続くのでキャンセルを引き継がない
	ctx := context.WithoutCancel(c.Request.Context())
	if err := h.today.SetEnabled(ctx, true); err != nil {
		fail(c, statusCode(err), err)
		return
	}
	ok(c, http.StatusOK, gin.H{
		"date":   h.today.Today(),
		"groups": h.today.Groups(),
	})
}

// events は変更シグナルを Server-Sent Events で配信します。
// 接続中だけ購読し、切断時に解除します
func (h *Handler) events(c *gin.Context) {
	changed := make(chan struct{}, 1)
	sub := h.signals.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer sub.Unsubscribe()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	log.Debug().Str("subscription_id", sub.ID()).Msg("event stream opened")

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-changed:
			c.SSEvent("reservations-changed", gin.H{"at": time.Now().Format(time.RFC3339)})
			return true
		case <-ticker.C:
			c.SSEvent("ping", "")
			return true
		}
	})

	log.Debug().Str("subscription_id", sub.ID()).Msg("event stream closed")
}
