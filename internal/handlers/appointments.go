package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"dsolar/internal/services"
)

// 预约相关的页面与公开接口：预约表单、确认链接、自助取消与确认邮件重发。

func appointmentSubject(id uint64) string { return fmt.Sprintf("appointment:%d", id) }

// bookingErrorMessage 将预约错误转换为面向访客的提示文本。
func bookingErrorMessage(err error) string {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		return fmt.Sprintf("Please check the %s field.", strings.ReplaceAll(ve.Field, "_", " "))
	case errors.Is(err, services.ErrSlotUnavailable):
		return "That time slot is no longer available. Please choose another one."
	case errors.Is(err, services.ErrConflict):
		return "You already requested this time slot. Please check your inbox for the confirmation email."
	default:
		return "Something went wrong on our side. Please try again in a few minutes."
	}
}

func (h *Handler) renderBookForm(c *gin.Context, status int, form services.BookingInput, msg string) {
	pkgs, err := h.pkgSvc.ListActive(c, "")
	if err != nil {
		log.WithError(err).Warn("book page: list packages")
	}
	h.render(c, status, "book.html", gin.H{
		"Title":    "Book a consultation",
		"CSRF":     h.issueCSRF(c),
		"Packages": pkgs,
		"Form":     form,
		"Error":    msg,
		"TokenTTL": humanDuration(h.cfg.Booking.TokenTTL),
	})
}

// @Summary      预约表单页
// @Description  渲染预约表单（带 CSRF），可通过 monthly_bill 参数从计算器带入月电费
// @Tags         appointments
// @Produce      html
// @Param        monthly_bill query number false "月电费"
// @Success      200 {string} string "HTML"
// @Router       /book [get]
func (h *Handler) bookPage(c *gin.Context) {
	var form services.BookingInput
	_ = c.ShouldBindQuery(&form)
	setNoCache(c)
	h.renderBookForm(c, http.StatusOK, form, "")
}

// @Summary      提交预约（表单）
// @Description  校验 CSRF 与表单字段，创建待客户确认的预约并发送确认邮件
// @Tags         appointments
// @Accept       x-www-form-urlencoded
// @Produce      html
// @Param        csrf_token formData string true  "CSRF 令牌"
// @Param        name       formData string true  "姓名"
// @Param        email      formData string true  "邮箱"
// @Param        phone      formData string true  "电话"
// @Param        address    formData string true  "地址"
// @Param        date       formData string true  "日期 YYYY-MM-DD"
// @Param        time       formData string true  "时段 HH:MM"
// @Success      201 {string} string "HTML"
// @Failure      400 {string} string "HTML"
// @Failure      403 {string} string "HTML"
// @Failure      409 {string} string "HTML"
// @Failure      429 {object} map[string]string
// @Router       /book [post]
func (h *Handler) bookSubmit(c *gin.Context) {
	if !validateCSRF(c) {
		h.errorPage(c, http.StatusForbidden, "Your form has expired. Please reload the booking page and try again.")
		return
	}
	var in services.BookingInput
	if err := c.ShouldBind(&in); err != nil {
		h.renderBookForm(c, http.StatusBadRequest, in, "Please check the form and try again.")
		return
	}
	res, err := h.apptSvc.Book(c, in)
	if err != nil {
		status, _ := errorStatus(err)
		if status >= 500 {
			log.WithError(err).Error("book appointment")
		}
		h.renderBookForm(c, status, in, bookingErrorMessage(err))
		return
	}
	h.auditBooked(c, res)
	setNoCache(c)
	h.render(c, http.StatusCreated, "book_result.html", gin.H{
		"Title":       "Check your inbox",
		"Appointment": res.Appointment,
		"EmailSent":   res.EmailSent,
	})
}

func (h *Handler) auditBooked(c *gin.Context, res *services.BookingResult) {
	a := res.Appointment
	desc := fmt.Sprintf("slot %s, email sent: %t", a.SlotStart.In(h.loc).Format("2006-01-02 15:04"), res.EmailSent)
	h.audit(c, "INFO", "APPOINTMENT_BOOKED", nil, appointmentSubject(a.ID), desc)
}

// @Summary      提交预约（JSON）
// @Description  与 /book 相同的预约流程，供前端脚本与合作方嵌入调用；支持 JSON 或表单
// @Tags         appointments-api
// @Accept       json
// @Produce      json
// @Param        body body services.BookingInput true "预约信息"
// @Success      201 {object} map[string]interface{}
// @Failure      400 {object} map[string]string
// @Failure      409 {object} map[string]string
// @Failure      429 {object} map[string]string
// @Router       /api/appointments [post]
func (h *Handler) apiBook(c *gin.Context) {
	var in services.BookingInput
	if err := c.ShouldBind(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	res, err := h.apptSvc.Book(c, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.auditBooked(c, res)
	a := res.Appointment
	c.JSON(http.StatusCreated, gin.H{
		"id":         a.ID,
		"status":     a.Status,
		"slot_start": a.SlotStart,
		"email_sent": res.EmailSent,
	})
}

// @Summary      查询可预约时段
// @Tags         appointments-api
// @Produce      json
// @Param        date query string true "日期 YYYY-MM-DD"
// @Success      200 {object} services.DayAvailability
// @Failure      400 {object} map[string]string
// @Router       /api/appointments/availability [get]
func (h *Handler) apiAvailability(c *gin.Context) {
	day, err := h.apptSvc.Availability(c, c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	setNoCache(c)
	c.JSON(http.StatusOK, day)
}

type resendReq struct {
	Email string `json:"email" form:"email" binding:"required,email"`
}

// @Summary      重发确认邮件
// @Description  为该邮箱最近一条待确认预约签发新令牌；为避免枚举，只要格式正确一律返回 202
// @Tags         appointments-api
// @Accept       json
// @Produce      json
// @Param        body body resendReq true "{email}"
// @Success      202 {object} map[string]string
// @Failure      400 {object} map[string]string
// @Failure      429 {object} map[string]string
// @Router       /api/appointments/resend [post]
func (h *Handler) apiResend(c *gin.Context) {
	var req resendReq
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrValidation.Error(), "field": "email"})
		return
	}
	err := h.apptSvc.Resend(c, req.Email)
	switch {
	case err == nil:
		h.audit(c, "INFO", "APPOINTMENT_TOKEN_RESENT", nil, "", "confirmation link re-issued")
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrSlotUnavailable), errors.Is(err, services.ErrValidation):
		log.WithError(err).Debug("resend skipped")
	default:
		log.WithError(err).Warn("resend confirmation failed")
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// @Summary      客户确认预约
// @Description  邮件中的确认链接：令牌未知返回 400，过期返回 410，重复访问幂等
// @Tags         appointments
// @Produce      html
// @Param        token query string true "确认令牌"
// @Success      200 {string} string "HTML"
// @Failure      400 {string} string "HTML"
// @Failure      409 {string} string "HTML"
// @Failure      410 {string} string "HTML"
// @Router       /appointments/confirm [get]
func (h *Handler) confirmAppointment(c *gin.Context) {
	setNoCache(c)
	res, err := h.apptSvc.Confirm(c, c.Query("token"))
	if err != nil {
		h.appointmentError(c, err)
		return
	}
	if !res.Already {
		h.audit(c, "INFO", "APPOINTMENT_CONFIRMED", nil, appointmentSubject(res.Appointment.ID), "confirmed by customer")
	}
	msg := "Thank you! Your booking is confirmed on your side. Our team will review it and get back to you shortly."
	if res.Already {
		msg = "This booking was already confirmed. There is nothing else you need to do."
	}
	h.render(c, http.StatusOK, "appointment_result.html", gin.H{
		"Title": "Booking confirmed", "Kind": "success", "Heading": "Booking confirmed",
		"Message": msg, "Appointment": res.Appointment,
	})
}

// @Summary      客户自助取消预约
// @Description  管理员确认后邮件中附带的签名链接（JWT），仅可取消待审核或已确认的预约
// @Tags         appointments
// @Produce      html
// @Param        token query string true "管理链接令牌"
// @Success      200 {string} string "HTML"
// @Failure      400 {string} string "HTML"
// @Failure      409 {string} string "HTML"
// @Failure      410 {string} string "HTML"
// @Router       /appointments/cancel [get]
func (h *Handler) cancelAppointment(c *gin.Context) {
	setNoCache(c)
	a, err := h.apptSvc.CancelByLink(c, c.Query("token"))
	if err != nil {
		h.appointmentError(c, err)
		return
	}
	h.audit(c, "INFO", "APPOINTMENT_CANCELLED", nil, appointmentSubject(a.ID), "cancelled by customer")
	h.render(c, http.StatusOK, "appointment_result.html", gin.H{
		"Title": "Booking cancelled", "Kind": "success", "Heading": "Booking cancelled",
		"Message": "Your consultation has been cancelled. You are welcome to book again any time.", "Appointment": a,
	})
}

// appointmentError 渲染确认/取消链接的失败页面。
func (h *Handler) appointmentError(c *gin.Context, err error) {
	status, _ := errorStatus(err)
	data := gin.H{"Title": "Link problem", "Kind": "invalid", "Heading": "This link is not valid"}
	switch {
	case errors.Is(err, services.ErrTokenExpired):
		data["Kind"] = "expired"
		data["Heading"] = "This link has expired"
		data["Message"] = "Unconfirmed bookings are released after a while. You can request a new confirmation link from the booking page."
	case errors.Is(err, services.ErrSlotUnavailable):
		data["Heading"] = "Time slot no longer available"
		data["Message"] = "Someone else confirmed this time slot first. Please book another time."
	case errors.Is(err, services.ErrInvalidTransition):
		data["Heading"] = "Booking can no longer be changed"
		data["Message"] = "This booking has already been closed. Contact us if you need help."
	case errors.Is(err, services.ErrTokenInvalid):
		data["Message"] = "We could not find a booking for this link. Please use the latest email we sent you."
	default:
		log.WithError(err).Error("appointment link")
		data["Heading"] = "Something went wrong"
		data["Message"] = "Please try again in a few minutes."
	}
	h.render(c, status, "appointment_result.html", data)
}
