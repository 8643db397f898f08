package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/quota"
)

type scriptedAdmitter struct {
	decisions []quota.Decision
	err       error
	calls     int
	lastUser  uint
}

func (s *scriptedAdmitter) Admit(_ context.Context, userID uint) (quota.Decision, error) {
	s.lastUser = userID
	if s.err != nil {
		return quota.Decision{}, s.err
	}
	d := s.decisions[s.calls]
	s.calls++
	return d, nil
}

func quotaRouter(a Admitter, replay bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		SetUserID(c, 5)
		if replay {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	})
	r.Use(Quota(a))
	r.POST("/send", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	return r
}

func TestQuota_AdmitsThenDenies(t *testing.T) {
	a := &scriptedAdmitter{decisions: []quota.Decision{
		{Allowed: true, Limit: 5, Remaining: 0, ResetAfter: 90*time.Minute + 500*time.Millisecond},
		{Allowed: false, Limit: 5, Remaining: 0, ResetAfter: 90 * time.Minute, Reason: quota.DenyReason},
	}}
	r := quotaRouter(a, false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/send", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("first status = %d", w.Code)
	}
	if a.lastUser != 5 {
		t.Fatalf("admitter saw user %d", a.lastUser)
	}
	h := w.Header()
	if h.Get("RateLimit-Limit") != "5" || h.Get("RateLimit-Remaining") != "0" || h.Get("RateLimit-Reset") != "5401" {
		t.Fatalf("headers = %v", h)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/send", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != "quota_exceeded" || body["message"] != quota.DenyReason {
		t.Fatalf("unexpected body: %v", body)
	}
	if w.Header().Get("Retry-After") != "5400" {
		t.Fatalf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
}

func TestQuota_ReplaySkipsAdmission(t *testing.T) {
	a := &scriptedAdmitter{}
	w := httptest.NewRecorder()
	quotaRouter(a, true).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/send", nil))

	if w.Code != http.StatusAccepted || a.calls != 0 {
		t.Fatalf("status = %d, calls = %d", w.Code, a.calls)
	}
	if w.Header().Get("RateLimit-Limit") != "" {
		t.Fatalf("replay must not report quota headers")
	}
}

func TestQuota_AdmissionErrorIs500(t *testing.T) {
	captureLogger(t)
	a := &scriptedAdmitter{err: errors.New("redis down")}
	w := httptest.NewRecorder()
	quotaRouter(a, false).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/send", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "internal_error" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestQuota_WithRealLimiter(t *testing.T) {
	l := quota.NewLimiter(quota.NewMemoryStore(), quota.TierSourceFunc(func(context.Context, uint) (domain.Tier, error) {
		return domain.TierBasic, nil
	}), quota.Limits{Basic: 2, Pro: 10, Window: time.Hour})
	r := quotaRouter(l, false)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/send", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusAccepted || codes[1] != http.StatusAccepted || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}
