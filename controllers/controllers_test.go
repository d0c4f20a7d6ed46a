package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"enrollment-service/controllers"
	"enrollment-service/middleware"
	"enrollment-service/models"
	"enrollment-service/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- fakes implementing the service interfaces ----

type fakeOrderSvc struct {
	gotBuyer   string
	gotCourses []string
	resp       *models.CreateOrderResponse
	order      *models.Order
	err        *services.ServiceError
}

func (f *fakeOrderSvc) CreateOrder(_ context.Context, buyerID string, courseIDs []string) (*models.CreateOrderResponse, *services.ServiceError) {
	f.gotBuyer, f.gotCourses = buyerID, courseIDs
	return f.resp, f.err
}

func (f *fakeOrderSvc) GetOrder(_ context.Context, buyerID, _ string) (*models.Order, *services.ServiceError) {
	f.gotBuyer = buyerID
	return f.order, f.err
}

type fakePaymentSvc struct {
	gotVerify  services.VerifyRequest
	gotSig     string
	gotBody    []byte
	result     *services.VerifyResult
	webhook    *services.WebhookResult
	err        *services.ServiceError
	verifyCall int
}

func (f *fakePaymentSvc) Verify(_ context.Context, req services.VerifyRequest) (*services.VerifyResult, *services.ServiceError) {
	f.verifyCall++
	f.gotVerify = req
	return f.result, f.err
}

func (f *fakePaymentSvc) HandleRazorpayWebhook(_ context.Context, body []byte, sig string) (*services.WebhookResult, *services.ServiceError) {
	f.gotBody, f.gotSig = body, sig
	return f.webhook, f.err
}

func (f *fakePaymentSvc) HandleStripeWebhook(_ context.Context, body []byte, sig string) (*services.WebhookResult, *services.ServiceError) {
	f.gotBody, f.gotSig = body, sig
	return f.webhook, f.err
}

type fakeEnrollmentSvc struct {
	gotStudent, gotCourse string
	list                  *services.EnrollmentList
	err                   *services.ServiceError
}

func (f *fakeEnrollmentSvc) ListEnrollments(_ context.Context, studentID, courseID string) (*services.EnrollmentList, *services.ServiceError) {
	f.gotStudent, f.gotCourse = studentID, courseID
	return f.list, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

// ---- helpers ----

func setupRouter(orders services.OrderService, payments services.PaymentService, enrollments services.EnrollmentService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	controllers.RegisterValidators()
	r := gin.New()

	oc := controllers.NewOrderController(orders)
	pc := controllers.NewPaymentController(payments)
	wc := controllers.NewWebhookController(payments, zap.NewNop())
	ec := controllers.NewEnrollmentController(enrollments)

	authed := r.Group("/", middleware.AuthMiddleware())
	authed.POST("/orders", oc.CreateOrder)
	authed.POST("/orders/verify", pc.VerifyPayment)
	authed.GET("/orders/:id", oc.GetOrder)
	authed.GET("/enrollments", ec.ListEnrollments)
	r.POST("/webhooks/razorpay", wc.Razorpay)
	r.POST("/webhooks/stripe", wc.Stripe)
	return r
}

func doJSON(r *gin.Engine, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func svcErr(kind services.ErrorKind, status int, msg string) *services.ServiceError {
	return &services.ServiceError{Kind: kind, StatusCode: status, Message: msg}
}

// ---- orders ----

func TestCreateOrder_Success(t *testing.T) {
	orders := &fakeOrderSvc{resp: &models.CreateOrderResponse{
		OrderID: "order_abc", Amount: decimal.NewFromInt(500), AmountMinor: 50000, Currency: "INR", Receipt: "rcpt_1",
	}}
	r := setupRouter(orders, &fakePaymentSvc{}, &fakeEnrollmentSvc{})

	w := doJSON(r, http.MethodPost, "/orders", "u1", map[string]interface{}{"courseIds": []string{"c1"}})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "u1", orders.gotBuyer)
	assert.Equal(t, []string{"c1"}, orders.gotCourses)
	body := decode(t, w)
	assert.Equal(t, "order_abc", body["orderId"])
	assert.EqualValues(t, 50000, body["amountMinor"])
}

func TestCreateOrder_BuyerMismatch(t *testing.T) {
	orders := &fakeOrderSvc{}
	r := setupRouter(orders, &fakePaymentSvc{}, &fakeEnrollmentSvc{})

	w := doJSON(r, http.MethodPost, "/orders", "u1", map[string]interface{}{"buyerId": "u2", "courseIds": []string{"c1"}})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, orders.gotBuyer)
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	r := setupRouter(&fakeOrderSvc{}, &fakePaymentSvc{}, &fakeEnrollmentSvc{})

	w := doJSON(r, http.MethodPost, "/orders", "u1", map[string]interface{}{"courseIds": []string{}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ValidationError", decode(t, w)["errorKind"])
}

func TestCreateOrder_CourseUnavailable(t *testing.T) {
	orders := &fakeOrderSvc{err: svcErr(services.KindCourseUnavailable, http.StatusBadRequest, "course c9 is not available")}
	r := setupRouter(orders, &fakePaymentSvc{}, &fakeEnrollmentSvc{})

	w := doJSON(r, http.MethodPost, "/orders", "u1", map[string]interface{}{"courseIds": []string{"c9"}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "CourseUnavailable", body["errorKind"])
	assert.Equal(t, "course c9 is not available", body["error"])
}

func TestCreateOrder_Unauthorized(t *testing.T) {
	r := setupRouter(&fakeOrderSvc{}, &fakePaymentSvc{}, &fakeEnrollmentSvc{})
	w := doJSON(r, http.MethodPost, "/orders", "", map[string]interface{}{"courseIds": []string{"c1"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetOrder(t *testing.T) {
	orders := &fakeOrderSvc{order: &models.Order{OrderID: "order_abc", BuyerID: "u1", Status: models.OrderStatusPending}}
	r := setupRouter(orders, &fakePaymentSvc{}, &fakeEnrollmentSvc{})

	w := doJSON(r, http.MethodGet, "/orders/order_abc", "u1", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	order := decode(t, w)["order"].(map[string]interface{})
	assert.Equal(t, "pending", order["status"])
}

// ---- verify ----

func verifyBody() map[string]string {
	return map[string]string{"orderId": "order_abc", "paymentId": "pay_123", "signature": "deadbeef"}
}

func TestVerify_Fulfilled(t *testing.T) {
	payments := &fakePaymentSvc{result: &services.VerifyResult{
		Success: true, Status: services.StatusFulfilled, OrderID: "order_abc",
		Enrollments: []models.EnrollmentRef{{StudentID: "u1", CourseID: "c1"}},
	}}
	r := setupRouter(&fakeOrderSvc{}, payments, &fakeEnrollmentSvc{})

	w := doJSON(r, http.MethodPost, "/orders/verify", "u1", verifyBody())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", payments.gotVerify.BuyerID)
	assert.Equal(t, "pay_123", payments.gotVerify.PaymentID)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "fulfilled", body["status"])
	assert.Len(t, body["enrollments"], 1)
}

func TestVerify_Processing(t *testing.T) {
	payments := &fakePaymentSvc{result: &services.VerifyResult{Status: services.StatusProcessing, OrderID: "order_abc"}}
	r := setupRouter(&fakeOrderSvc{}, payments, &fakeEnrollmentSvc{})

	w := doJSON(r, http.MethodPost, "/orders/verify", "u1", verifyBody())

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "processing", decode(t, w)["status"])
}

func TestVerify_StoreFailureIsAccepted(t *testing.T) {
	payments := &fakePaymentSvc{err: svcErr(services.KindStoreFailure, http.StatusAccepted, "payment received; course access is pending")}
	r := setupRouter(&fakeOrderSvc{}, payments, &fakeEnrollmentSvc{})

	w := doJSON(r, http.MethodPost, "/orders/verify", "u1", verifyBody())

	assert.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "pending_reconciliation", body["status"])
	assert.Equal(t, "StoreFailure", body["errorKind"])
}

func TestVerify_ErrorKinds(t *testing.T) {
	tests := []struct {
		kind   services.ErrorKind
		status int
	}{
		{services.KindSignatureInvalid, http.StatusBadRequest},
		{services.KindAmountMismatch, http.StatusConflict},
		{services.KindPaymentNotComplete, http.StatusConflict},
		{services.KindNotFound, http.StatusNotFound},
		{services.KindGatewayUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			payments := &fakePaymentSvc{err: svcErr(tt.kind, tt.status, "invalid payment")}
			r := setupRouter(&fakeOrderSvc{}, payments, &fakeEnrollmentSvc{})

			w := doJSON(r, http.MethodPost, "/orders/verify", "u1", verifyBody())

			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, string(tt.kind), body["errorKind"])
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestVerify_MissingFields(t *testing.T) {
	payments := &fakePaymentSvc{}
	r := setupRouter(&fakeOrderSvc{}, payments, &fakeEnrollmentSvc{})

	w := doJSON(r, http.MethodPost, "/orders/verify", "u1", map[string]string{"orderId": "order_abc"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, payments.verifyCall)
}

func TestVerify_RejectsMalformedIDs(t *testing.T) {
	payments := &fakePaymentSvc{}
	r := setupRouter(&fakeOrderSvc{}, payments, &fakeEnrollmentSvc{})

	body := verifyBody()
	body["paymentId"] = "pay_123' OR 1=1"
	w := doJSON(r, http.MethodPost, "/orders/verify", "u1", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, payments.verifyCall)
}

func TestCreateOrder_RejectsMalformedCourseID(t *testing.T) {
	orders := &fakeOrderSvc{}
	r := setupRouter(orders, &fakePaymentSvc{}, &fakeEnrollmentSvc{})

	w := doJSON(r, http.MethodPost, "/orders", "u1", map[string]interface{}{"courseIds": []string{"c1", "../etc"}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, orders.gotBuyer)
}

func TestVerify_BuyerMismatch(t *testing.T) {
	payments := &fakePaymentSvc{}
	r := setupRouter(&fakeOrderSvc{}, payments, &fakeEnrollmentSvc{})

	body := verifyBody()
	body["buyerId"] = "someone_else"
	w := doJSON(r, http.MethodPost, "/orders/verify", "u1", body)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, payments.verifyCall)
}

// ---- webhooks ----

func postRaw(r *gin.Engine, path, header, sig, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set(header, sig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRazorpayWebhook_PassesRawBody(t *testing.T) {
	payments := &fakePaymentSvc{webhook: &services.WebhookResult{Status: "fulfilled", OrderID: "order_abc"}}
	r := setupRouter(&fakeOrderSvc{}, payments, &fakeEnrollmentSvc{})

	w := postRaw(r, "/webhooks/razorpay", "X-Razorpay-Signature", "sig", `{"event":"payment.captured"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"event":"payment.captured"}`, string(payments.gotBody))
	assert.Equal(t, "sig", payments.gotSig)
	assert.Equal(t, "fulfilled", decode(t, w)["status"])
}

func TestWebhook_ResponseCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    *services.ServiceError
		status int
		body   string
	}{
		{"bad signature", svcErr(services.KindSignatureInvalid, http.StatusBadRequest, "invalid payment"), http.StatusBadRequest, ""},
		{"amount mismatch acknowledged", svcErr(services.KindAmountMismatch, http.StatusConflict, "amount mismatch"), http.StatusOK, "AmountMismatch"},
		{"pending acknowledged", svcErr(services.KindStoreFailure, http.StatusAccepted, "pending"), http.StatusOK, "pending_reconciliation"},
		{"gateway down retried", svcErr(services.KindGatewayUnavailable, http.StatusServiceUnavailable, "gateway unavailable"), http.StatusServiceUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := &fakePaymentSvc{err: tt.err}
			r := setupRouter(&fakeOrderSvc{}, payments, &fakeEnrollmentSvc{})

			w := postRaw(r, "/webhooks/stripe", "Stripe-Signature", "t=1,v1=abc", `{}`)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "t=1,v1=abc", payments.gotSig)
			if tt.body != "" {
				assert.Equal(t, tt.body, decode(t, w)["status"])
			}
		})
	}
}

// ---- enrollments ----

func TestListEnrollments(t *testing.T) {
	enrollments := &fakeEnrollmentSvc{list: &services.EnrollmentList{
		Enrollments: []models.Enrollment{{StudentID: "u1", CourseID: "c1", IsActive: true}},
		Enrolled:    true,
	}}
	r := setupRouter(&fakeOrderSvc{}, &fakePaymentSvc{}, enrollments)

	w := doJSON(r, http.MethodGet, "/enrollments?courseId=c1", "u1", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", enrollments.gotStudent)
	assert.Equal(t, "c1", enrollments.gotCourse)
	body := decode(t, w)
	assert.Equal(t, true, body["enrolled"])
	assert.Len(t, body["enrollments"], 1)
}

// ---- health ----

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name       string
		configured bool
		pingErr    error
		status     int
	}{
		{"healthy", true, nil, http.StatusOK},
		{"gateway not configured", false, nil, http.StatusServiceUnavailable},
		{"database down", true, errors.New("conn refused"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			hc := controllers.NewHealthController("enrollment-service", "razorpay", tt.configured, fakePinger{err: tt.pingErr})
			r.GET("/health", hc.Health)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.configured, body["gatewayConfigured"])
			assert.Equal(t, "razorpay", body["gateway"])
		})
	}
}
