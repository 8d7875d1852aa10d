package payments

import (
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/loc-ne/roomstay-backend/internal/transactions"
	"github.com/loc-ne/roomstay-backend/pkg/db/models"
	"github.com/loc-ne/roomstay-backend/pkg/enums"
	pkgerrors "github.com/loc-ne/roomstay-backend/pkg/errors"
	"github.com/loc-ne/roomstay-backend/pkg/logger"
	"github.com/loc-ne/roomstay-backend/pkg/vnpay"
)

type stubGateway struct {
	urlErr        error
	verifyResult  bool
	refundResult  *vnpay.RefundResult
	refundErr     error
	lastURLInput  vnpay.PaymentURLInput
	refundCalls   int
	lastRefundRef string
}

func (g *stubGateway) CreatePaymentURL(ctx context.Context, in vnpay.PaymentURLInput) (string, error) {
	g.lastURLInput = in
	if g.urlErr != nil {
		return "", g.urlErr
	}
	return "https://gateway.example/pay?vnp_TxnRef=" + in.OrderRef, nil
}

func (g *stubGateway) VerifySignature(params url.Values) bool {
	return g.verifyResult
}

func (g *stubGateway) Refund(ctx context.Context, in vnpay.RefundInput) (*vnpay.RefundResult, error) {
	g.refundCalls++
	g.lastRefundRef = in.OrderRef
	return g.refundResult, g.refundErr
}

type stubLedger struct {
	created       []transactions.CreateInput
	createErr     error
	statusUpdates map[string]enums.TransactionStatus
	statusErr     error
	settled       map[string]bool
	recordResult  *transactions.RecordSuccessResult
	recordErr     error
	recordCalls   int
	lastOrderRef  string
	lastGatewayNo string
}

func newStubLedger() *stubLedger {
	return &stubLedger{
		statusUpdates: make(map[string]enums.TransactionStatus),
		settled:       make(map[string]bool),
	}
}

func (l *stubLedger) Create(ctx context.Context, in transactions.CreateInput) (*models.Transaction, error) {
	if l.createErr != nil {
		return nil, l.createErr
	}
	l.created = append(l.created, in)
	return &models.Transaction{ID: uuid.New(), GatewayOrderRef: in.GatewayOrderRef}, nil
}

func (l *stubLedger) UpdateStatusByOrderRef(ctx context.Context, orderRef string, status enums.TransactionStatus) (bool, error) {
	if l.statusErr != nil {
		return false, l.statusErr
	}
	if l.settled[orderRef] {
		return false, nil
	}
	l.statusUpdates[orderRef] = status
	return true, nil
}

func (l *stubLedger) RecordSuccess(ctx context.Context, orderRef, gatewayTransactionNo string) (*transactions.RecordSuccessResult, error) {
	l.recordCalls++
	l.lastOrderRef = orderRef
	l.lastGatewayNo = gatewayTransactionNo
	if l.recordErr != nil {
		return nil, l.recordErr
	}
	l.settled[orderRef] = true
	if l.recordResult != nil {
		return l.recordResult, nil
	}
	return &transactions.RecordSuccessResult{}, nil
}

func (l *stubLedger) ListForUser(ctx context.Context, params transactions.ListParams) (*transactions.ListResult, error) {
	return nil, nil
}

type stubBookingFinder struct {
	bookings map[uuid.UUID]*models.Booking
}

func (f *stubBookingFinder) FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return f.bookings[id], nil
}

func newTestService(t *testing.T, gateway *stubGateway, ledger *stubLedger, finder *stubBookingFinder) *service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(gateway, ledger, finder, logg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	impl := svc.(*service)
	impl.now = func() time.Time { return time.Unix(1700000000, 0) }
	return impl
}

func approvedBooking() *models.Booking {
	return &models.Booking{
		ID:            uuid.New(),
		RenterID:      uuid.New(),
		UnitID:        uuid.New(),
		Status:        enums.BookingStatusApproved,
		DepositAmount: 1_000_000,
		TotalPrice:    5_000_000,
	}
}

func TestCreatePaymentURL(t *testing.T) {
	booking := approvedBooking()
	gateway := &stubGateway{}
	ledger := newStubLedger()
	finder := &stubBookingFinder{bookings: map[uuid.UUID]*models.Booking{booking.ID: booking}}
	svc := newTestService(t, gateway, ledger, finder)

	result, err := svc.CreatePaymentURL(context.Background(), CreateURLInput{
		UserID:    booking.RenterID,
		BookingID: booking.ID,
		ClientIP:  "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("create payment url: %v", err)
	}

	if !strings.HasPrefix(result.OrderRef, "BK") {
		t.Fatalf("unexpected order ref %s", result.OrderRef)
	}
	if len(ledger.created) != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", len(ledger.created))
	}
	if ledger.created[0].Amount != booking.DepositAmount {
		t.Fatalf("transaction amount must equal deposit, got %d", ledger.created[0].Amount)
	}
	if gateway.lastURLInput.Amount != booking.DepositAmount {
		t.Fatalf("gateway amount must equal deposit, got %d", gateway.lastURLInput.Amount)
	}
	if gateway.lastURLInput.OrderRef != result.OrderRef {
		t.Fatal("ledger and gateway must share one order ref")
	}
}

func TestCreatePaymentURLAmountMismatch(t *testing.T) {
	booking := approvedBooking()
	ledger := newStubLedger()
	finder := &stubBookingFinder{bookings: map[uuid.UUID]*models.Booking{booking.ID: booking}}
	svc := newTestService(t, &stubGateway{}, ledger, finder)

	_, err := svc.CreatePaymentURL(context.Background(), CreateURLInput{
		UserID:    booking.RenterID,
		BookingID: booking.ID,
		Amount:    999_999,
	})
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeInvalidAmount {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if len(ledger.created) != 0 {
		t.Fatal("no transaction must be created on amount mismatch")
	}
}

func TestCreatePaymentURLWrongRenter(t *testing.T) {
	booking := approvedBooking()
	finder := &stubBookingFinder{bookings: map[uuid.UUID]*models.Booking{booking.ID: booking}}
	svc := newTestService(t, &stubGateway{}, newStubLedger(), finder)

	_, err := svc.CreatePaymentURL(context.Background(), CreateURLInput{
		UserID:    uuid.New(),
		BookingID: booking.ID,
	})
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCreatePaymentURLUnapprovedBooking(t *testing.T) {
	booking := approvedBooking()
	booking.Status = enums.BookingStatusPending
	finder := &stubBookingFinder{bookings: map[uuid.UUID]*models.Booking{booking.ID: booking}}
	svc := newTestService(t, &stubGateway{}, newStubLedger(), finder)

	_, err := svc.CreatePaymentURL(context.Background(), CreateURLInput{
		UserID:    booking.RenterID,
		BookingID: booking.ID,
	})
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func callbackParams(orderRef, responseCode string) url.Values {
	values := url.Values{}
	values.Set("vnp_TxnRef", orderRef)
	values.Set("vnp_ResponseCode", responseCode)
	values.Set("vnp_TransactionNo", "14422574")
	values.Set("vnp_SecureHash", "deadbeef")
	return values
}

func TestHandleReturnSuccess(t *testing.T) {
	gateway := &stubGateway{verifyResult: true}
	ledger := newStubLedger()
	svc := newTestService(t, gateway, ledger, &stubBookingFinder{})

	result, err := svc.HandleReturn(context.Background(), callbackParams("BK1_1700000000", "00"))
	if err != nil {
		t.Fatalf("handle return: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success result")
	}
	if ledger.recordCalls != 1 || ledger.lastOrderRef != "BK1_1700000000" || ledger.lastGatewayNo != "14422574" {
		t.Fatalf("record success not invoked correctly: %+v", ledger)
	}
}

func TestHandleReturnDeclined(t *testing.T) {
	gateway := &stubGateway{verifyResult: true}
	ledger := newStubLedger()
	svc := newTestService(t, gateway, ledger, &stubBookingFinder{})

	result, err := svc.HandleReturn(context.Background(), callbackParams("BK1_1700000000", "24"))
	if err != nil {
		t.Fatalf("handle return: %v", err)
	}
	if result.Success {
		t.Fatal("declined payment must not be reported as success")
	}
	if ledger.statusUpdates["BK1_1700000000"] != enums.TransactionStatusFailed {
		t.Fatal("declined payment must mark the transaction failed")
	}
	if ledger.recordCalls != 0 {
		t.Fatal("declined payment must not record success")
	}
}

func TestHandleReturnBadSignature(t *testing.T) {
	gateway := &stubGateway{verifyResult: false}
	ledger := newStubLedger()
	svc := newTestService(t, gateway, ledger, &stubBookingFinder{})

	_, err := svc.HandleReturn(context.Background(), callbackParams("BK1_1700000000", "00"))
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeGatewaySignature {
		t.Fatalf("expected signature error, got %v", err)
	}
	if ledger.recordCalls != 0 || len(ledger.statusUpdates) != 0 {
		t.Fatal("unverified callback must have no effect")
	}
}

func TestHandleIPNSuccess(t *testing.T) {
	gateway := &stubGateway{verifyResult: true}
	ledger := newStubLedger()
	svc := newTestService(t, gateway, ledger, &stubBookingFinder{})

	resp := svc.HandleIPN(context.Background(), callbackParams("BK1_1700000000", "00"))
	if resp != ipnConfirmSuccess {
		t.Fatalf("expected confirm success, got %+v", resp)
	}
}

func TestHandleIPNDuplicate(t *testing.T) {
	gateway := &stubGateway{verifyResult: true}
	ledger := newStubLedger()
	ledger.recordResult = &transactions.RecordSuccessResult{AlreadyProcessed: true}
	svc := newTestService(t, gateway, ledger, &stubBookingFinder{})

	resp := svc.HandleIPN(context.Background(), callbackParams("BK1_1700000000", "00"))
	if resp != ipnAlreadyConfirmed {
		t.Fatalf("expected already confirmed, got %+v", resp)
	}
}

func TestHandleIPNUnknownOrder(t *testing.T) {
	gateway := &stubGateway{verifyResult: true}
	ledger := newStubLedger()
	ledger.recordErr = pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	svc := newTestService(t, gateway, ledger, &stubBookingFinder{})

	resp := svc.HandleIPN(context.Background(), callbackParams("missing", "00"))
	if resp != ipnOrderNotFound {
		t.Fatalf("expected order not found, got %+v", resp)
	}
}

func TestHandleIPNBadSignature(t *testing.T) {
	gateway := &stubGateway{verifyResult: false}
	ledger := newStubLedger()
	svc := newTestService(t, gateway, ledger, &stubBookingFinder{})

	resp := svc.HandleIPN(context.Background(), callbackParams("BK1_1700000000", "00"))
	if resp != ipnInvalidChecksum {
		t.Fatalf("expected invalid checksum, got %+v", resp)
	}
	if ledger.recordCalls != 0 {
		t.Fatal("unverified ipn must have no effect")
	}
}

func TestHandleIPNDeclined(t *testing.T) {
	gateway := &stubGateway{verifyResult: true}
	ledger := newStubLedger()
	svc := newTestService(t, gateway, ledger, &stubBookingFinder{})

	resp := svc.HandleIPN(context.Background(), callbackParams("BK1_1700000000", "24"))
	if resp != ipnConfirmSuccess {
		t.Fatalf("expected confirm success for recorded decline, got %+v", resp)
	}
	if ledger.statusUpdates["BK1_1700000000"] != enums.TransactionStatusFailed {
		t.Fatal("declined ipn must mark the transaction failed")
	}
}

func TestHandleIPNDeclineAfterSettlement(t *testing.T) {
	gateway := &stubGateway{verifyResult: true}
	ledger := newStubLedger()
	svc := newTestService(t, gateway, ledger, &stubBookingFinder{})

	resp := svc.HandleIPN(context.Background(), callbackParams("BK1_1700000000", "00"))
	if resp != ipnConfirmSuccess {
		t.Fatalf("expected confirm success, got %+v", resp)
	}

	resp = svc.HandleIPN(context.Background(), callbackParams("BK1_1700000000", "24"))
	if resp != ipnAlreadyConfirmed {
		t.Fatalf("expected already confirmed for late decline, got %+v", resp)
	}
	if _, ok := ledger.statusUpdates["BK1_1700000000"]; ok {
		t.Fatal("late decline must not overwrite a settled transaction")
	}
	if ledger.recordCalls != 1 {
		t.Fatalf("expected a single success recording, got %d", ledger.recordCalls)
	}
}

func TestHandleReturnDeclineAfterSettlement(t *testing.T) {
	gateway := &stubGateway{verifyResult: true}
	ledger := newStubLedger()
	ledger.settled["BK1_1700000000"] = true
	svc := newTestService(t, gateway, ledger, &stubBookingFinder{})

	result, err := svc.HandleReturn(context.Background(), callbackParams("BK1_1700000000", "24"))
	if err != nil {
		t.Fatalf("handle return: %v", err)
	}
	if !result.Success {
		t.Fatal("settled payment must still be reported as completed")
	}
	if _, ok := ledger.statusUpdates["BK1_1700000000"]; ok {
		t.Fatal("late decline must not overwrite a settled transaction")
	}
}
