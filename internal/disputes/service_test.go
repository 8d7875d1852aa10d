package disputes

import (
	"context"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/loc-ne/roomstay-backend/internal/bookings"
	"github.com/loc-ne/roomstay-backend/internal/notifications"
	"github.com/loc-ne/roomstay-backend/internal/transactions"
	"github.com/loc-ne/roomstay-backend/internal/units"
	"github.com/loc-ne/roomstay-backend/pkg/db/models"
	"github.com/loc-ne/roomstay-backend/pkg/enums"
	pkgerrors "github.com/loc-ne/roomstay-backend/pkg/errors"
	"github.com/loc-ne/roomstay-backend/pkg/logger"
	"github.com/loc-ne/roomstay-backend/pkg/pagination"
	"github.com/loc-ne/roomstay-backend/pkg/vnpay"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubDisputeRepo struct {
	disputes map[uuid.UUID]*models.Dispute
	resolved []enums.DisputeStatus
}

func newStubDisputeRepo(disputes ...*models.Dispute) *stubDisputeRepo {
	repo := &stubDisputeRepo{disputes: make(map[uuid.UUID]*models.Dispute)}
	for _, dispute := range disputes {
		repo.disputes[dispute.ID] = dispute
	}
	return repo
}

func (r *stubDisputeRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *stubDisputeRepo) Create(ctx context.Context, dispute *models.Dispute) error {
	dispute.ID = uuid.New()
	r.disputes[dispute.ID] = dispute
	return nil
}

func (r *stubDisputeRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return r.disputes[id], nil
}

func (r *stubDisputeRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return r.disputes[id], nil
}

func (r *stubDisputeRepo) ExistsForBooking(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	for _, dispute := range r.disputes {
		if dispute.BookingID == bookingID {
			return true, nil
		}
	}
	return false, nil
}

func (r *stubDisputeRepo) Resolve(ctx context.Context, id uuid.UUID, status enums.DisputeStatus, note string, refundAmount int64) error {
	r.resolved = append(r.resolved, status)
	if dispute, ok := r.disputes[id]; ok {
		dispute.Status = status
		dispute.AdminDecisionNote = &note
		dispute.RefundAmount = refundAmount
	}
	return nil
}

type stubBookingRepo struct {
	bookings      map[uuid.UUID]*models.Booking
	cancelReasons []string
}

func newStubBookingRepo(rows ...*models.Booking) *stubBookingRepo {
	repo := &stubBookingRepo{bookings: make(map[uuid.UUID]*models.Booking)}
	for _, booking := range rows {
		repo.bookings[booking.ID] = booking
	}
	return repo
}

func (r *stubBookingRepo) WithTx(tx *gorm.DB) bookings.Repository { return r }

func (r *stubBookingRepo) Create(ctx context.Context, booking *models.Booking) error { return nil }

func (r *stubBookingRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.bookings[id], nil
}

func (r *stubBookingRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.bookings[id], nil
}

func (r *stubBookingRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.BookingStatus) error {
	if booking, ok := r.bookings[id]; ok {
		booking.Status = status
	}
	return nil
}

func (r *stubBookingRepo) UpdateStatusWithReject(ctx context.Context, id uuid.UUID, status enums.BookingStatus, reason string) error {
	return nil
}

func (r *stubBookingRepo) UpdateStatusWithCancel(ctx context.Context, id uuid.UUID, status enums.BookingStatus, reason string) error {
	r.cancelReasons = append(r.cancelReasons, reason)
	if booking, ok := r.bookings[id]; ok {
		booking.Status = status
		booking.CancelReason = &reason
	}
	return nil
}

func (r *stubBookingRepo) BulkRejectPending(ctx context.Context, unitID, exceptID uuid.UUID, reason string) ([]models.Booking, error) {
	return nil, nil
}

func (r *stubBookingRepo) List(ctx context.Context, params bookings.ListBookingsParams) ([]models.Booking, *pagination.Cursor, error) {
	return nil, nil, nil
}

type stubLedgerRepo struct {
	rows map[uuid.UUID]*models.Transaction

	created       []*models.Transaction
	statusUpdates map[uuid.UUID]enums.TransactionStatus
}

func newStubLedgerRepo(rows ...*models.Transaction) *stubLedgerRepo {
	repo := &stubLedgerRepo{
		rows:          make(map[uuid.UUID]*models.Transaction),
		statusUpdates: make(map[uuid.UUID]enums.TransactionStatus),
	}
	for _, row := range rows {
		repo.rows[row.ID] = row
	}
	return repo
}

func (r *stubLedgerRepo) WithTx(tx *gorm.DB) transactions.Repository { return r }

func (r *stubLedgerRepo) Create(ctx context.Context, transaction *models.Transaction) error {
	transaction.ID = uuid.New()
	r.rows[transaction.ID] = transaction
	r.created = append(r.created, transaction)
	return nil
}

func (r *stubLedgerRepo) FindByOrderRef(ctx context.Context, orderRef string) (*models.Transaction, error) {
	for _, row := range r.rows {
		if row.GatewayOrderRef == orderRef {
			return row, nil
		}
	}
	return nil, nil
}

func (r *stubLedgerRepo) FindByOrderRefForUpdate(ctx context.Context, orderRef string) (*models.Transaction, error) {
	return r.FindByOrderRef(ctx, orderRef)
}

func (r *stubLedgerRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.rows[id], nil
}

func (r *stubLedgerRepo) FindByBookingAndType(ctx context.Context, bookingID uuid.UUID, txType enums.TransactionType) (*models.Transaction, error) {
	for _, row := range r.rows {
		if row.BookingID == bookingID && row.Type == txType {
			return row, nil
		}
	}
	return nil, nil
}

func (r *stubLedgerRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus) error {
	r.statusUpdates[id] = status
	if row, ok := r.rows[id]; ok {
		row.Status = status
	}
	return nil
}

func (r *stubLedgerRepo) MarkSuccess(ctx context.Context, id uuid.UUID, gatewayTransactionNo string) error {
	return nil
}

func (r *stubLedgerRepo) List(ctx context.Context, params transactions.ListTransactionsParams) ([]models.Transaction, *pagination.Cursor, error) {
	return nil, nil, nil
}

type stubUnitsRepo struct {
	units map[uuid.UUID]*models.Unit
}

func (r *stubUnitsRepo) WithTx(tx *gorm.DB) units.Repository { return r }

func (r *stubUnitsRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Unit, error) {
	return r.units[id], nil
}

type stubNotifier struct {
	sent []notifications.NotifyInput
}

func (n *stubNotifier) Notify(ctx context.Context, tx *gorm.DB, in notifications.NotifyInput) error {
	n.sent = append(n.sent, in)
	return nil
}

func (n *stubNotifier) List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	return nil, nil
}

func (n *stubNotifier) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return nil
}

func (n *stubNotifier) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return 0, nil
}

type stubGateway struct {
	refundCalls  []vnpay.RefundInput
	refundResult *vnpay.RefundResult
	refundErr    error
}

func (g *stubGateway) CreatePaymentURL(ctx context.Context, in vnpay.PaymentURLInput) (string, error) {
	return "", nil
}

func (g *stubGateway) VerifySignature(params url.Values) bool { return true }

func (g *stubGateway) Refund(ctx context.Context, in vnpay.RefundInput) (*vnpay.RefundResult, error) {
	g.refundCalls = append(g.refundCalls, in)
	if g.refundErr != nil {
		return g.refundResult, g.refundErr
	}
	if g.refundResult != nil {
		return g.refundResult, nil
	}
	return &vnpay.RefundResult{Success: true, Code: "00", Message: "refund accepted"}, nil
}

type fixture struct {
	svc      Service
	disputes *stubDisputeRepo
	bookings *stubBookingRepo
	ledger   *stubLedgerRepo
	notifier *stubNotifier
	gateway  *stubGateway
}

func newFixture(t *testing.T, disputeRepo *stubDisputeRepo, bookingRepo *stubBookingRepo, ledger *stubLedgerRepo, unitsRepo *stubUnitsRepo, gateway *stubGateway) *fixture {
	t.Helper()
	notifier := &stubNotifier{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(stubTxRunner{}, disputeRepo, bookingRepo, ledger, unitsRepo, notifier, gateway, logg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{
		svc:      svc,
		disputes: disputeRepo,
		bookings: bookingRepo,
		ledger:   ledger,
		notifier: notifier,
		gateway:  gateway,
	}
}

func confirmedScenario() (*models.Unit, *models.Booking, *models.Transaction) {
	unit := &models.Unit{ID: uuid.New(), HostID: uuid.New(), Active: true}
	booking := &models.Booking{
		ID:            uuid.New(),
		RenterID:      uuid.New(),
		UnitID:        unit.ID,
		DepositAmount: 1_000_000,
		TotalPrice:    5_000_000,
		Status:        enums.BookingStatusConfirmed,
	}
	gatewayNo := "14226112"
	deposit := &models.Transaction{
		ID:                   uuid.New(),
		BookingID:            booking.ID,
		UserID:               booking.RenterID,
		Amount:               booking.DepositAmount,
		Type:                 enums.TransactionTypeDeposit,
		Status:               enums.TransactionStatusSuccess,
		GatewayOrderRef:      "BKa1b2c3d4_1700000000",
		GatewayTransactionNo: &gatewayNo,
	}
	return unit, booking, deposit
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != code {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func TestCreateOpensPendingReviewAndNotifiesHost(t *testing.T) {
	unit, booking, _ := confirmedScenario()
	f := newFixture(t, newStubDisputeRepo(), newStubBookingRepo(booking), newStubLedgerRepo(),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{unit.ID: unit}}, &stubGateway{})

	dispute, err := f.svc.Create(context.Background(), CreateInput{
		RenterID:       booking.RenterID,
		BookingID:      booking.ID,
		Reason:         "unit was not as listed",
		EvidenceImages: []string{"img-1", "img-2"},
	})
	if err != nil {
		t.Fatalf("create dispute: %v", err)
	}
	if dispute.Status != enums.DisputeStatusPendingReview {
		t.Fatalf("expected pending review, got %s", dispute.Status)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].UserID != unit.HostID {
		t.Fatalf("expected one host notification, got %+v", f.notifier.sent)
	}
	if f.notifier.sent[0].Type != enums.NotificationDisputeOpened {
		t.Fatalf("unexpected notification type %s", f.notifier.sent[0].Type)
	}
}

func TestCreateUnknownBooking(t *testing.T) {
	f := newFixture(t, newStubDisputeRepo(), newStubBookingRepo(), newStubLedgerRepo(),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{}}, &stubGateway{})

	_, err := f.svc.Create(context.Background(), CreateInput{
		RenterID:  uuid.New(),
		BookingID: uuid.New(),
		Reason:    "no hot water",
	})
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestCreateForbiddenForAnotherRenter(t *testing.T) {
	unit, booking, _ := confirmedScenario()
	f := newFixture(t, newStubDisputeRepo(), newStubBookingRepo(booking), newStubLedgerRepo(),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{unit.ID: unit}}, &stubGateway{})

	_, err := f.svc.Create(context.Background(), CreateInput{
		RenterID:  uuid.New(),
		BookingID: booking.ID,
		Reason:    "no hot water",
	})
	requireCode(t, err, pkgerrors.CodeForbidden)
}

func TestCreateRequiresApprovedOrConfirmedBooking(t *testing.T) {
	unit, booking, _ := confirmedScenario()
	booking.Status = enums.BookingStatusPending
	f := newFixture(t, newStubDisputeRepo(), newStubBookingRepo(booking), newStubLedgerRepo(),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{unit.ID: unit}}, &stubGateway{})

	_, err := f.svc.Create(context.Background(), CreateInput{
		RenterID:  booking.RenterID,
		BookingID: booking.ID,
		Reason:    "no hot water",
	})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestCreateSecondDisputeOnSameBooking(t *testing.T) {
	unit, booking, _ := confirmedScenario()
	existing := &models.Dispute{ID: uuid.New(), BookingID: booking.ID, RenterID: booking.RenterID, Status: enums.DisputeStatusPendingReview}
	f := newFixture(t, newStubDisputeRepo(existing), newStubBookingRepo(booking), newStubLedgerRepo(),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{unit.ID: unit}}, &stubGateway{})

	_, err := f.svc.Create(context.Background(), CreateInput{
		RenterID:  booking.RenterID,
		BookingID: booking.ID,
		Reason:    "second claim",
	})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestResolveRequiresAdminRole(t *testing.T) {
	f := newFixture(t, newStubDisputeRepo(), newStubBookingRepo(), newStubLedgerRepo(),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{}}, &stubGateway{})

	_, err := f.svc.Resolve(context.Background(), ResolveInput{
		DisputeID: uuid.New(),
		AdminID:   uuid.New(),
		AdminRole: enums.UserRoleHost,
		Status:    enums.DisputeStatusResolvedDenied,
	})
	requireCode(t, err, pkgerrors.CodeForbidden)
}

func TestResolveRefundAmountAboveDeposit(t *testing.T) {
	unit, booking, deposit := confirmedScenario()
	dispute := &models.Dispute{ID: uuid.New(), BookingID: booking.ID, RenterID: booking.RenterID, Status: enums.DisputeStatusPendingReview}
	f := newFixture(t, newStubDisputeRepo(dispute), newStubBookingRepo(booking), newStubLedgerRepo(deposit),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{unit.ID: unit}}, &stubGateway{})

	_, err := f.svc.Resolve(context.Background(), ResolveInput{
		DisputeID:    dispute.ID,
		AdminID:      uuid.New(),
		AdminRole:    enums.UserRoleAdmin,
		Status:       enums.DisputeStatusResolvedRefund,
		RefundAmount: 1_200_000,
	})
	requireCode(t, err, pkgerrors.CodeInvalidAmount)
	if len(f.disputes.resolved) != 0 {
		t.Fatalf("dispute must not be resolved, got %v", f.disputes.resolved)
	}
	if booking.Status != enums.BookingStatusConfirmed {
		t.Fatalf("booking must be untouched, got %s", booking.Status)
	}
	if len(f.ledger.created) != 0 {
		t.Fatalf("no refund transaction expected, got %d", len(f.ledger.created))
	}
}

func TestResolveRefundCancelsBookingAndSettles(t *testing.T) {
	unit, booking, deposit := confirmedScenario()
	deposit.UpdatedAt = time.Date(2025, 3, 15, 18, 15, 0, 0, time.UTC)
	dispute := &models.Dispute{ID: uuid.New(), BookingID: booking.ID, RenterID: booking.RenterID, Status: enums.DisputeStatusPendingReview}
	f := newFixture(t, newStubDisputeRepo(dispute), newStubBookingRepo(booking), newStubLedgerRepo(deposit),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{unit.ID: unit}}, &stubGateway{})

	result, err := f.svc.Resolve(context.Background(), ResolveInput{
		DisputeID:    dispute.ID,
		AdminID:      uuid.New(),
		AdminRole:    enums.UserRoleAdmin,
		Status:       enums.DisputeStatusResolvedRefund,
		Note:         "evidence supports the claim",
		RefundAmount: 500_000,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Dispute.Status != enums.DisputeStatusResolvedRefund {
		t.Fatalf("expected resolved refund, got %s", result.Dispute.Status)
	}
	if booking.Status != enums.BookingStatusCancelledByHost {
		t.Fatalf("expected cancelled by host, got %s", booking.Status)
	}
	if len(f.bookings.cancelReasons) != 1 || f.bookings.cancelReasons[0] != cancelAfterRefundNote {
		t.Fatalf("unexpected cancel reasons %v", f.bookings.cancelReasons)
	}

	if result.RefundTransaction == nil {
		t.Fatal("expected a refund transaction")
	}
	refund := result.RefundTransaction
	if refund.Type != enums.TransactionTypeRefund || refund.Amount != 500_000 {
		t.Fatalf("unexpected refund transaction %+v", refund)
	}
	if refund.Status != enums.TransactionStatusRefunded {
		t.Fatalf("expected refunded after gateway success, got %s", refund.Status)
	}

	if len(f.gateway.refundCalls) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(f.gateway.refundCalls))
	}
	call := f.gateway.refundCalls[0]
	if call.OrderRef != deposit.GatewayOrderRef {
		t.Fatalf("refund must reference the deposit order ref, got %s", call.OrderRef)
	}
	if call.TransactionNo != *deposit.GatewayTransactionNo {
		t.Fatalf("refund must carry the gateway transaction no, got %s", call.TransactionNo)
	}
	if call.Amount != 500_000 {
		t.Fatalf("unexpected refund amount %d", call.Amount)
	}
	if call.TransactionDate != "20250316011500" {
		t.Fatalf("settlement time must be on the gateway's wall clock, got %s", call.TransactionDate)
	}

	if result.Refund == nil || !result.Refund.Settled {
		t.Fatalf("expected settled refund outcome, got %+v", result.Refund)
	}
	if len(f.notifier.sent) != 2 {
		t.Fatalf("expected renter and host notifications, got %d", len(f.notifier.sent))
	}
}

func TestResolveDeniedLeavesBookingUntouched(t *testing.T) {
	unit, booking, deposit := confirmedScenario()
	dispute := &models.Dispute{ID: uuid.New(), BookingID: booking.ID, RenterID: booking.RenterID, Status: enums.DisputeStatusPendingReview}
	f := newFixture(t, newStubDisputeRepo(dispute), newStubBookingRepo(booking), newStubLedgerRepo(deposit),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{unit.ID: unit}}, &stubGateway{})

	result, err := f.svc.Resolve(context.Background(), ResolveInput{
		DisputeID: dispute.ID,
		AdminID:   uuid.New(),
		AdminRole: enums.UserRoleAdmin,
		Status:    enums.DisputeStatusResolvedDenied,
		Note:      "evidence does not support the claim",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Dispute.Status != enums.DisputeStatusResolvedDenied {
		t.Fatalf("expected resolved denied, got %s", result.Dispute.Status)
	}
	if booking.Status != enums.BookingStatusConfirmed {
		t.Fatalf("booking must be untouched, got %s", booking.Status)
	}
	if result.RefundTransaction != nil || len(f.ledger.created) != 0 {
		t.Fatal("denied resolution must not create a transaction")
	}
	if len(f.gateway.refundCalls) != 0 {
		t.Fatal("denied resolution must not call the gateway")
	}
	if len(f.notifier.sent) != 2 {
		t.Fatalf("expected renter and host notifications, got %d", len(f.notifier.sent))
	}
}

func TestResolveAlreadyResolved(t *testing.T) {
	unit, booking, _ := confirmedScenario()
	dispute := &models.Dispute{ID: uuid.New(), BookingID: booking.ID, RenterID: booking.RenterID, Status: enums.DisputeStatusResolvedDenied}
	f := newFixture(t, newStubDisputeRepo(dispute), newStubBookingRepo(booking), newStubLedgerRepo(),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{unit.ID: unit}}, &stubGateway{})

	_, err := f.svc.Resolve(context.Background(), ResolveInput{
		DisputeID: dispute.ID,
		AdminID:   uuid.New(),
		AdminRole: enums.UserRoleAdmin,
		Status:    enums.DisputeStatusResolvedDenied,
	})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestResolveRefundGatewayRejection(t *testing.T) {
	unit, booking, deposit := confirmedScenario()
	dispute := &models.Dispute{ID: uuid.New(), BookingID: booking.ID, RenterID: booking.RenterID, Status: enums.DisputeStatusPendingReview}
	gateway := &stubGateway{
		refundResult: &vnpay.RefundResult{Code: "94", Message: vnpay.RefundMessage("94")},
		refundErr:    pkgerrors.New(pkgerrors.CodeGatewayBusiness, "gateway rejected refund"),
	}
	f := newFixture(t, newStubDisputeRepo(dispute), newStubBookingRepo(booking), newStubLedgerRepo(deposit),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{unit.ID: unit}}, gateway)

	result, err := f.svc.Resolve(context.Background(), ResolveInput{
		DisputeID:    dispute.ID,
		AdminID:      uuid.New(),
		AdminRole:    enums.UserRoleAdmin,
		Status:       enums.DisputeStatusResolvedRefund,
		RefundAmount: 500_000,
	})
	if err != nil {
		t.Fatalf("resolution must survive a gateway rejection: %v", err)
	}
	if result.Dispute.Status != enums.DisputeStatusResolvedRefund {
		t.Fatalf("expected resolved refund, got %s", result.Dispute.Status)
	}
	if result.RefundTransaction.Status != enums.TransactionStatusFailed {
		t.Fatalf("expected failed refund transaction, got %s", result.RefundTransaction.Status)
	}
	if result.Refund == nil || result.Refund.Settled || result.Refund.Code != "94" {
		t.Fatalf("unexpected refund outcome %+v", result.Refund)
	}
}

func TestResolveRefundGatewayUnreachable(t *testing.T) {
	unit, booking, deposit := confirmedScenario()
	dispute := &models.Dispute{ID: uuid.New(), BookingID: booking.ID, RenterID: booking.RenterID, Status: enums.DisputeStatusPendingReview}
	gateway := &stubGateway{refundErr: pkgerrors.New(pkgerrors.CodeGatewayTransport, "gateway unreachable")}
	f := newFixture(t, newStubDisputeRepo(dispute), newStubBookingRepo(booking), newStubLedgerRepo(deposit),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{unit.ID: unit}}, gateway)

	result, err := f.svc.Resolve(context.Background(), ResolveInput{
		DisputeID:    dispute.ID,
		AdminID:      uuid.New(),
		AdminRole:    enums.UserRoleAdmin,
		Status:       enums.DisputeStatusResolvedRefund,
		RefundAmount: 500_000,
	})
	if err != nil {
		t.Fatalf("resolution must survive a transport failure: %v", err)
	}
	if result.RefundTransaction.Status != enums.TransactionStatusPending {
		t.Fatalf("refund transaction must stay pending, got %s", result.RefundTransaction.Status)
	}
	if result.Refund == nil || result.Refund.Settled || !result.Refund.Attempted {
		t.Fatalf("unexpected refund outcome %+v", result.Refund)
	}
}

func TestRetryRefundSettlesPendingRefund(t *testing.T) {
	unit, booking, deposit := confirmedScenario()
	dispute := &models.Dispute{ID: uuid.New(), BookingID: booking.ID, RenterID: booking.RenterID, Status: enums.DisputeStatusResolvedRefund, RefundAmount: 500_000}
	refund := &models.Transaction{
		ID:              uuid.New(),
		BookingID:       booking.ID,
		UserID:          booking.RenterID,
		Amount:          500_000,
		Type:            enums.TransactionTypeRefund,
		Status:          enums.TransactionStatusPending,
		GatewayOrderRef: "RFa1b2c3d4_1700000100",
	}
	f := newFixture(t, newStubDisputeRepo(dispute), newStubBookingRepo(booking), newStubLedgerRepo(deposit, refund),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{unit.ID: unit}}, &stubGateway{})

	outcome, err := f.svc.RetryRefund(context.Background(), RetryRefundInput{
		DisputeID: dispute.ID,
		AdminID:   uuid.New(),
		AdminRole: enums.UserRoleAdmin,
	})
	if err != nil {
		t.Fatalf("retry refund: %v", err)
	}
	if !outcome.Settled {
		t.Fatalf("expected settled outcome, got %+v", outcome)
	}
	if refund.Status != enums.TransactionStatusRefunded {
		t.Fatalf("expected refunded, got %s", refund.Status)
	}
	if len(f.gateway.refundCalls) != 1 || f.gateway.refundCalls[0].OrderRef != deposit.GatewayOrderRef {
		t.Fatalf("unexpected gateway calls %+v", f.gateway.refundCalls)
	}
}

func TestRetryRefundAlreadySettled(t *testing.T) {
	unit, booking, deposit := confirmedScenario()
	dispute := &models.Dispute{ID: uuid.New(), BookingID: booking.ID, RenterID: booking.RenterID, Status: enums.DisputeStatusResolvedRefund, RefundAmount: 500_000}
	refund := &models.Transaction{
		ID:              uuid.New(),
		BookingID:       booking.ID,
		Amount:          500_000,
		Type:            enums.TransactionTypeRefund,
		Status:          enums.TransactionStatusRefunded,
		GatewayOrderRef: "RFa1b2c3d4_1700000100",
	}
	f := newFixture(t, newStubDisputeRepo(dispute), newStubBookingRepo(booking), newStubLedgerRepo(deposit, refund),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{unit.ID: unit}}, &stubGateway{})

	_, err := f.svc.RetryRefund(context.Background(), RetryRefundInput{
		DisputeID: dispute.ID,
		AdminID:   uuid.New(),
		AdminRole: enums.UserRoleAdmin,
	})
	requireCode(t, err, pkgerrors.CodeStateConflict)
	if len(f.gateway.refundCalls) != 0 {
		t.Fatal("gateway must not be called for a settled refund")
	}
}

func TestRetryRefundNotARefundResolution(t *testing.T) {
	unit, booking, _ := confirmedScenario()
	dispute := &models.Dispute{ID: uuid.New(), BookingID: booking.ID, RenterID: booking.RenterID, Status: enums.DisputeStatusResolvedDenied}
	f := newFixture(t, newStubDisputeRepo(dispute), newStubBookingRepo(booking), newStubLedgerRepo(),
		&stubUnitsRepo{units: map[uuid.UUID]*models.Unit{unit.ID: unit}}, &stubGateway{})

	_, err := f.svc.RetryRefund(context.Background(), RetryRefundInput{
		DisputeID: dispute.ID,
		AdminID:   uuid.New(),
		AdminRole: enums.UserRoleAdmin,
	})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}
