package payments

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/loc-ne/roomstay-backend/internal/transactions"
	"github.com/loc-ne/roomstay-backend/pkg/db/models"
	"github.com/loc-ne/roomstay-backend/pkg/enums"
	pkgerrors "github.com/loc-ne/roomstay-backend/pkg/errors"
	"github.com/loc-ne/roomstay-backend/pkg/logger"
	"github.com/loc-ne/roomstay-backend/pkg/vnpay"
)

// IPN response vocabulary the gateway expects. Any other body makes it retry.
var (
	ipnConfirmSuccess   = IPNResponse{RspCode: "00", Message: "Confirm Success"}
	ipnOrderNotFound    = IPNResponse{RspCode: "01", Message: "Order not found"}
	ipnAlreadyConfirmed = IPNResponse{RspCode: "02", Message: "Order already confirmed"}
	ipnInvalidChecksum  = IPNResponse{RspCode: "97", Message: "Invalid Checksum"}
)

// Service orchestrates payment URL creation and gateway callbacks.
type Service interface {
	CreatePaymentURL(ctx context.Context, in CreateURLInput) (*CreateURLResult, error)
	HandleReturn(ctx context.Context, params url.Values) (*ReturnResult, error)
	HandleIPN(ctx context.Context, params url.Values) IPNResponse
}

// bookingFinder is the read-only slice of the booking store the orchestrator needs.
type bookingFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
}

type service struct {
	gateway  vnpay.Client
	ledger   transactions.Service
	bookings bookingFinder
	logg     *logger.Logger
	now      func() time.Time
}

// CreateURLInput carries the renter's request for a gateway redirect.
type CreateURLInput struct {
	UserID    uuid.UUID
	BookingID uuid.UUID
	Amount    int64
	BankCode  string
	Locale    string
	ClientIP  string
}

// CreateURLResult returns the gateway redirect and its correlating order ref.
type CreateURLResult struct {
	PaymentURL string `json:"payment_url"`
	OrderRef   string `json:"order_ref"`
}

// ReturnResult summarizes a verified return-redirect for the payer-facing page.
type ReturnResult struct {
	Success  bool   `json:"success"`
	OrderRef string `json:"order_ref"`
	Message  string `json:"message"`
}

// IPNResponse is the fixed-vocabulary body the gateway webhook expects.
type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// NewService wires orchestrator dependencies.
func NewService(gateway vnpay.Client, ledger transactions.Service, bookingRepo bookingFinder, logg *logger.Logger) (Service, error) {
	if gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway client required")
	}
	if ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction ledger required")
	}
	if bookingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "bookings repository required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		gateway:  gateway,
		ledger:   ledger,
		bookings: bookingRepo,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// CreatePaymentURL records a PENDING deposit transaction and returns the signed
// redirect URL. The amount always equals the booking's snapshotted deposit; a
// mismatching explicit amount is rejected rather than silently corrected.
func (s *service) CreatePaymentURL(ctx context.Context, in CreateURLInput) (*CreateURLResult, error) {
	booking, err := s.bookings.FindByID(ctx, in.BookingID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
	}
	if booking == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
	}
	if booking.RenterID != in.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "booking belongs to another renter")
	}
	if booking.Status != enums.BookingStatusApproved {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("booking is %s, only approved bookings can be paid", booking.Status))
	}
	if in.Amount != 0 && in.Amount != booking.DepositAmount {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount does not match the booking deposit").
			WithDetails(map[string]any{"expected": booking.DepositAmount})
	}

	orderRef := transactions.OrderRef(booking.ID, s.now())
	if _, err := s.ledger.Create(ctx, transactions.CreateInput{
		BookingID:       booking.ID,
		UserID:          booking.RenterID,
		Amount:          booking.DepositAmount,
		GatewayOrderRef: orderRef,
		Description:     fmt.Sprintf("Deposit for booking %s", booking.ID),
	}); err != nil {
		return nil, err
	}

	paymentURL, err := s.gateway.CreatePaymentURL(ctx, vnpay.PaymentURLInput{
		Amount:    booking.DepositAmount,
		OrderRef:  orderRef,
		OrderInfo: fmt.Sprintf("Thanh toan dat coc phong %s", booking.UnitID),
		BankCode:  in.BankCode,
		Locale:    in.Locale,
		ClientIP:  in.ClientIP,
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"booking_id": booking.ID.String(), "order_ref": orderRef})
	s.logg.Info(ctx, "payment url created")
	return &CreateURLResult{PaymentURL: paymentURL, OrderRef: orderRef}, nil
}

// HandleReturn processes the browser redirect. An invalid signature is dropped
// with a signature error so the payer page shows nothing trustworthy; it never
// mutates state.
func (s *service) HandleReturn(ctx context.Context, params url.Values) (*ReturnResult, error) {
	if !s.gateway.VerifySignature(params) {
		s.logg.Warn(ctx, "return redirect failed signature verification")
		return nil, pkgerrors.New(pkgerrors.CodeGatewaySignature, "callback signature invalid")
	}

	orderRef := params.Get("vnp_TxnRef")
	responseCode := params.Get("vnp_ResponseCode")
	ctx = s.logg.WithFields(ctx, map[string]any{"order_ref": orderRef, "response_code": responseCode})

	if responseCode != vnpay.ResponseCodeSuccess {
		applied, err := s.ledger.UpdateStatusByOrderRef(ctx, orderRef, enums.TransactionStatusFailed)
		if err != nil {
			return nil, err
		}
		if !applied {
			s.logg.Warn(ctx, "declined redirect ignored for settled transaction")
			return &ReturnResult{Success: true, OrderRef: orderRef, Message: "payment completed"}, nil
		}
		s.logg.Info(ctx, "payment declined by gateway")
		return &ReturnResult{OrderRef: orderRef, Message: "payment was not completed"}, nil
	}

	if _, err := s.ledger.RecordSuccess(ctx, orderRef, params.Get("vnp_TransactionNo")); err != nil {
		return nil, err
	}
	s.logg.Info(ctx, "payment confirmed via return redirect")
	return &ReturnResult{Success: true, OrderRef: orderRef, Message: "payment completed"}, nil
}

// HandleIPN processes the webhook. Errors are folded into the gateway's fixed
// response vocabulary; nothing else is surfaced to the caller.
func (s *service) HandleIPN(ctx context.Context, params url.Values) IPNResponse {
	if !s.gateway.VerifySignature(params) {
		s.logg.Warn(ctx, "ipn failed signature verification")
		return ipnInvalidChecksum
	}

	orderRef := params.Get("vnp_TxnRef")
	responseCode := params.Get("vnp_ResponseCode")
	ctx = s.logg.WithFields(ctx, map[string]any{"order_ref": orderRef, "response_code": responseCode})

	if responseCode != vnpay.ResponseCodeSuccess {
		applied, err := s.ledger.UpdateStatusByOrderRef(ctx, orderRef, enums.TransactionStatusFailed)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
				return ipnOrderNotFound
			}
			s.logg.Error(ctx, "ipn failed to record declined payment", err)
			return ipnOrderNotFound
		}
		if !applied {
			s.logg.Warn(ctx, "declined ipn ignored for settled transaction")
			return ipnAlreadyConfirmed
		}
		s.logg.Info(ctx, "ipn recorded declined payment")
		return ipnConfirmSuccess
	}

	result, err := s.ledger.RecordSuccess(ctx, orderRef, params.Get("vnp_TransactionNo"))
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			return ipnOrderNotFound
		}
		s.logg.Error(ctx, "ipn failed to record successful payment", err)
		return ipnOrderNotFound
	}
	if result.AlreadyProcessed {
		return ipnAlreadyConfirmed
	}

	s.logg.Info(ctx, "ipn confirmed payment")
	return ipnConfirmSuccess
}
